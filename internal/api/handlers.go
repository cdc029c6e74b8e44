package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"cyberdash/internal/dashboard"
	"cyberdash/internal/engine"
	"cyberdash/internal/export"
	"cyberdash/internal/models"
	"cyberdash/internal/severity"
)

// LoadFunc produces a fresh store, e.g. by calling engine.Load.
type LoadFunc func(ctx context.Context) (*engine.ColumnStore, error)

// Recorder receives operational measurements; *metrics.Metrics satisfies it.
type Recorder interface {
	dashboard.Observer
	ObserveLoad(rows int, err error)
	SessionOpened()
	SessionClosed()
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(string, int, time.Duration) {}
func (nopRecorder) ObserveLoad(int, error)                  {}
func (nopRecorder) SessionOpened()                          {}
func (nopRecorder) SessionClosed()                          {}

// snapshot is the loaded dataset with the model trained on it.
type snapshot struct {
	table engine.Table
	model *severity.Model
}

type Handler struct {
	data    atomic.Pointer[snapshot]
	loading atomic.Bool

	load         LoadFunc
	filter       *engine.FilterCache
	cache        ResponseCache
	recorder     Recorder
	logger       *slog.Logger
	fixedModel   *severity.Model
	origins      []string
	topN         int
	previewLimit int
}

type Option func(*Handler)

// WithLoader sets the source used by Reload.
func WithLoader(fn LoadFunc) Option { return func(h *Handler) { h.load = fn } }

func WithFilterCache(fc *engine.FilterCache) Option { return func(h *Handler) { h.filter = fc } }

func WithResponseCache(rc ResponseCache) Option {
	return func(h *Handler) {
		if rc != nil {
			h.cache = rc
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		if r != nil {
			h.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithModel pins a pre-trained severity model instead of training one on
// every load.
func WithModel(m *severity.Model) Option { return func(h *Handler) { h.fixedModel = m } }

func WithTopN(n int) Option { return func(h *Handler) { h.topN = n } }

func WithPreviewLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.previewLimit = n
		}
	}
}

// NewHandler returns a handler with no data. Every data endpoint answers
// 503 until SetTable or Reload succeeds.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		cache:        noCache{},
		recorder:     nopRecorder{},
		logger:       slog.Default(),
		topN:         dashboard.DefaultTopN,
		previewLimit: 100,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(slog.String("component", "api"))
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	api.POST("/reload", h.Reload)

	data := api.Group("", h.requireData)
	data.GET("/options", h.GetOptions)
	data.POST("/dashboard", h.PostDashboard)
	data.POST("/incidents", h.PostIncidents)
	data.POST("/export", h.PostExport)
	data.POST("/severity", h.PostSeverity)
	data.GET("/ws", h.ServeWS)
}

// SetTable swaps in a new store atomically. Filter memo entries for the
// previous store are dropped.
func (h *Handler) SetTable(store *engine.ColumnStore) {
	t := store.Table()
	model := h.fixedModel
	if model == nil {
		m, err := severity.Train(t)
		if err != nil {
			h.logger.Warn("severity model not trained", slog.Any("error", err))
		}
		model = m
	}
	h.data.Store(&snapshot{table: t, model: model})
	if h.filter != nil {
		h.filter.Purge()
	}
	h.logger.Info("table ready",
		slog.Int("rows", t.Len()),
		slog.Uint64("generation", t.Generation()))
}

// LoadTable runs the loader and installs its result. On failure the
// previous table, if any, stays in service; logging the error is left to
// the caller.
func (h *Handler) LoadTable(ctx context.Context) error {
	if h.load == nil {
		return fmt.Errorf("no loader configured")
	}
	if !h.loading.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	defer h.loading.Store(false)

	store, err := h.load(ctx)
	if err != nil {
		h.recorder.ObserveLoad(0, err)
		return err
	}
	h.recorder.ObserveLoad(store.Len(), nil)
	h.SetTable(store)
	return nil
}

func (h *Handler) current() *snapshot { return h.data.Load() }

func (h *Handler) requireData(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.current() == nil {
			return ErrNotLoaded
		}
		return next(c)
	}
}

func (h *Handler) sessionOptions(opts ...dashboard.Option) []dashboard.Option {
	base := []dashboard.Option{
		dashboard.WithTopN(h.topN),
		dashboard.WithObserver(h.recorder),
		dashboard.WithLogger(h.logger),
	}
	if h.filter != nil {
		base = append(base, dashboard.WithFilter(h.filter))
	}
	return append(base, opts...)
}

func (h *Handler) apply(t engine.Table, p engine.PredicateSet) engine.Table {
	if h.filter != nil {
		return h.filter.Apply(t, p)
	}
	return engine.Apply(t, p)
}

// bind decodes and validates the request body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}

// --- HANDLERS ---
func getPaginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *Handler) Health(c echo.Context) error {
	resp := map[string]any{"status": "ok", "loaded": false}
	if s := h.current(); s != nil {
		resp["loaded"] = true
		resp["rows"] = s.table.Len()
		resp["generation"] = s.table.Generation()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Reload(c echo.Context) error {
	if err := h.LoadTable(c.Request().Context()); err != nil {
		if errors.Is(err, ErrReloadInProgress) {
			return err
		}
		return NewError(http.StatusBadGateway, "LOAD_FAILED", err.Error())
	}
	s := h.current()
	return c.JSON(http.StatusOK, map[string]any{
		"rows":       s.table.Len(),
		"generation": s.table.Generation(),
	})
}

// GetOptions returns the domains of the filter controls.
func (h *Handler) GetOptions(c echo.Context) error {
	t := h.current().table
	minYear, maxYear, _ := t.YearBounds()
	return c.JSON(http.StatusOK, models.Options{
		MinYear:     minYear,
		MaxYear:     maxYear,
		Countries:   engine.UniqueValues(t, engine.Country),
		Industries:  engine.UniqueValues(t, engine.TargetIndustry),
		AttackTypes: engine.UniqueValues(t, engine.AttackType),
	})
}

// PostDashboard runs one recompute cycle for the posted controls and
// returns the bundle.
func (h *Handler) PostDashboard(c echo.Context) error {
	var req models.DashboardRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	t := h.current().table
	view := dashboard.ParseView(req.View.Name, req.View.Country)
	preds := dashboard.PredicatesFrom(req.Selection, t).Normalize(t)

	key := fmt.Sprintf("cyberdash:bundle:%d:%s:%s:%d:%s", t.Generation(), view.Name, view.Country, h.previewLimit, preds.Key())
	if body, ok, err := h.cache.Get(ctx, key); err != nil {
		h.logger.Warn("response cache get failed", slog.Any("error", err))
	} else if ok {
		return c.JSONBlob(http.StatusOK, body)
	}

	sess := dashboard.NewSession(t, h.sessionOptions(dashboard.WithView(view))...)
	b, err := sess.Update(ctx, preds)
	if err != nil {
		return err
	}
	body, err := json.Marshal(toResponse(b, h.previewLimit))
	if err != nil {
		return err
	}
	if err := h.cache.Set(ctx, key, body); err != nil {
		h.logger.Warn("response cache set failed", slog.Any("error", err))
	}
	return c.JSONBlob(http.StatusOK, body)
}

// PostIncidents pages through the filtered rows.
func (h *Handler) PostIncidents(c echo.Context) error {
	var sel models.Selection
	if err := bind(c, &sel); err != nil {
		return err
	}
	t := h.current().table
	filtered := h.apply(t, dashboard.PredicatesFrom(sel, t))
	limit, offset := getPaginationParams(c, h.previewLimit)

	return c.JSON(http.StatusOK, models.Page{
		Data:   filtered.Records(offset, limit),
		Total:  filtered.Len(),
		Limit:  limit,
		Offset: offset,
	})
}

// PostExport streams the filtered rows as a file download.
func (h *Handler) PostExport(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return invalidRequest(err.Error())
	}
	var sel models.Selection
	if err := bind(c, &sel); err != nil {
		return err
	}
	t := h.current().table
	filtered := h.apply(t, dashboard.PredicatesFrom(sel, t))

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, format.ContentType())
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="incidents`+format.Extension()+`"`)
	res.WriteHeader(http.StatusOK)
	if err := export.Write(res, filtered, format); err != nil {
		h.logger.Error("export failed", slog.Any("error", err))
	}
	return nil
}

// PostSeverity scores one incident with the model trained on the full
// table.
func (h *Handler) PostSeverity(c echo.Context) error {
	var req models.SeverityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	model := h.current().model
	if model == nil {
		return ErrNoModel
	}
	rec := engine.Record{
		Country:           req.Country,
		Year:              req.Year,
		AttackType:        req.AttackType,
		TargetIndustry:    req.TargetIndustry,
		FinancialLoss:     req.FinancialLoss,
		AffectedUsers:     req.AffectedUsers,
		AttackSource:      req.AttackSource,
		VulnerabilityType: req.VulnerabilityType,
		DefenseMechanism:  req.DefenseMechanism,
		ResolutionTime:    req.ResolutionTime,
	}
	return c.JSON(http.StatusOK, models.SeverityResponse{
		Severity:  string(model.Predict(rec)),
		RiskScore: model.Score(rec),
	})
}

func toResponse(b *dashboard.Bundle, previewLimit int) models.DashboardResponse {
	return models.DashboardResponse{
		View:         string(b.View.Name),
		Country:      b.View.Country,
		Predicates:   b.Predicates.Key(),
		Empty:        b.Empty,
		RowCount:     b.FilteredPreview.Len(),
		KPIs:         b.KPIs,
		Charts:       b.Charts,
		Preview:      b.FilteredPreview.Records(0, previewLimit),
		PreviewTotal: b.FilteredPreview.Len(),
	}
}
