package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyberdash/internal/engine"
	"cyberdash/internal/models"
)

func fixtureStore() *engine.ColumnStore {
	return engine.NewStore([]engine.Record{
		{Country: "USA", Year: 2020, AttackType: "Phishing", TargetIndustry: "Banking", FinancialLoss: 120, AffectedUsers: 10000, AttackSource: "Insider", VulnerabilityType: "Zero-day", DefenseMechanism: "VPN", ResolutionTime: 4},
		{Country: "USA", Year: 2021, AttackType: "Ransomware", TargetIndustry: "Healthcare", FinancialLoss: 80, AffectedUsers: 20000, AttackSource: "Hacker Group", VulnerabilityType: "Weak Passwords", DefenseMechanism: "Firewall", ResolutionTime: 8},
		{Country: "France", Year: 2020, AttackType: "Phishing", TargetIndustry: "Banking", FinancialLoss: 50, AffectedUsers: 30000, AttackSource: "Insider", VulnerabilityType: "Zero-day", DefenseMechanism: "VPN", ResolutionTime: 12},
		{Country: "India", Year: 2023, AttackType: "DDoS", TargetIndustry: "IT", FinancialLoss: 5, AffectedUsers: 40000, AttackSource: "Unknown", VulnerabilityType: "Misconfiguration", DefenseMechanism: "Antivirus", ResolutionTime: 16},
	})
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T, opts ...Option) (*echo.Echo, *Handler) {
	t.Helper()
	e := echo.New()
	Configure(e, quietLogger())
	h := NewHandler(append([]Option{WithLogger(quietLogger())}, opts...)...)
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUnavailableUntilLoaded(t *testing.T) {
	e, h := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/options", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decode[APIError](t, rec).ErrorCode)

	health := decode[map[string]any](t, do(e, http.MethodGet, "/healthz", ""))
	assert.Equal(t, false, health["loaded"])

	h.SetTable(fixtureStore())
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/options", "").Code)
}

func TestGetOptions(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	opts := decode[models.Options](t, do(e, http.MethodGet, "/api/options", ""))
	assert.Equal(t, 2020, opts.MinYear)
	assert.Equal(t, 2023, opts.MaxYear)
	assert.Equal(t, []string{"France", "India", "USA"}, opts.Countries)
	assert.Equal(t, []string{"Banking", "Healthcare", "IT"}, opts.Industries)
	assert.Equal(t, []string{"DDoS", "Phishing", "Ransomware"}, opts.AttackTypes)
}

func TestPostDashboard(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	rec := do(e, http.MethodPost, "/api/dashboard", `{"selection":{"countries":["USA"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.DashboardResponse](t, rec)

	assert.Equal(t, "overview", resp.View)
	assert.False(t, resp.Empty)
	assert.Equal(t, 2, resp.RowCount)
	assert.Equal(t, 2.0, resp.KPIs["total_incidents"].Value)
	assert.Equal(t, 200.0, resp.KPIs["total_financial_loss"].Value)
	assert.Contains(t, resp.Predicates, `country=["USA"]`)
	assert.Len(t, resp.Preview, 2)

	series := resp.Charts["yearly_incidents"].Series
	require.Len(t, series, 4)
	assert.Equal(t, models.SeriesPoint{Year: 2022, Value: 0}, series[2])
}

func TestPostDashboardEmptySelection(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	resp := decode[models.DashboardResponse](t, do(e, http.MethodPost, "/api/dashboard", `{"selection":{"countries":[]}}`))
	assert.True(t, resp.Empty)
	assert.Equal(t, 0, resp.RowCount)
	assert.Equal(t, 0.0, resp.KPIs["total_financial_loss"].Value)
}

func TestPostDashboardEmptyGroupsSerializeAsLists(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	rec := do(e, http.MethodPost, "/api/dashboard", `{"selection":{"countries":[]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Charts map[string]map[string]json.RawMessage `json:"charts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, `[]`, string(raw.Charts["incidents_by_country"]["counts"]))
	assert.JSONEq(t, `[]`, string(raw.Charts["top_countries"]["counts"]))
	assert.JSONEq(t, `[]`, string(raw.Charts["loss_by_industry"]["sums"]))
}

func TestPostDashboardDrilldown(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	body := `{"selection":{"year_from":2020,"year_to":2020},"view":{"name":"drilldown","country":"USA"}}`
	resp := decode[models.DashboardResponse](t, do(e, http.MethodPost, "/api/dashboard", body))
	assert.Equal(t, "drilldown", resp.View)
	assert.Equal(t, "USA", resp.Country)
	assert.Equal(t, 1.0, resp.KPIs["incidents"].Value)
	assert.Equal(t, 120.0, resp.KPIs["total_financial_loss"].Value)
}

type countingCache struct {
	*MemoryCache
	gets, hits, sets int
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	b, ok, err := c.MemoryCache.Get(ctx, key)
	if ok {
		c.hits++
	}
	return b, ok, err
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte) error {
	c.sets++
	return c.MemoryCache.Set(ctx, key, value)
}

func TestPostDashboardResponseCache(t *testing.T) {
	cache := &countingCache{MemoryCache: NewMemoryCache(16, time.Minute)}
	e, h := newTestServer(t, WithResponseCache(cache))
	h.SetTable(fixtureStore())

	first := do(e, http.MethodPost, "/api/dashboard", `{"selection":{"countries":["USA","France","India"]}}`)
	// Equivalent to the first request once normalized.
	second := do(e, http.MethodPost, "/api/dashboard", `{"selection":{}}`)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 2, cache.gets)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.sets)

	// A reload changes the generation, so the old entry is not reused.
	h.SetTable(fixtureStore())
	do(e, http.MethodPost, "/api/dashboard", `{"selection":{}}`)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 2, cache.sets)
}

func TestPostDashboardValidation(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	rec := do(e, http.MethodPost, "/api/dashboard", `{"view":{"name":"bogus"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[APIError](t, rec)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
	assert.NotNil(t, apiErr.Details)

	rec = do(e, http.MethodPost, "/api/dashboard", `{"selection":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[APIError](t, rec).ErrorCode)
}

func TestPostIncidentsPaginates(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	rec := do(e, http.MethodPost, "/api/incidents?limit=1&offset=1", `{"countries":["USA"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data   []engine.Record `json:"data"`
		Total  int             `json:"total"`
		Limit  int             `json:"limit"`
		Offset int             `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 2021, page.Data[0].Year)

	rec = do(e, http.MethodPost, "/api/incidents?offset=10", `{}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Data)
	assert.Equal(t, 4, page.Total)
}

func TestPostExport(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	rec := do(e, http.MethodPost, "/api/export?format=csv", `{"attack_types":["Phishing"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "incidents.csv")
	recs, err := engine.ReadCSV(rec.Body, "download.csv")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	rec = do(e, http.MethodPost, "/api/export?format=arrow", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rdr, err := ipc.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer rdr.Release()
	require.True(t, rdr.Next())
	assert.Equal(t, int64(4), rdr.Record().NumRows())

	rec = do(e, http.MethodPost, "/api/export?format=parquet", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostSeverity(t *testing.T) {
	e, h := newTestServer(t)
	h.SetTable(fixtureStore())

	body := `{"country":"USA","year":2024,"attack_type":"Ransomware","target_industry":"Banking",
		"financial_loss_musd":120,"affected_users":40000,"vulnerability_type":"Zero-day","resolution_time_hours":16}`
	rec := do(e, http.MethodPost, "/api/severity", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.SeverityResponse](t, rec)
	assert.Equal(t, "High", resp.Severity)
	assert.Greater(t, resp.RiskScore, 0.9)

	rec = do(e, http.MethodPost, "/api/severity", `{"country":"USA"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload(t *testing.T) {
	var fail bool
	loader := func(context.Context) (*engine.ColumnStore, error) {
		if fail {
			return nil, &engine.LoadError{Source: "x.csv", Err: errors.New("boom")}
		}
		return fixtureStore(), nil
	}
	e, _ := newTestServer(t, WithLoader(loader))

	rec := do(e, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[map[string]any](t, rec)
	assert.EqualValues(t, 4, first["rows"])

	rec = do(e, http.MethodPost, "/api/reload", "")
	second := decode[map[string]any](t, rec)
	assert.NotEqual(t, first["generation"], second["generation"])

	fail = true
	rec = do(e, http.MethodPost, "/api/reload", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "LOAD_FAILED", decode[APIError](t, rec).ErrorCode)

	// The previous table stays in service.
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/options", "").Code)
}

func TestLoadTableLeavesLoggingToCaller(t *testing.T) {
	var buf bytes.Buffer
	loader := func(context.Context) (*engine.ColumnStore, error) {
		return nil, &engine.LoadError{Source: "x.csv", Err: errors.New("boom")}
	}
	_, h := newTestServer(t, WithLoader(loader), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	err := h.LoadTable(context.Background())
	require.Error(t, err)
	assert.NotContains(t, buf.String(), "level=ERROR")
	assert.NotContains(t, buf.String(), "boom")
}

func TestReloadWithoutLoader(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodPost, "/api/reload", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSetTablePurgesFilterCache(t *testing.T) {
	fc, err := engine.NewFilterCache(8)
	require.NoError(t, err)
	e, h := newTestServer(t, WithFilterCache(fc))
	h.SetTable(fixtureStore())

	do(e, http.MethodPost, "/api/incidents", `{"countries":["USA"]}`)
	assert.Equal(t, 1, fc.Len())

	h.SetTable(fixtureStore())
	assert.Equal(t, 0, fc.Len())
}

func TestGetPaginationParams(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=-3&offset=x", nil), httptest.NewRecorder())
	limit, offset := getPaginationParams(c, 25)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 0, offset)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=5&offset=10", nil), httptest.NewRecorder())
	limit, offset = getPaginationParams(c, 25)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)
}
