package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cyberdash/internal/engine"
	"cyberdash/internal/models"
)

// DefaultTopN is the length of the ranking charts.
const DefaultTopN = 10

// Bundle is everything the renderer needs for one recompute. All of its
// summaries are derived from FilteredPreview, which is derived from the
// source table and Predicates.
type Bundle struct {
	View            View
	Predicates      engine.PredicateSet
	KPIs            map[string]models.Summary
	Charts          map[string]models.Summary
	FilteredPreview engine.Table
	// Empty is set when the filter matched no rows; the renderer shows a
	// "no data for current filter" state instead of empty charts.
	Empty      bool
	ComputedAt time.Time
}

// Publisher delivers bundles to the rendering layer.
type Publisher interface {
	Publish(ctx context.Context, b *Bundle) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, b *Bundle) error

func (f PublisherFunc) Publish(ctx context.Context, b *Bundle) error { return f(ctx, b) }

// Observer receives one call per recompute cycle.
type Observer interface {
	ObserveCycle(view string, rows int, took time.Duration)
}

// Option configures a Session.
type Option func(*Session)

// WithFilter replaces the filter engine, e.g. with an engine.FilterCache.
func WithFilter(f engine.Filter) Option {
	return func(s *Session) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithPublisher sets where bundles go after every cycle.
func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithTopN sets the ranking length.
func WithTopN(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.topN = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithView sets the initial page.
func WithView(v View) Option {
	return func(s *Session) { s.view = v }
}

// WithPredicates sets the initial predicate set without running a cycle.
func WithPredicates(p engine.PredicateSet) Option {
	return func(s *Session) { s.current = p }
}

// Session holds the filter state of one interactive client. It is driven
// by a single writer: callers must not invoke its methods concurrently.
type Session struct {
	id        string
	source    engine.Table
	filter    engine.Filter
	publisher Publisher
	observer  Observer
	topN      int
	logger    *slog.Logger

	current engine.PredicateSet
	view    View
}

// NewSession starts a session over source with no filters on the
// overview page.
func NewSession(source engine.Table, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		source: source,
		filter: engine.FilterFunc(engine.Apply),
		topN:   DefaultTopN,
		logger: slog.Default(),
		view:   View{Name: Overview},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))
	return s
}

func (s *Session) ID() string { return s.id }

// Predicates returns the current predicate set.
func (s *Session) Predicates() engine.PredicateSet { return s.current }

// View returns the active page as requested by the client.
func (s *Session) View() View { return s.view }

// Update replaces the predicate set and runs one recompute-and-publish
// cycle.
func (s *Session) Update(ctx context.Context, p engine.PredicateSet) (*Bundle, error) {
	s.current = p
	return s.Refresh(ctx)
}

// Select builds the predicate set from raw control values and updates.
func (s *Session) Select(ctx context.Context, sel models.Selection) (*Bundle, error) {
	return s.Update(ctx, PredicatesFrom(sel, s.source))
}

// SetView switches page and recomputes under the current predicate set.
func (s *Session) SetView(ctx context.Context, v View) (*Bundle, error) {
	s.view = v
	return s.Refresh(ctx)
}

// Refresh recomputes the bundle for the current state and publishes it.
func (s *Session) Refresh(ctx context.Context) (*Bundle, error) {
	start := time.Now()
	b := Compute(s.source, s.filter, s.current, s.view, s.topN)
	took := time.Since(start)

	if s.observer != nil {
		s.observer.ObserveCycle(string(b.View.Name), b.FilteredPreview.Len(), took)
	}
	s.logger.Debug("recomputed",
		slog.String("view", string(b.View.Name)),
		slog.String("predicates", b.Predicates.Key()),
		slog.Int("rows", b.FilteredPreview.Len()),
		slog.Duration("took", took))

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, b); err != nil {
			return b, err
		}
	}
	return b, nil
}

// Compute filters source by p and derives every summary of view v from
// that single filtered table. It never fails; an empty match yields a
// bundle with zero-valued summaries and Empty set.
func Compute(source engine.Table, filter engine.Filter, p engine.PredicateSet, v View, topN int) *Bundle {
	if filter == nil {
		filter = engine.FilterFunc(engine.Apply)
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	filtered := filter.Apply(source, p)

	b := &Bundle{View: v, Predicates: p, ComputedAt: time.Now()}
	switch v.Name {
	case Drilldown:
		country := v.Country
		if country == "" {
			if countries := engine.UniqueValues(filtered, engine.Country); len(countries) > 0 {
				country = countries[0]
			}
		}
		// The country subset is taken from the source under the narrowed
		// predicate set, not from filtered, so it can never drift from it.
		narrowed := p.Restrict(engine.Country, country)
		subset := filter.Apply(source, narrowed)
		b.View = View{Name: Drilldown, Country: country}
		b.Predicates = narrowed
		b.KPIs, b.Charts = drilldown(subset)
		b.FilteredPreview = subset
	default:
		b.View = View{Name: Overview}
		b.KPIs, b.Charts = overview(filtered, topN)
		b.FilteredPreview = filtered
	}
	b.Empty = b.FilteredPreview.Len() == 0
	return b
}

// PredicatesFrom converts raw control values into a predicate set. A
// missing year bound is taken from the source table, widened so the bound
// the client sent is kept as given; nil lists leave a column unconstrained
// while empty lists select nothing.
func PredicatesFrom(sel models.Selection, source engine.Table) engine.PredicateSet {
	years := engine.AllYears()
	lo, hi, _ := source.YearBounds()
	switch {
	case sel.YearFrom != nil && sel.YearTo != nil:
		years = engine.YearsBetween(*sel.YearFrom, *sel.YearTo)
	case sel.YearFrom != nil:
		years = engine.YearsBetween(*sel.YearFrom, max(hi, *sel.YearFrom))
	case sel.YearTo != nil:
		years = engine.YearsBetween(min(lo, *sel.YearTo), *sel.YearTo)
	}
	membership := func(values []string) engine.Membership {
		if values == nil {
			return engine.Any()
		}
		return engine.OneOf(values...)
	}
	return engine.Build(years,
		membership(sel.Countries),
		membership(sel.Industries),
		membership(sel.AttackTypes))
}
