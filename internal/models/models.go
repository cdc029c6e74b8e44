package models

// CountItem is one row of a grouped count.
type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// SumItem is one row of a grouped sum.
type SumItem struct {
	Key string  `json:"key"`
	Sum float64 `json:"sum"`
}

// SeriesPoint is one year of a time series.
type SeriesPoint struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// SummaryKind tells the renderer which field of a Summary is populated.
type SummaryKind string

const (
	KindCount      SummaryKind = "count"
	KindSum        SummaryKind = "sum"
	KindMean       SummaryKind = "mean"
	KindGroupCount SummaryKind = "group_count"
	KindGroupSum   SummaryKind = "group_sum"
	KindTopN       SummaryKind = "top_n"
	KindSeries     SummaryKind = "series"
)

// Summary is one derived view of a filtered table.
type Summary struct {
	Kind   SummaryKind   `json:"kind"`
	Title  string        `json:"title,omitempty"`
	Value  float64       `json:"value"`
	Counts []CountItem   `json:"counts"`
	Sums   []SumItem     `json:"sums"`
	Series []SeriesPoint `json:"series"`
}

// Options are the domains of the filter controls.
type Options struct {
	MinYear     int      `json:"min_year"`
	MaxYear     int      `json:"max_year"`
	Countries   []string `json:"countries"`
	Industries  []string `json:"industries"`
	AttackTypes []string `json:"attack_types"`
}

// Selection is the raw state of the filter controls. A nil list leaves the
// column unconstrained; an empty list selects nothing.
type Selection struct {
	YearFrom    *int     `json:"year_from,omitempty" validate:"omitempty,gte=1900,lte=2200"`
	YearTo      *int     `json:"year_to,omitempty" validate:"omitempty,gte=1900,lte=2200"`
	Countries   []string `json:"countries" validate:"omitempty,dive,max=128"`
	Industries  []string `json:"industries" validate:"omitempty,dive,max=128"`
	AttackTypes []string `json:"attack_types" validate:"omitempty,dive,max=128"`
}

// ViewRequest selects the dashboard page.
type ViewRequest struct {
	Name    string `json:"name" validate:"omitempty,oneof=overview drilldown"`
	Country string `json:"country,omitempty" validate:"max=128"`
}

// DashboardRequest is the body of POST /api/dashboard and friends.
type DashboardRequest struct {
	Selection Selection   `json:"selection"`
	View      ViewRequest `json:"view"`
}

// DashboardResponse is a published bundle as seen by the renderer.
type DashboardResponse struct {
	View         string             `json:"view"`
	Country      string             `json:"country,omitempty"`
	Predicates   string             `json:"predicates"`
	Empty        bool               `json:"empty"`
	RowCount     int                `json:"row_count"`
	KPIs         map[string]Summary `json:"kpis"`
	Charts       map[string]Summary `json:"charts"`
	Preview      any                `json:"preview"`
	PreviewTotal int                `json:"preview_total"`
}

// Page is a window over a longer list.
type Page struct {
	Data   any `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SeverityRequest carries the features of one incident for prediction.
type SeverityRequest struct {
	Country           string  `json:"country" validate:"required"`
	Year              int     `json:"year" validate:"required,gte=1900,lte=2200"`
	AttackType        string  `json:"attack_type" validate:"required"`
	TargetIndustry    string  `json:"target_industry" validate:"required"`
	FinancialLoss     float64 `json:"financial_loss_musd" validate:"gte=0"`
	AffectedUsers     int64   `json:"affected_users" validate:"gte=0"`
	AttackSource      string  `json:"attack_source"`
	VulnerabilityType string  `json:"vulnerability_type"`
	DefenseMechanism  string  `json:"defense_mechanism"`
	ResolutionTime    float64 `json:"resolution_time_hours" validate:"gte=0"`
}

// SeverityResponse is the predicted label with its score.
type SeverityResponse struct {
	Severity  string  `json:"severity"`
	RiskScore float64 `json:"risk_score"`
}
