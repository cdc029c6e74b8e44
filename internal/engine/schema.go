package engine

import "strings"

// Column identifies one field of an incident record.
type Column int

const (
	Country Column = iota
	Year
	AttackType
	TargetIndustry
	FinancialLoss
	AffectedUsers
	AttackSource
	VulnerabilityType
	DefenseMechanism
	ResolutionTime

	numColumns
)

// Kind is the storage type of a column.
type Kind int

const (
	Categorical Kind = iota
	Integer
	Real
)

type columnInfo struct {
	name    string // canonical header in the cleaned dataset
	key     string // snake_case key used by the API
	kind    Kind
	aliases []string
}

var columns = [numColumns]columnInfo{
	Country:           {"Country", "country", Categorical, nil},
	Year:              {"Year", "year", Integer, nil},
	AttackType:        {"Attack Type", "attack_type", Categorical, []string{"Attack_Type"}},
	TargetIndustry:    {"Target Industry", "target_industry", Categorical, []string{"Industry"}},
	FinancialLoss:     {"Financial Loss (in Million $)", "financial_loss_musd", Real, []string{"Financial_Loss"}},
	AffectedUsers:     {"Number of Affected Users", "affected_users", Integer, []string{"Affected_Users"}},
	AttackSource:      {"Attack Source", "attack_source", Categorical, []string{"Attack_Source"}},
	VulnerabilityType: {"Security Vulnerability Type", "vulnerability_type", Categorical, []string{"Vulnerability_Type"}},
	DefenseMechanism:  {"Defense Mechanism Used", "defense_mechanism", Categorical, []string{"Defense_Mechanism"}},
	ResolutionTime:    {"Incident Resolution Time (in Hours)", "resolution_time_hours", Real, []string{"Resolution_Time"}},
}

// Columns lists every column in schema order.
func Columns() []Column {
	out := make([]Column, numColumns)
	for i := range out {
		out[i] = Column(i)
	}
	return out
}

// Header returns the column's canonical header name.
func (c Column) Header() string {
	if !c.valid() {
		return ""
	}
	return columns[c].name
}

// String returns the snake_case key, e.g. "attack_type".
func (c Column) String() string {
	if !c.valid() {
		return "unknown"
	}
	return columns[c].key
}

func (c Column) Kind() Kind {
	if !c.valid() {
		return Categorical
	}
	return columns[c].kind
}

func (c Column) valid() bool { return c >= 0 && c < numColumns }

// ParseColumn resolves an API key, canonical header or known alias.
func ParseColumn(s string) (Column, bool) {
	norm := normalizeHeader(s)
	for i, info := range columns {
		if norm == normalizeHeader(info.key) || norm == normalizeHeader(info.name) {
			return Column(i), true
		}
		for _, a := range info.aliases {
			if norm == normalizeHeader(a) {
				return Column(i), true
			}
		}
	}
	return 0, false
}

// normalizeHeader folds case, spaces and underscores so that
// "Attack Type", "attack_type" and "Attack_Type" compare equal.
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "").Replace(s)
}

// Measure is a numeric column that can be summed.
type Measure int

const (
	LossMeasure Measure = iota
	UsersMeasure
	ResolutionMeasure
)

// Column returns the column backing the measure.
func (m Measure) Column() Column {
	switch m {
	case UsersMeasure:
		return AffectedUsers
	case ResolutionMeasure:
		return ResolutionTime
	default:
		return FinancialLoss
	}
}

func (m Measure) String() string { return m.Column().String() }

// ParseMeasure resolves a measure from any of its column's names.
func ParseMeasure(s string) (Measure, bool) {
	c, ok := ParseColumn(s)
	if !ok {
		return 0, false
	}
	switch c {
	case FinancialLoss:
		return LossMeasure, true
	case AffectedUsers:
		return UsersMeasure, true
	case ResolutionTime:
		return ResolutionMeasure, true
	}
	return 0, false
}
