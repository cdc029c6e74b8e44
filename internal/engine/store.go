package engine

import (
	"strconv"
	"sync/atomic"
)

// Record is one recorded incident.
type Record struct {
	Country           string  `json:"country"`
	Year              int     `json:"year"`
	AttackType        string  `json:"attack_type"`
	TargetIndustry    string  `json:"target_industry"`
	FinancialLoss     float64 `json:"financial_loss_musd"`
	AffectedUsers     int64   `json:"affected_users"`
	AttackSource      string  `json:"attack_source"`
	VulnerabilityType string  `json:"vulnerability_type"`
	DefenseMechanism  string  `json:"defense_mechanism"`
	ResolutionTime    float64 `json:"resolution_time_hours"`
}

// ColumnStore holds the dataset in Struct-of-Arrays format.
// It is never modified after NewStore returns.
type ColumnStore struct {
	// Data Columns (Flat Arrays)
	years       []int32
	losses      []float64
	users       []int64
	resolutions []float64

	// Dictionary Encoded IDs (0..N), indexed by categorical Column
	codes [numColumns][]int32
	// Dictionaries (ID -> String), in first-seen order
	dicts [numColumns][]string

	minYear, maxYear int
	gen              uint64
}

var storeGen atomic.Uint64

// NewStore encodes records into a fresh store. Each store gets a new
// generation number so caches keyed on it never outlive a reload.
func NewStore(records []Record) *ColumnStore {
	n := len(records)
	cs := &ColumnStore{
		years:       make([]int32, n),
		losses:      make([]float64, n),
		users:       make([]int64, n),
		resolutions: make([]float64, n),
		gen:         storeGen.Add(1),
	}
	lookup := make(map[Column]map[string]int32)
	for _, c := range Columns() {
		if c.Kind() == Categorical {
			cs.codes[c] = make([]int32, n)
			lookup[c] = make(map[string]int32)
		}
	}

	encode := func(c Column, row int, s string) {
		m := lookup[c]
		id, ok := m[s]
		if !ok {
			id = int32(len(cs.dicts[c]))
			cs.dicts[c] = append(cs.dicts[c], s)
			m[s] = id
		}
		cs.codes[c][row] = id
	}

	for i, r := range records {
		cs.years[i] = int32(r.Year)
		cs.losses[i] = r.FinancialLoss
		cs.users[i] = r.AffectedUsers
		cs.resolutions[i] = r.ResolutionTime

		encode(Country, i, r.Country)
		encode(AttackType, i, r.AttackType)
		encode(TargetIndustry, i, r.TargetIndustry)
		encode(AttackSource, i, r.AttackSource)
		encode(VulnerabilityType, i, r.VulnerabilityType)
		encode(DefenseMechanism, i, r.DefenseMechanism)

		if i == 0 || r.Year < cs.minYear {
			cs.minYear = r.Year
		}
		if i == 0 || r.Year > cs.maxYear {
			cs.maxYear = r.Year
		}
	}
	return cs
}

// Len returns the number of rows in the store.
func (cs *ColumnStore) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.years)
}

// Generation identifies this load of the data.
func (cs *ColumnStore) Generation() uint64 {
	if cs == nil {
		return 0
	}
	return cs.gen
}

// Table returns a view over every row of the store.
func (cs *ColumnStore) Table() Table {
	return Table{store: cs}
}

// Table is an ordered, read-only view of rows in a ColumnStore. The source
// table and every filtered table share the same store; a filtered table
// only carries the indices of the rows it keeps.
type Table struct {
	store *ColumnStore
	rows  []int32 // nil selects every row of store
}

// Len returns the row count.
func (t Table) Len() int {
	if t.rows == nil {
		return t.store.Len()
	}
	return len(t.rows)
}

// Store returns the underlying column store.
func (t Table) Store() *ColumnStore { return t.store }

// Generation is the generation of the underlying store.
func (t Table) Generation() uint64 { return t.store.Generation() }

func (t Table) row(i int) int {
	if t.rows == nil {
		return i
	}
	return int(t.rows[i])
}

// YearBounds returns the global year range of the source data, which a
// filtered table inherits from its store. ok is false for an empty store.
func (t Table) YearBounds() (min, max int, ok bool) {
	if t.store.Len() == 0 {
		return 0, 0, false
	}
	return t.store.minYear, t.store.maxYear, true
}

// Year returns the year of row i.
func (t Table) Year(i int) int {
	return int(t.store.years[t.row(i)])
}

// Code returns the dictionary ID of a categorical column at row i.
func (t Table) Code(c Column, i int) int32 {
	return t.store.codes[c][t.row(i)]
}

// Dict returns the dictionary of a categorical column (ID -> value).
// The slice is shared and must not be modified.
func (t Table) Dict(c Column) []string {
	if t.store == nil || !c.valid() {
		return nil
	}
	return t.store.dicts[c]
}

// Measure returns the numeric value of m at row i.
func (t Table) Measure(m Measure, i int) float64 {
	r := t.row(i)
	switch m {
	case UsersMeasure:
		return float64(t.store.users[r])
	case ResolutionMeasure:
		return t.store.resolutions[r]
	default:
		return t.store.losses[r]
	}
}

// Value formats column c at row i as a string key.
func (t Table) Value(c Column, i int) string {
	r := t.row(i)
	switch c {
	case Year:
		return strconv.Itoa(int(t.store.years[r]))
	case FinancialLoss:
		return strconv.FormatFloat(t.store.losses[r], 'f', -1, 64)
	case AffectedUsers:
		return strconv.FormatInt(t.store.users[r], 10)
	case ResolutionTime:
		return strconv.FormatFloat(t.store.resolutions[r], 'f', -1, 64)
	default:
		return t.store.dicts[c][t.store.codes[c][r]]
	}
}

// Record materializes row i.
func (t Table) Record(i int) Record {
	r := t.row(i)
	cs := t.store
	str := func(c Column) string { return cs.dicts[c][cs.codes[c][r]] }
	return Record{
		Country:           str(Country),
		Year:              int(cs.years[r]),
		AttackType:        str(AttackType),
		TargetIndustry:    str(TargetIndustry),
		FinancialLoss:     cs.losses[r],
		AffectedUsers:     cs.users[r],
		AttackSource:      str(AttackSource),
		VulnerabilityType: str(VulnerabilityType),
		DefenseMechanism:  str(DefenseMechanism),
		ResolutionTime:    cs.resolutions[r],
	}
}

// Records materializes rows [offset, offset+limit) clipped to the table.
// A negative limit means "to the end".
func (t Table) Records(offset, limit int) []Record {
	n := t.Len()
	if offset < 0 {
		offset = 0
	}
	if offset >= n {
		return []Record{}
	}
	end := n
	if limit >= 0 && offset+limit < n {
		end = offset + limit
	}
	out := make([]Record, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, t.Record(i))
	}
	return out
}
