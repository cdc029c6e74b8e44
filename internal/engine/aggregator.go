package engine

import (
	"cmp"
	"slices"

	"cyberdash/internal/models"
)

// TotalIncidents is the row count.
func TotalIncidents(t Table) int { return t.Len() }

// DistinctCountries counts distinct countries in t.
func DistinctCountries(t Table) int { return DistinctCount(t, Country) }

// DistinctIndustries counts distinct target industries in t.
func DistinctIndustries(t Table) int { return DistinctCount(t, TargetIndustry) }

// DistinctCount is the number of distinct values of column c in t.
func DistinctCount(t Table, c Column) int {
	keys, slots := partition(t, c)
	seen := make([]bool, len(keys))
	n := 0
	for _, s := range slots {
		if !seen[s] {
			seen[s] = true
			n++
		}
	}
	return n
}

// TotalFinancialLoss sums financial_loss_musd; 0 on an empty table.
func TotalFinancialLoss(t Table) float64 { return Sum(t, LossMeasure) }

// TotalAffectedUsers sums affected_users.
func TotalAffectedUsers(t Table) int64 {
	var total int64
	for i := 0; i < t.Len(); i++ {
		total += t.store.users[t.row(i)]
	}
	return total
}

// MeanResolutionTime averages resolution_time_hours; 0 on an empty table.
func MeanResolutionTime(t Table) float64 {
	if t.Len() == 0 {
		return 0
	}
	return Sum(t, ResolutionMeasure) / float64(t.Len())
}

// Sum adds up measure m over every row of t in row order.
func Sum(t Table, m Measure) float64 {
	var total float64
	for i := 0; i < t.Len(); i++ {
		total += t.Measure(m, i)
	}
	return total
}

// GroupCount counts rows per distinct value of c, sorted by count
// descending with ties broken by ascending value.
func GroupCount(t Table, c Column) []models.CountItem {
	keys, slots := partition(t, c)
	counts := make([]int, len(keys))
	for _, s := range slots {
		counts[s]++
	}

	out := make([]models.CountItem, 0, len(keys))
	for s, n := range counts {
		if n > 0 {
			out = append(out, models.CountItem{Key: keys[s], Count: n})
		}
	}
	slices.SortFunc(out, func(a, b models.CountItem) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// GroupSum sums measure m per distinct value of c, with the same ordering
// as GroupCount.
func GroupSum(t Table, c Column, m Measure) []models.SumItem {
	keys, slots := partition(t, c)
	sums := make([]float64, len(keys))
	present := make([]bool, len(keys))
	for i, s := range slots {
		sums[s] += t.Measure(m, i)
		present[s] = true
	}

	out := make([]models.SumItem, 0, len(keys))
	for s, v := range sums {
		if present[s] {
			out = append(out, models.SumItem{Key: keys[s], Sum: v})
		}
	}
	slices.SortFunc(out, func(a, b models.SumItem) int {
		if c := cmp.Compare(b.Sum, a.Sum); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// TopN copies the first n items of an already ranked sequence. The result
// is never nil.
func TopN[T any](ranked []T, n int) []T {
	n = max(0, min(n, len(ranked)))
	out := make([]T, n)
	copy(out, ranked[:n])
	return out
}

// Aggregator reduces a table to one number.
type Aggregator func(Table) float64

// CountRows counts rows.
func CountRows(t Table) float64 { return float64(t.Len()) }

// SumOf sums a measure.
func SumOf(m Measure) Aggregator {
	return func(t Table) float64 { return Sum(t, m) }
}

// YearlySeries applies agg to the rows of each year, ascending. Every year
// of the store's global range gets a point, so a filter that empties a
// year still yields that year with agg of an empty table.
func YearlySeries(t Table, agg Aggregator) []models.SeriesPoint {
	lo, hi, ok := t.YearBounds()
	if !ok {
		return []models.SeriesPoint{}
	}
	byYear := make([][]int32, hi-lo+1)
	for i := 0; i < t.Len(); i++ {
		y := t.Year(i) - lo
		byYear[y] = append(byYear[y], int32(t.row(i)))
	}

	out := make([]models.SeriesPoint, 0, len(byYear))
	for y, rows := range byYear {
		if rows == nil {
			rows = []int32{}
		}
		sub := Table{store: t.store, rows: rows}
		out = append(out, models.SeriesPoint{Year: lo + y, Value: agg(sub)})
	}
	return out
}

// partition maps every row of t to a group slot for column c. Categorical
// columns use their dictionary IDs directly; other columns are keyed by
// their formatted value.
func partition(t Table, c Column) (keys []string, slots []int) {
	n := t.Len()
	slots = make([]int, n)
	if c.Kind() == Categorical && c.valid() {
		for i := 0; i < n; i++ {
			slots[i] = int(t.Code(c, i))
		}
		return t.Dict(c), slots
	}

	index := make(map[string]int)
	for i := 0; i < n; i++ {
		v := t.Value(c, i)
		s, ok := index[v]
		if !ok {
			s = len(keys)
			keys = append(keys, v)
			index[v] = s
		}
		slots[i] = s
	}
	return keys, slots
}

// UniqueValues returns the distinct values of c present in t, sorted.
func UniqueValues(t Table, c Column) []string {
	counts := GroupCount(t, c)
	out := make([]string, len(counts))
	for i, item := range counts {
		out[i] = item.Key
	}
	slices.Sort(out)
	return out
}
