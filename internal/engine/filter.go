package engine

import "slices"

// Apply returns the rows of t that satisfy every constraint in p, in their
// original order. Constraints are AND-combined across columns and
// OR-combined within a membership set; the year range is inclusive.
// A set matching nothing yields an empty table over the same store.
func Apply(t Table, p PredicateSet) Table {
	if p.IsUnconstrained() {
		return t
	}

	// Membership tests run on dictionary IDs: one bool per dictionary
	// entry instead of a string hash per row.
	type dimFilter struct {
		col     Column
		allowed []bool
	}
	var dims []dimFilter
	for _, c := range [...]Column{Country, TargetIndustry, AttackType} {
		m := p.Membership(c)
		if !m.explicit {
			continue
		}
		dict := t.Dict(c)
		allowed := make([]bool, len(dict))
		for id, v := range dict {
			_, allowed[id] = slices.BinarySearch(m.values, v)
		}
		dims = append(dims, dimFilter{col: c, allowed: allowed})
	}

	n := t.Len()
	rows := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		if !p.years.contains(t.Year(i)) {
			continue
		}
		pass := true
		for _, d := range dims {
			if !d.allowed[t.Code(d.col, i)] {
				pass = false
				break
			}
		}
		if pass {
			rows = append(rows, int32(t.row(i)))
		}
	}
	return Table{store: t.store, rows: rows}
}
