package engine

import (
	"slices"
	"strconv"
	"strings"
)

// YearRange is either unconstrained or a closed interval of years.
type YearRange struct {
	bounded  bool
	from, to int
}

// AllYears matches every year.
func AllYears() YearRange { return YearRange{} }

// YearsBetween matches years in [from, to]. Reversed bounds are swapped.
func YearsBetween(from, to int) YearRange {
	if from > to {
		from, to = to, from
	}
	return YearRange{bounded: true, from: from, to: to}
}

// Bounds returns the interval; ok is false when unconstrained.
func (y YearRange) Bounds() (from, to int, ok bool) {
	return y.from, y.to, y.bounded
}

func (y YearRange) contains(year int) bool {
	return !y.bounded || (year >= y.from && year <= y.to)
}

// Membership is either unconstrained or an explicit set of allowed values.
// An explicit empty set matches nothing.
type Membership struct {
	explicit bool
	values   []string // sorted, unique
}

// Any matches every value.
func Any() Membership { return Membership{} }

// OneOf matches only the listed values. OneOf() with no values matches
// nothing, which is distinct from Any().
func OneOf(values ...string) Membership {
	vs := make([]string, 0, len(values))
	for _, v := range values {
		vs = append(vs, strings.TrimSpace(v))
	}
	slices.Sort(vs)
	return Membership{explicit: true, values: slices.Compact(vs)}
}

// Values returns the allowed values; ok is false when unconstrained.
func (m Membership) Values() (values []string, ok bool) {
	if !m.explicit {
		return nil, false
	}
	return slices.Clone(m.values), true
}

func (m Membership) intersect(o Membership) Membership {
	switch {
	case !m.explicit:
		return o
	case !o.explicit:
		return m
	}
	out := Membership{explicit: true, values: []string{}}
	for _, v := range m.values {
		if _, found := slices.BinarySearch(o.values, v); found {
			out.values = append(out.values, v)
		}
	}
	return out
}

func (m Membership) equal(o Membership) bool {
	return m.explicit == o.explicit && slices.Equal(m.values, o.values)
}

// PredicateSet is an immutable set of column constraints. The zero value
// matches every row.
type PredicateSet struct {
	years       YearRange
	countries   Membership
	industries  Membership
	attackTypes Membership
}

// Build assembles a predicate set from raw control selections.
func Build(years YearRange, countries, industries, attackTypes Membership) PredicateSet {
	return PredicateSet{
		years:       years,
		countries:   countries,
		industries:  industries,
		attackTypes: attackTypes,
	}
}

// Years returns the year constraint.
func (p PredicateSet) Years() YearRange { return p.years }

// Membership returns the constraint on a categorical filter column.
// Columns that cannot be filtered report Any.
func (p PredicateSet) Membership(c Column) Membership {
	switch c {
	case Country:
		return p.countries
	case TargetIndustry:
		return p.industries
	case AttackType:
		return p.attackTypes
	}
	return Any()
}

// Restrict returns a copy with the membership constraint on c narrowed to
// the intersection with values. Columns other than Country,
// TargetIndustry and AttackType are returned unchanged.
func (p PredicateSet) Restrict(c Column, values ...string) PredicateSet {
	m := OneOf(values...)
	switch c {
	case Country:
		p.countries = p.countries.intersect(m)
	case TargetIndustry:
		p.industries = p.industries.intersect(m)
	case AttackType:
		p.attackTypes = p.attackTypes.intersect(m)
	}
	return p
}

// Normalize rewrites constraints that cover the table's whole domain as
// unconstrained, so that equivalent selections compare equal.
func (p PredicateSet) Normalize(t Table) PredicateSet {
	if from, to, ok := p.years.Bounds(); ok {
		if lo, hi, known := t.YearBounds(); known && from <= lo && to >= hi {
			p.years = AllYears()
		}
	}
	covers := func(m Membership, c Column) Membership {
		if !m.explicit {
			return m
		}
		dict := t.Dict(c)
		if len(dict) == 0 {
			return m
		}
		for _, v := range dict {
			if _, found := slices.BinarySearch(m.values, v); !found {
				return m
			}
		}
		return Any()
	}
	p.countries = covers(p.countries, Country)
	p.industries = covers(p.industries, TargetIndustry)
	p.attackTypes = covers(p.attackTypes, AttackType)
	return p
}

// IsUnconstrained reports whether p matches every row of any table.
func (p PredicateSet) IsUnconstrained() bool {
	return !p.years.bounded && !p.countries.explicit && !p.industries.explicit && !p.attackTypes.explicit
}

// Equal reports whether both sets carry identical constraints.
func (p PredicateSet) Equal(o PredicateSet) bool {
	return p.years == o.years &&
		p.countries.equal(o.countries) &&
		p.industries.equal(o.industries) &&
		p.attackTypes.equal(o.attackTypes)
}

// Key is a canonical encoding of p: equal sets have equal keys.
func (p PredicateSet) Key() string {
	var b strings.Builder
	b.WriteString("year=")
	if from, to, ok := p.years.Bounds(); ok {
		b.WriteString(strconv.Itoa(from))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(to))
	} else {
		b.WriteByte('*')
	}
	writeMembership := func(name string, m Membership) {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		if !m.explicit {
			b.WriteByte('*')
			return
		}
		b.WriteByte('[')
		for i, v := range m.values {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(v))
		}
		b.WriteByte(']')
	}
	writeMembership(Country.String(), p.countries)
	writeMembership(TargetIndustry.String(), p.industries)
	writeMembership(AttackType.String(), p.attackTypes)
	return b.String()
}

func (p PredicateSet) String() string { return p.Key() }
