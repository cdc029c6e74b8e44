package engine

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Filter applies a predicate set to a table.
type Filter interface {
	Apply(t Table, p PredicateSet) Table
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(Table, PredicateSet) Table

func (f FilterFunc) Apply(t Table, p PredicateSet) Table { return f(t, p) }

// FilterCache memoizes Apply on whole-store tables. Entries are keyed on
// the store generation and the normalized predicate key, so a reload can
// never be served stale rows. It is safe for concurrent use; concurrent
// misses on the same key share one evaluation.
type FilterCache struct {
	entries *lru.Cache[string, Table]
	flight  singleflight.Group

	// OnLookup, when set, observes every cacheable lookup.
	OnLookup func(hit bool)
}

// NewFilterCache returns a cache holding at most size filtered tables.
func NewFilterCache(size int) (*FilterCache, error) {
	entries, err := lru.New[string, Table](size)
	if err != nil {
		return nil, err
	}
	return &FilterCache{entries: entries}, nil
}

// Apply returns Apply(t, p), reusing a previous result for an equal
// predicate set over the same store. Views that are already filtered are
// evaluated directly.
func (c *FilterCache) Apply(t Table, p PredicateSet) Table {
	if t.rows != nil || t.store == nil {
		return Apply(t, p)
	}
	p = p.Normalize(t)
	if p.IsUnconstrained() {
		return t
	}

	key := strconv.FormatUint(t.Generation(), 10) + "/" + p.Key()
	if cached, ok := c.entries.Get(key); ok {
		c.observe(true)
		return cached
	}
	c.observe(false)

	v, _, _ := c.flight.Do(key, func() (any, error) {
		filtered := Apply(t, p)
		c.entries.Add(key, filtered)
		return filtered, nil
	})
	return v.(Table)
}

// Len is the number of cached tables.
func (c *FilterCache) Len() int { return c.entries.Len() }

// Purge drops every entry. Call it when the source table is reloaded.
func (c *FilterCache) Purge() { c.entries.Purge() }

func (c *FilterCache) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}
