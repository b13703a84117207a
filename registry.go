package calltrace

import (
	"sort"
	"sync"
	"time"
)

// Aggregate is the per call-site total of one reporting cycle.
type Aggregate struct {
	Site       string        `json:"site"`
	Kind       Kind          `json:"kind"`
	Method     Key           `json:"method"`
	Tally      int           `json:"tally"`
	Cumulative time.Duration `json:"cumulative"`
}

// Registry accumulates span completions per call site until the next flush.
// Safe for concurrent use by multiple goroutines.
type Registry struct {
	sites map[string]*Aggregate
	mu    sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sites: make(map[string]*Aggregate)}
}

// Record adds one completion of kind.method taking d.
func (r *Registry) Record(kind Kind, method Key, d time.Duration) {
	site := kind + "." + method

	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.sites[site]
	if !ok {
		agg = &Aggregate{Site: site, Kind: kind, Method: method}
		r.sites[site] = agg
	}
	agg.Tally++
	agg.Cumulative += d
}

// Get returns the aggregate for site, if any completion was recorded.
func (r *Registry) Get(site string) (Aggregate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.sites[site]
	if !ok {
		return Aggregate{}, false
	}
	return *agg, true
}

// Count returns the number of call sites seen this cycle.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sites)
}

// Snapshot returns all aggregates sorted by cumulative time, descending.
func (r *Registry) Snapshot() []Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedUnsafe()
}

// Drain returns all aggregates like Snapshot and clears the registry.
func (r *Registry) Drain() []Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.sortedUnsafe()
	clear(r.sites)
	return result
}

// Reset clears all aggregates.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.sites)
}

// sortedUnsafe must be called with mu held.
func (r *Registry) sortedUnsafe() []Aggregate {
	if len(r.sites) == 0 {
		return nil
	}
	result := make([]Aggregate, 0, len(r.sites))
	for _, agg := range r.sites {
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Cumulative != result[j].Cumulative {
			return result[i].Cumulative > result[j].Cumulative
		}
		return result[i].Site < result[j].Site
	})
	return result
}

// AboveThreshold filters aggs to those whose cumulative time exceeds threshold,
// preserving order.
func AboveThreshold(aggs []Aggregate, threshold time.Duration) []Aggregate {
	var result []Aggregate
	for _, a := range aggs {
		if a.Cumulative > threshold {
			result = append(result, a)
		}
	}
	return result
}
