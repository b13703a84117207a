package calltrace

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryRecord(t *testing.T) {
	r := NewRegistry()
	r.Record("x-app", "render", 2*time.Millisecond)
	r.Record("x-app", "render", 3*time.Millisecond)
	r.Record("x-list", "render", time.Millisecond)

	require.Equal(t, 2, r.Count())
	agg, ok := r.Get("x-app.render")
	require.True(t, ok)
	require.Equal(t, Aggregate{Site: "x-app.render", Kind: "x-app", Method: "render", Tally: 2, Cumulative: 5 * time.Millisecond}, agg)

	_, ok = r.Get("x-app.missing")
	require.False(t, ok)
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry()
	r.Record("b", "m", time.Millisecond)
	r.Record("a", "m", time.Millisecond)
	r.Record("c", "m", 4*time.Millisecond)

	snap := r.Snapshot()
	require.Equal(t, []string{"c.m", "a.m", "b.m"}, []string{snap[0].Site, snap[1].Site, snap[2].Site})
	require.Equal(t, 3, r.Count(), "snapshot does not clear")

	drained := r.Drain()
	require.Equal(t, snap, drained)
	require.Equal(t, 0, r.Count())
	require.Nil(t, r.Snapshot())

	r.Record("a", "m", time.Millisecond)
	r.Reset()
	require.Equal(t, 0, r.Count())
}

func TestAboveThreshold(t *testing.T) {
	aggs := []Aggregate{
		{Site: "a.m", Cumulative: 9 * time.Millisecond},
		{Site: "b.m", Cumulative: 5 * time.Millisecond},
		{Site: "c.m", Cumulative: 6 * time.Millisecond},
	}
	got := AboveThreshold(aggs, 5*time.Millisecond)
	require.Len(t, got, 2)
	require.Equal(t, "a.m", got[0].Site)
	require.Equal(t, "c.m", got[1].Site)
	require.Nil(t, AboveThreshold(nil, 0))
}

func TestRegistryConcurrentRecord(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record("x-app", "render", time.Microsecond)
			}
		}()
	}
	wg.Wait()

	agg, ok := r.Get("x-app.render")
	require.True(t, ok)
	require.Equal(t, 800, agg.Tally)
	require.Equal(t, 800*time.Microsecond, agg.Cumulative)
}
