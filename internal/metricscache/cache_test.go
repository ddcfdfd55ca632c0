package metricscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

var web = v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "web"}

func TestLatestReturnsNewestSample(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := NewMemoryCache(clk)

	cache.Update([]Sample{{Workload: web, Metric: v1alpha1.MetricCPU, Value: 0.5, Timestamp: clk.Now()}})
	clk.SetTime(clk.Now().Add(15 * time.Second))
	cache.Update([]Sample{{Workload: web, Metric: v1alpha1.MetricCPU, Value: 0.9, Timestamp: clk.Now()}})

	got, ok := cache.Latest(web, v1alpha1.MetricCPU)
	require.True(t, ok)
	assert.Equal(t, 0.9, got.Value)

	_, ok = cache.Latest(web, v1alpha1.MetricMemory)
	assert.False(t, ok, "unsampled metric must not report data")
}

func TestSeriesWindowAndMin(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := NewMemoryCache(clk)

	for _, v := range []float64{0.8, 0.3, 0.6} {
		cache.Update([]Sample{{Workload: web, Metric: v1alpha1.MetricCPU, Value: v, Timestamp: clk.Now()}})
		clk.SetTime(clk.Now().Add(30 * time.Second))
	}

	ts := cache.Series(web, v1alpha1.MetricCPU)
	require.NotNil(t, ts)

	min, ok := ts.MinInWindow(clk.Now(), 2*time.Minute)
	require.True(t, ok)
	assert.Equal(t, 0.3, min)

	// A narrow window sees only the most recent point.
	recent := ts.InWindow(clk.Now(), 45*time.Second)
	require.Len(t, recent, 1)
	assert.Equal(t, 0.6, recent[0].Value)
}

func TestPruneDropsOldPoints(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := NewMemoryCache(clk)

	cache.Update([]Sample{{Workload: web, Metric: v1alpha1.MetricCPU, Value: 0.5, Timestamp: clk.Now()}})
	clk.SetTime(clk.Now().Add(10 * time.Minute))
	cache.Update([]Sample{{Workload: web, Metric: v1alpha1.MetricCPU, Value: 0.7, Timestamp: clk.Now()}})

	cache.Prune(5 * time.Minute)

	ts := cache.Series(web, v1alpha1.MetricCPU)
	require.NotNil(t, ts)
	require.Len(t, ts.Points, 1)
	assert.Equal(t, 0.7, ts.Points[0].Value)
}

func TestMarkCollectionComplete(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := NewMemoryCache(clk)

	assert.True(t, cache.LastCollectionTime().IsZero())
	cache.MarkCollectionComplete()
	assert.Equal(t, clk.Now(), cache.LastCollectionTime())
}
