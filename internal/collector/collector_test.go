package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/metricscache"
)

func TestCollectOnceWritesSamples(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := metricscache.NewMemoryCache(clk)
	source := NewFakeSource(clk)

	web := v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "web"}
	source.Set(web, v1alpha1.MetricCPU, 0.75)

	c := New(source, cache, time.Minute, clk)
	c.SetTargets([]v1alpha1.AutoscaleTarget{{
		WorkloadRef: web,
		MinReplicas: 1, MaxReplicas: 5,
		Metrics: []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 0.5}},
	}})

	c.CollectOnce(context.Background())

	got, ok := cache.Latest(web, v1alpha1.MetricCPU)
	require.True(t, ok)
	assert.Equal(t, 0.75, got.Value)
	assert.Equal(t, clk.Now(), cache.LastCollectionTime())
}

func TestCollectOnceSkipsMissingMetrics(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := metricscache.NewMemoryCache(clk)
	source := NewFakeSource(clk)

	web := v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "web"}
	api := v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "api"}
	source.Set(web, v1alpha1.MetricCPU, 0.5)

	c := New(source, cache, time.Minute, clk)
	c.SetTargets([]v1alpha1.AutoscaleTarget{
		{
			WorkloadRef: web,
			MinReplicas: 1, MaxReplicas: 5,
			Metrics: []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 0.5}},
		},
		{
			WorkloadRef: api,
			MinReplicas: 1, MaxReplicas: 5,
			Metrics: []v1alpha1.MetricTarget{{Type: v1alpha1.MetricConcurrency, Target: 10}},
		},
	})

	// The second target has no data; collection must still succeed and
	// record what it could sample.
	c.CollectOnce(context.Background())

	_, ok := cache.Latest(web, v1alpha1.MetricCPU)
	assert.True(t, ok)
	_, ok = cache.Latest(api, v1alpha1.MetricConcurrency)
	assert.False(t, ok)
	assert.False(t, cache.LastCollectionTime().IsZero(),
		"a partial collection still counts as a completed round")
}
