package autoscaler

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

var workload = v1alpha1.ResourceRef{Kind: "Deployment", Namespace: "apps", Name: "web"}

func fixture(t *testing.T) (*testingclock.FakePassiveClock, *metricscache.MemoryCache, *Evaluator) {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(time.Unix(1700000000, 0))
	cache := metricscache.NewMemoryCache(clk)
	return clk, cache, NewEvaluator(cache, clk, 0)
}

func feed(clk *testingclock.FakePassiveClock, cache *metricscache.MemoryCache, metric v1alpha1.MetricType, value float64) {
	cache.Update([]metricscache.Sample{{
		Workload:  workload,
		Metric:    metric,
		Value:     value,
		Timestamp: clk.Now(),
	}})
}

func TestScaleUpCappedByPolicy(t *testing.T) {
	clk, cache, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 2,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
		ScaleUpPolicy: &v1alpha1.ScalePolicy{
			Type: v1alpha1.PolicyPercent, Value: 100, PeriodSeconds: 15,
		},
		ScaleDownPolicy: &v1alpha1.ScalePolicy{
			Type: v1alpha1.PolicyPercent, Value: 25, PeriodSeconds: 60,
			StabilizationWindowSeconds: 300,
		},
	}

	// Utilization ratio 3.0 at 2 replicas: raw desired is 6 but the 100%
	// scale-up policy allows at most a doubling per period.
	feed(clk, cache, v1alpha1.MetricCPU, 3.0)
	rec := eval.Evaluate(context.Background(), target, 2)
	assert.Equal(t, int32(4), rec.DesiredReplicas)
}

func TestScaleUpUnboundedWithoutPolicy(t *testing.T) {
	clk, cache, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 1,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
	}

	feed(clk, cache, v1alpha1.MetricCPU, 3.0)
	rec := eval.Evaluate(context.Background(), target, 2)
	assert.Equal(t, int32(6), rec.DesiredReplicas)
}

func TestMaxAcrossMetrics(t *testing.T) {
	clk, cache, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 1,
		MaxReplicas: 20,
		Metrics: []v1alpha1.MetricTarget{
			{Type: v1alpha1.MetricCPU, Target: 1.0},
			{Type: v1alpha1.MetricMemory, Target: 1.0},
		},
	}

	feed(clk, cache, v1alpha1.MetricCPU, 1.5)
	feed(clk, cache, v1alpha1.MetricMemory, 2.5)
	rec := eval.Evaluate(context.Background(), target, 4)
	// Memory is the most saturated resource: ceil(4 * 2.5) = 10.
	assert.Equal(t, int32(10), rec.DesiredReplicas)
}

func TestScaleDownWaitsForStabilizationWindow(t *testing.T) {
	clk, cache, eval := fixture(t)
	ctx := context.Background()
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 1,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
		ScaleDownPolicy: &v1alpha1.ScalePolicy{
			Type: v1alpha1.PolicyPercent, Value: 50, PeriodSeconds: 30,
			StabilizationWindowSeconds: 120,
		},
	}

	// Steady at 4 replicas: history fills with raw = 4.
	feed(clk, cache, v1alpha1.MetricCPU, 1.0)
	rec := eval.Evaluate(ctx, target, 4)
	require.Equal(t, int32(4), rec.DesiredReplicas)

	// A momentary dip must not trigger a scale-down: the window still
	// contains the raw = 4 observation, so the committed count stays 4.
	clk.SetTime(clk.Now().Add(30 * time.Second))
	feed(clk, cache, v1alpha1.MetricCPU, 0.25)
	rec = eval.Evaluate(ctx, target, 4)
	assert.Equal(t, int32(4), rec.DesiredReplicas)

	// Once the dip persists past the window, the scale-down commits.
	clk.SetTime(clk.Now().Add(150 * time.Second))
	feed(clk, cache, v1alpha1.MetricCPU, 0.25)
	rec = eval.Evaluate(ctx, target, 4)
	assert.Less(t, rec.DesiredReplicas, int32(4))
}

func TestFlatSignalConvergesToFixedPoint(t *testing.T) {
	clk, cache, eval := fixture(t)
	ctx := context.Background()
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 2,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
		ScaleDownPolicy: &v1alpha1.ScalePolicy{
			Type: v1alpha1.PolicyPods, Value: 1, PeriodSeconds: 30,
			StabilizationWindowSeconds: 60,
		},
	}

	// Constant low utilization for much longer than the window.
	current := int32(8)
	for i := 0; i < 40; i++ {
		clk.SetTime(clk.Now().Add(30 * time.Second))
		feed(clk, cache, v1alpha1.MetricCPU, 0.25)
		rec := eval.Evaluate(ctx, target, current)
		current = rec.DesiredReplicas
	}
	assert.Equal(t, int32(2), current, "flat signal must converge to the min bound")

	// And stay there: further flat ticks are a fixed point.
	for i := 0; i < 10; i++ {
		clk.SetTime(clk.Now().Add(30 * time.Second))
		feed(clk, cache, v1alpha1.MetricCPU, 0.25)
		rec := eval.Evaluate(ctx, target, current)
		assert.Equal(t, int32(2), rec.DesiredReplicas)
		current = rec.DesiredReplicas
	}
}

func TestZeroReplicasForcesMinimum(t *testing.T) {
	_, _, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 0,
		MaxReplicas: 5,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
	}

	rec := eval.Evaluate(context.Background(), target, 0)
	assert.Equal(t, int32(1), rec.DesiredReplicas,
		"the utilization ratio cannot be computed at zero replicas")
}

func TestStaleMetricExcluded(t *testing.T) {
	clk, cache, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 1,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
	}

	feed(clk, cache, v1alpha1.MetricCPU, 3.0)
	clk.SetTime(clk.Now().Add(DefaultMetricGracePeriod + time.Minute))

	rec := eval.Evaluate(context.Background(), target, 2)
	assert.Equal(t, int32(2), rec.DesiredReplicas, "stale data must not drive scaling")
	assert.Contains(t, rec.Reason, "no usable metrics")
}

func TestBoundsAlwaysHold(t *testing.T) {
	clk, cache, eval := fixture(t)
	target := v1alpha1.AutoscaleTarget{
		WorkloadRef: workload,
		MinReplicas: 2,
		MaxReplicas: 5,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
	}

	feed(clk, cache, v1alpha1.MetricCPU, 100.0)
	rec := eval.Evaluate(context.Background(), target, 4)
	assert.Equal(t, int32(5), rec.DesiredReplicas, "desired never exceeds maxReplicas")
}
