package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

type staticReplicas struct {
	count int32
}

func (s *staticReplicas) CurrentReplicas(context.Context, v1alpha1.ResourceRef) (int32, error) {
	return s.count, nil
}

type recordingActuator struct {
	recs []Recommendation
}

func (a *recordingActuator) Actuate(_ context.Context, rec Recommendation) error {
	a.recs = append(a.recs, rec)
	return nil
}

func TestTickActuatesOnlyOnChange(t *testing.T) {
	clk, cache, eval := fixture(t)
	replicas := &staticReplicas{count: 2}
	actuator := &recordingActuator{}
	loop := NewLoop(eval, replicas, actuator, 0)
	loop.SetTargets([]v1alpha1.AutoscaleTarget{{
		WorkloadRef: workload,
		MinReplicas: 1,
		MaxReplicas: 10,
		Metrics:     []v1alpha1.MetricTarget{{Type: v1alpha1.MetricCPU, Target: 1.0}},
	}})

	feed(clk, cache, v1alpha1.MetricCPU, 2.0)
	loop.Tick(context.Background())
	require.Len(t, actuator.recs, 1)
	assert.Equal(t, int32(4), actuator.recs[0].DesiredReplicas)

	rec, ok := loop.Latest(workload)
	require.True(t, ok)
	assert.Equal(t, int32(4), rec.DesiredReplicas)

	// Signal right on target: desired equals current, no actuation.
	replicas.count = 4
	clk.SetTime(clk.Now().Add(30 * time.Second))
	feed(clk, cache, v1alpha1.MetricCPU, 1.0)
	loop.Tick(context.Background())
	assert.Len(t, actuator.recs, 1)
}

func TestTickWithNoTargetsIsHarmless(t *testing.T) {
	_, _, eval := fixture(t)
	actuator := &recordingActuator{}
	loop := NewLoop(eval, &staticReplicas{count: 3}, actuator, 0)

	loop.Tick(context.Background())
	assert.Empty(t, actuator.recs)
}
