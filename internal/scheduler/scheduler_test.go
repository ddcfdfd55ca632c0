package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/admission"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/graph"
)

// fakeApplier writes straight to the fake backend and optionally reports
// the resource healthy right after the apply lands.
type fakeApplier struct {
	backend     *backend.Fake
	autoHealthy bool
}

func (a *fakeApplier) SubmitApply(ctx context.Context, res *v1alpha1.Resource) error {
	if _, err := a.backend.Apply(ctx, res); err != nil {
		return err
	}
	if a.autoHealthy {
		a.backend.SetHealthy(res.Ref(), true)
	}
	return nil
}

func res(kind, namespace, name string, priority int) *v1alpha1.Resource {
	return &v1alpha1.Resource{
		Kind:      kind,
		Namespace: namespace,
		Name:      name,
		Priority:  priority,
		Spec:      map[string]interface{}{},
	}
}

func twoWaves() []graph.Wave {
	return []graph.Wave{
		{Priority: 0, Resources: []*v1alpha1.Resource{res("ConfigMap", "apps", "web-config", 0)}},
		{Priority: 1, Resources: []*v1alpha1.Resource{res("Deployment", "apps", "web", 1)}},
	}
}

func emptyEngine(t *testing.T) *admission.Engine {
	t.Helper()
	engine, err := admission.NewEngine(nil, nil)
	require.NoError(t, err)
	return engine
}

func TestRunAppliesWavesInOrder(t *testing.T) {
	be := backend.NewFake()
	s := New(emptyEngine(t), &fakeApplier{backend: be, autoHealthy: true}, be,
		Config{WaveDeadline: time.Second})

	require.NoError(t, s.Run(context.Background(), twoWaves()))

	applies := be.Applies()
	require.Len(t, applies, 2)
	assert.Equal(t, "ConfigMap/apps/web-config", applies[0].String())
	assert.Equal(t, "Deployment/apps/web", applies[1].String())

	for _, st := range s.Statuses() {
		assert.Equal(t, StateHealthy, st.State, "wave %d", st.Priority)
	}
}

func TestAdmissionRejectionFailsWholeWave(t *testing.T) {
	engine, err := admission.NewEngine([]v1alpha1.PolicyRule{{
		Name: "require-nonroot",
		Mode: v1alpha1.ModeValidate,
		Match: &v1alpha1.MatchSelector{
			Kinds: []string{"Deployment"},
		},
		Validate: []v1alpha1.FieldAssertion{{
			Path:     "securityContext.runAsNonRoot",
			Operator: v1alpha1.OpEquals,
			Value:    "true",
			Message:  "containers must not run as root",
		}},
	}}, nil)
	require.NoError(t, err)

	be := backend.NewFake()
	s := New(engine, &fakeApplier{backend: be, autoHealthy: true}, be,
		Config{WaveDeadline: time.Second})

	err = s.Run(context.Background(), twoWaves())
	require.ErrorIs(t, err, ErrWaveFailed)

	// All-or-nothing: the rejected wave applied nothing.
	applies := be.Applies()
	require.Len(t, applies, 1)
	assert.Equal(t, "ConfigMap/apps/web-config", applies[0].String())

	st, ok := s.Status(1)
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
	require.NotEmpty(t, st.Violations)
	assert.Equal(t, "require-nonroot", st.Violations[0].Rule)
}

func TestWaveTimesOutAndRetries(t *testing.T) {
	be := backend.NewFake()
	// No health events arrive on their own.
	s := New(emptyEngine(t), &fakeApplier{backend: be}, be,
		Config{WaveDeadline: 30 * time.Millisecond})

	waves := twoWaves()[:1]
	err := s.Run(context.Background(), waves)
	require.ErrorIs(t, err, ErrWaveTimedOut)

	st, ok := s.Status(0)
	require.True(t, ok)
	assert.Equal(t, StateTimedOut, st.State)

	// The operator fixes the workload, then retries the wave manually.
	be.SetHealthy(waves[0].Resources[0].Ref(), true)
	require.NoError(t, s.Retry(context.Background(), 0))

	st, _ = s.Status(0)
	assert.Equal(t, StateHealthy, st.State)

	// The retry re-applied the wave from scratch.
	assert.Len(t, be.Applies(), 2)
}

func TestRetryRequiresTimedOutState(t *testing.T) {
	be := backend.NewFake()
	s := New(emptyEngine(t), &fakeApplier{backend: be, autoHealthy: true}, be,
		Config{WaveDeadline: time.Second})

	waves := twoWaves()[:1]
	require.NoError(t, s.Run(context.Background(), waves))

	err := s.Retry(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only TimedOut waves")
}

func TestParallelModeIgnoresWaveGate(t *testing.T) {
	be := backend.NewFake()
	s := New(emptyEngine(t), &fakeApplier{backend: be, autoHealthy: true}, be,
		Config{WaveDeadline: time.Second, Parallel: true})

	require.NoError(t, s.Run(context.Background(), twoWaves()))

	assert.Len(t, be.Applies(), 2)
	for _, st := range s.Statuses() {
		assert.Equal(t, StateHealthy, st.State)
	}
}

func TestCancelledRunSchedulesNoFurtherWaves(t *testing.T) {
	be := backend.NewFake()
	s := New(emptyEngine(t), &fakeApplier{backend: be, autoHealthy: true}, be,
		Config{WaveDeadline: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, twoWaves())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, be.Applies())

	st, ok := s.Status(0)
	require.True(t, ok)
	assert.Equal(t, StatePending, st.State)
	assert.Contains(t, st.Reason, "cancelled")
}
