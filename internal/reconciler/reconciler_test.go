package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/admission"
	"github.com/gitops-incubation/wave-engine/internal/backend"
)

func newReconciler(t *testing.T, be *backend.Fake, rules []v1alpha1.PolicyRule) *Reconciler {
	t.Helper()
	engine, err := admission.NewEngine(rules, nil)
	require.NoError(t, err)
	return New(be, engine, Config{RetryBaseDelay: time.Millisecond})
}

func deployment(name string, replicas int) *v1alpha1.Resource {
	return &v1alpha1.Resource{
		Kind:      "Deployment",
		Namespace: "apps",
		Name:      name,
		Spec: map[string]interface{}{
			"replicas": float64(replicas),
		},
	}
}

func managed(res *v1alpha1.Resource) *v1alpha1.Resource {
	out := res.DeepCopy()
	if out.Annotations == nil {
		out.Annotations = map[string]string{}
	}
	out.Annotations[v1alpha1.ManagedByAnnotation] = v1alpha1.ManagedByValue
	return out
}

func TestConvergedSetWritesNothing(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	web := deployment("web", 3)
	require.NoError(t, r.SubmitApply(context.Background(), web))
	r.SetDesired([]*v1alpha1.Resource{web})

	report := r.ReconcileOnce(context.Background())
	assert.Empty(t, report.Drifted)
	assert.Empty(t, report.Errors)
	assert.Len(t, be.Applies(), 1, "only the initial submit may write")
}

func TestDriftTriggersCorrectiveWrite(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	web := deployment("web", 3)
	be.Seed(managed(deployment("web", 1)))
	r.SetDesired([]*v1alpha1.Resource{web})

	report := r.ReconcileOnce(context.Background())
	require.Equal(t, []v1alpha1.ResourceRef{web.Ref()}, report.Drifted)
	require.Equal(t, []v1alpha1.ResourceRef{web.Ref()}, report.Applied)

	// The corrective write converged the resource; the next pass is a
	// no-op.
	report = r.ReconcileOnce(context.Background())
	assert.Empty(t, report.Drifted)
	assert.Len(t, be.Applies(), 1)
}

func TestServerManagedFieldsAreNotDrift(t *testing.T) {
	be := backend.NewFake()
	be.ServerDefaults = func(res *v1alpha1.Resource) {
		if res.Kind == "Service" {
			res.Spec["clusterIP"] = "10.96.0.17"
		}
	}
	r := newReconciler(t, be, nil)

	svc := &v1alpha1.Resource{
		Kind: "Service", Namespace: "apps", Name: "web",
		Spec: map[string]interface{}{"port": float64(80)},
	}
	require.NoError(t, r.SubmitApply(context.Background(), svc))
	r.SetDesired([]*v1alpha1.Resource{svc})

	report := r.ReconcileOnce(context.Background())
	assert.Empty(t, report.Drifted, "ignored fields must not count as drift")
}

func TestAdmissionGatesCorrectiveWrites(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, []v1alpha1.PolicyRule{{
		Name:  "max-replicas",
		Mode:  v1alpha1.ModeValidate,
		Match: &v1alpha1.MatchSelector{Kinds: []string{"Deployment"}},
		Validate: []v1alpha1.FieldAssertion{{
			Path:     "replicas",
			Operator: v1alpha1.OpNotEquals,
			Value:    "50",
			Message:  "replica count 50 is not allowed",
		}},
	}})

	web := deployment("web", 50)
	be.Seed(managed(deployment("web", 3)))
	r.SetDesired([]*v1alpha1.Resource{web})

	report := r.ReconcileOnce(context.Background())
	require.Len(t, report.Denied, 1)
	assert.Equal(t, "max-replicas", report.Denied[0].Rule)
	assert.Empty(t, be.Applies(), "a denied resource must not be written")
}

func TestOrphanPrunedOnlyAfterTwoPassesAgree(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	orphan := managed(deployment("stale", 1))
	be.Seed(orphan)
	r.SetDesired(nil)

	report := r.ReconcileOnce(context.Background())
	require.Equal(t, []v1alpha1.ResourceRef{orphan.Ref()}, report.OrphanCandidates)
	assert.Empty(t, report.Pruned)
	assert.Empty(t, be.Deletes(), "first sighting must not delete")

	report = r.ReconcileOnce(context.Background())
	require.Equal(t, []v1alpha1.ResourceRef{orphan.Ref()}, report.Pruned)
	assert.Equal(t, []v1alpha1.ResourceRef{orphan.Ref()}, be.Deletes())
}

func TestOrphanReappearingInDesiredIsNotPruned(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	res := managed(deployment("flappy", 1))
	be.Seed(res)
	r.SetDesired(nil)

	report := r.ReconcileOnce(context.Background())
	require.NotEmpty(t, report.OrphanCandidates)

	// The resource returns to the desired set before the second pass; the
	// stale orphan sighting must not carry over.
	r.SetDesired([]*v1alpha1.Resource{deployment("flappy", 1)})
	report = r.ReconcileOnce(context.Background())
	assert.Empty(t, report.Pruned)
	assert.Empty(t, be.Deletes())

	// Removed again: the agreement count starts over.
	r.SetDesired(nil)
	report = r.ReconcileOnce(context.Background())
	assert.Empty(t, report.Pruned)
	require.NotEmpty(t, report.OrphanCandidates)
}

func TestRetainedOrphanIsNeverPruned(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	res := deployment("kept", 1)
	res.Annotations = map[string]string{v1alpha1.RetainAnnotation: "true"}
	be.Seed(managed(res))
	r.SetDesired(nil)

	for i := 0; i < 3; i++ {
		report := r.ReconcileOnce(context.Background())
		assert.Empty(t, report.Pruned)
		assert.Equal(t, []v1alpha1.ResourceRef{res.Ref()}, report.Retained)
	}
	assert.Empty(t, be.Deletes())
}

func TestUnmanagedLiveResourcesAreIgnored(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	// No ownership marker: something another controller wrote.
	be.Seed(deployment("foreign", 1))
	r.SetDesired(nil)

	r.ReconcileOnce(context.Background())
	report := r.ReconcileOnce(context.Background())
	assert.Empty(t, report.OrphanCandidates)
	assert.Empty(t, report.Pruned)
	assert.Empty(t, be.Deletes())
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	web := deployment("web", 3)
	be.FailApplies(web.Ref(), 2)

	require.NoError(t, r.SubmitApply(context.Background(), web))
	assert.Len(t, be.Applies(), 1)
}

func TestInFlightApplyDefersReDiff(t *testing.T) {
	be := backend.NewFake()
	r := newReconciler(t, be, nil)

	web := deployment("web", 3)
	be.Seed(managed(deployment("web", 1)))
	r.SetDesired([]*v1alpha1.Resource{web})

	// Hold the identity lock as if a prior apply were still in flight.
	lock := r.lockFor(web.Ref().String())
	lock.Lock()
	report := r.ReconcileOnce(context.Background())
	lock.Unlock()

	require.Equal(t, []v1alpha1.ResourceRef{web.Ref()}, report.Deferred)
	assert.Empty(t, report.Applied)
	assert.Empty(t, be.Applies())

	// Next pass picks it up.
	report = r.ReconcileOnce(context.Background())
	assert.Equal(t, []v1alpha1.ResourceRef{web.Ref()}, report.Applied)
}
