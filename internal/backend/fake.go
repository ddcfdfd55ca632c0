package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// Fake is an in-memory backend for tests and dry-run flows. It records every
// write, supports injected apply failures, and lets tests drive health
// transitions.
type Fake struct {
	mu sync.Mutex

	live map[string]*v1alpha1.Resource

	// ServerDefaults, when set, is applied to every stored document to
	// simulate server-assigned fields the reconciler must ignore.
	ServerDefaults func(res *v1alpha1.Resource)

	applyFailures map[string]int
	applies       []v1alpha1.ResourceRef
	deletes       []v1alpha1.ResourceRef

	healthy  map[string]bool
	watchers map[string][]chan HealthEvent
}

// NewFake returns an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		live:          make(map[string]*v1alpha1.Resource),
		applyFailures: make(map[string]int),
		healthy:       make(map[string]bool),
		watchers:      make(map[string][]chan HealthEvent),
	}
}

// FailApplies makes the next n Apply calls for ref fail.
func (f *Fake) FailApplies(ref v1alpha1.ResourceRef, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyFailures[ref.String()] = n
}

// Applies returns every recorded apply in order.
func (f *Fake) Applies() []v1alpha1.ResourceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]v1alpha1.ResourceRef, len(f.applies))
	copy(out, f.applies)
	return out
}

// Deletes returns every recorded delete in order.
func (f *Fake) Deletes() []v1alpha1.ResourceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]v1alpha1.ResourceRef, len(f.deletes))
	copy(out, f.deletes)
	return out
}

// Seed stores a live resource without recording an apply.
func (f *Fake) Seed(res *v1alpha1.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := res.DeepCopy()
	if f.ServerDefaults != nil {
		f.ServerDefaults(stored)
	}
	f.live[res.Ref().String()] = stored
}

// Apply implements Interface.
func (f *Fake) Apply(_ context.Context, res *v1alpha1.Resource) (AppliedRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := res.Ref().String()
	if n := f.applyFailures[key]; n > 0 {
		f.applyFailures[key] = n - 1
		return AppliedRef{}, &ApplyError{Ref: res.Ref(), Err: fmt.Errorf("injected failure")}
	}

	stored := res.DeepCopy()
	if f.ServerDefaults != nil {
		f.ServerDefaults(stored)
	}
	f.live[key] = stored
	f.applies = append(f.applies, res.Ref())
	return AppliedRef{Ref: res.Ref(), Generation: res.Generation}, nil
}

// Get implements Interface.
func (f *Fake) Get(_ context.Context, ref v1alpha1.ResourceRef) (*v1alpha1.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.live[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return res.DeepCopy(), nil
}

// List implements Interface.
func (f *Fake) List(_ context.Context) ([]*v1alpha1.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*v1alpha1.Resource, 0, len(f.live))
	for _, res := range f.live {
		out = append(out, res.DeepCopy())
	}
	return out, nil
}

// Delete implements Interface.
func (f *Fake) Delete(_ context.Context, ref v1alpha1.ResourceRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, ref.String())
	f.deletes = append(f.deletes, ref)
	return nil
}

// WatchHealth implements Interface. SetHealthy drives events.
func (f *Fake) WatchHealth(_ context.Context, ref v1alpha1.ResourceRef) (<-chan HealthEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ref.String()
	ch := make(chan HealthEvent, 16)
	f.watchers[key] = append(f.watchers[key], ch)

	// Replay current state so late subscribers see already-healthy
	// resources without an extra transition.
	if healthy, known := f.healthy[key]; known {
		ch <- HealthEvent{Ref: ref, Healthy: healthy, Timestamp: time.Now()}
	}

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.watchers[key]
		for i, c := range chans {
			if c == ch {
				f.watchers[key] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// SetHealthy records a readiness transition and notifies watchers.
func (f *Fake) SetHealthy(ref v1alpha1.ResourceRef, healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ref.String()
	f.healthy[key] = healthy
	event := HealthEvent{Ref: ref, Healthy: healthy, Timestamp: time.Now()}
	for _, ch := range f.watchers[key] {
		select {
		case ch <- event:
		default:
			// Slow watcher; drop rather than block the notifier.
		}
	}
}

var _ Interface = (*Fake)(nil)
