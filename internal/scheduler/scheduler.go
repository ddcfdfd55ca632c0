/*
Copyright 2025 The Wave Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/admission"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/graph"
	"github.com/gitops-incubation/wave-engine/internal/logging"
)

// State of one wave in the rollout.
type State string

const (
	StatePending        State = "Pending"
	StateApplying       State = "Applying"
	StateAwaitingHealth State = "AwaitingHealth"
	StateHealthy        State = "Healthy"
	StateTimedOut       State = "TimedOut"
	StateFailed         State = "Failed"
)

// Terminal reports whether the automatic scheduler will not move the wave
// further. TimedOut is terminal here but an operator retry can still reach
// Healthy from it.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateTimedOut || s == StateFailed
}

// ErrWaveTimedOut is returned by Run when a wave missed its health deadline
// and the rollout stopped there.
var ErrWaveTimedOut = errors.New("wave missed its health deadline")

// ErrWaveFailed is returned by Run when admission rejected a wave.
var ErrWaveFailed = errors.New("wave rejected by admission")

// WaveStatus is the externally visible state of one wave.
type WaveStatus struct {
	Priority int
	State    State

	// Resources lists what the wave would apply, in graph order.
	Resources []v1alpha1.ResourceRef

	// Violations is populated when admission failed the wave.
	Violations []v1alpha1.Violation

	// Reason explains a terminal state in one line.
	Reason string
}

// Applier submits one admitted resource for apply. Implemented by the drift
// reconciler; the scheduler never writes to the backend directly.
type Applier interface {
	SubmitApply(ctx context.Context, res *v1alpha1.Resource) error
}

// HealthWatcher streams health transitions for a resource.
// backend.Interface satisfies this.
type HealthWatcher interface {
	WatchHealth(ctx context.Context, ref v1alpha1.ResourceRef) (<-chan backend.HealthEvent, func(), error)
}

// Config for a rollout.
type Config struct {
	// WaveDeadline bounds the AwaitingHealth phase per wave.
	WaveDeadline time.Duration

	// Parallel disables the prior-wave-healthy gate and rolls all waves
	// out concurrently.
	Parallel bool

	// Clock is injectable for tests. Nil means the real clock.
	Clock clock.Clock
}

// Scheduler rolls a wave list out against the backend. One Scheduler
// instance serves one reconciliation pass.
type Scheduler struct {
	engine  *admission.Engine
	applier Applier
	health  HealthWatcher
	cfg     Config

	mu       sync.Mutex
	statuses map[int]*WaveStatus
	waves    map[int]graph.Wave
}

// New returns a scheduler for one pass.
func New(engine *admission.Engine, applier Applier, health HealthWatcher, cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.WaveDeadline <= 0 {
		cfg.WaveDeadline = 5 * time.Minute
	}
	return &Scheduler{
		engine:   engine,
		applier:  applier,
		health:   health,
		cfg:      cfg,
		statuses: make(map[int]*WaveStatus),
		waves:    make(map[int]graph.Wave),
	}
}

// Statuses returns a snapshot of every known wave, ascending by priority.
func (s *Scheduler) Statuses() []WaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WaveStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sortStatuses(out)
	return out
}

// Status returns one wave's state.
func (s *Scheduler) Status(priority int) (WaveStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[priority]
	if !ok {
		return WaveStatus{}, false
	}
	return *st, true
}

// Run rolls the waves out in order. It returns nil when every wave reached
// Healthy. A failed or timed-out wave stops the rollout and later waves
// stay Pending; cancellation lets in-flight applies finish but schedules no
// further waves.
func (s *Scheduler) Run(ctx context.Context, waves []graph.Wave) error {
	s.mu.Lock()
	for _, w := range waves {
		s.waves[w.Priority] = w
		s.statuses[w.Priority] = &WaveStatus{
			Priority:  w.Priority,
			State:     StatePending,
			Resources: refsOf(w.Resources),
		}
	}
	s.mu.Unlock()

	if s.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, w := range waves {
			wave := w
			g.Go(func() error { return s.runWave(gctx, wave) })
		}
		return g.Wait()
	}

	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			s.setReason(wave.Priority, StatePending, "rollout cancelled before this wave started")
			return err
		}
		if err := s.runWave(ctx, wave); err != nil {
			return err
		}
	}
	return nil
}

// Retry re-runs a TimedOut wave from scratch, admission included. Retrying
// a wave in any other state is an error.
func (s *Scheduler) Retry(ctx context.Context, priority int) error {
	s.mu.Lock()
	st, ok := s.statuses[priority]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown wave %d", priority)
	}
	if st.State != StateTimedOut {
		s.mu.Unlock()
		return fmt.Errorf("wave %d is %s, only TimedOut waves can be retried", priority, st.State)
	}
	wave := s.waves[priority]
	st.State = StatePending
	st.Reason = ""
	st.Violations = nil
	s.mu.Unlock()

	return s.runWave(ctx, wave)
}

func (s *Scheduler) runWave(ctx context.Context, wave graph.Wave) error {
	logger := ctrl.LoggerFrom(ctx).WithValues("wave", wave.Priority)

	// Admission gates the whole wave before any apply. Generated
	// companions are not applied from the decision here: they were
	// materialized into the wave list upfront and go through this same
	// gate as ordinary wave members.
	admitted := make([]*v1alpha1.Resource, 0, len(wave.Resources))
	var violations []v1alpha1.Violation
	rejected := 0
	for _, res := range wave.Resources {
		decision, err := s.engine.Admit(ctx, res)
		if err != nil {
			s.fail(wave.Priority, nil, fmt.Sprintf("admission error for %s: %v", res.Ref(), err))
			return fmt.Errorf("%w: %v", ErrWaveFailed, err)
		}
		violations = append(violations, decision.Violations...)
		if !decision.Allowed {
			rejected++
			continue
		}
		admitted = append(admitted, decision.Resource)
	}
	if rejected > 0 {
		s.fail(wave.Priority, violations,
			fmt.Sprintf("admission rejected %d of %d resources, nothing applied",
				rejected, len(wave.Resources)))
		logger.Info("wave failed admission", "violations", len(violations))
		return ErrWaveFailed
	}

	s.setState(wave.Priority, StateApplying)
	g, gctx := errgroup.WithContext(ctx)
	for _, res := range admitted {
		res := res
		g.Go(func() error {
			if err := s.applier.SubmitApply(gctx, res); err != nil {
				return fmt.Errorf("apply %s: %w", res.Ref(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(wave.Priority, violations, err.Error())
		return fmt.Errorf("%w: %v", ErrWaveFailed, err)
	}

	s.setState(wave.Priority, StateAwaitingHealth)
	if err := s.awaitHealth(ctx, refsOf(wave.Resources)); err != nil {
		if errors.Is(err, ErrWaveTimedOut) {
			s.setReason(wave.Priority, StateTimedOut,
				fmt.Sprintf("health deadline of %s exceeded", s.cfg.WaveDeadline))
			logger.Info("wave timed out awaiting health")
			return ErrWaveTimedOut
		}
		s.setReason(wave.Priority, StateAwaitingHealth, err.Error())
		return err
	}

	s.setState(wave.Priority, StateHealthy)
	logger.V(logging.DEBUG).Info("wave healthy", "resources", len(wave.Resources))
	return nil
}

// awaitHealth blocks until every ref reports healthy, the deadline passes,
// or the context is cancelled.
func (s *Scheduler) awaitHealth(ctx context.Context, refs []v1alpha1.ResourceRef) error {
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	events := make(chan backend.HealthEvent)
	for _, ref := range refs {
		ch, cancel, err := s.health.WatchHealth(watchCtx, ref)
		if err != nil {
			return fmt.Errorf("watch health of %s: %w", ref, err)
		}
		defer cancel()
		go func() {
			for {
				select {
				case <-watchCtx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case events <- ev:
					case <-watchCtx.Done():
						return
					}
				}
			}
		}()
	}

	deadline := s.cfg.Clock.After(s.cfg.WaveDeadline)
	healthy := make(map[v1alpha1.ResourceRef]bool, len(refs))
	for len(healthy) < len(refs) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrWaveTimedOut
		case ev := <-events:
			if ev.Healthy {
				healthy[ev.Ref] = true
			} else {
				delete(healthy, ev.Ref)
			}
		}
	}
	return nil
}

func (s *Scheduler) setState(priority int, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[priority]; ok {
		st.State = state
	}
}

func (s *Scheduler) setReason(priority int, state State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[priority]; ok {
		st.State = state
		st.Reason = reason
	}
}

func (s *Scheduler) fail(priority int, violations []v1alpha1.Violation, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[priority]; ok {
		st.State = StateFailed
		st.Violations = violations
		st.Reason = reason
	}
}

func refsOf(resources []*v1alpha1.Resource) []v1alpha1.ResourceRef {
	refs := make([]v1alpha1.ResourceRef, len(resources))
	for i, res := range resources {
		refs[i] = res.Ref()
	}
	return refs
}

func sortStatuses(statuses []WaveStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Priority < statuses[j].Priority
	})
}
