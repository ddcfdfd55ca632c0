package autoscaler

import (
	"context"
	"sync"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// ReplicaReader reports the current live replica count for a workload.
type ReplicaReader interface {
	CurrentReplicas(ctx context.Context, ref v1alpha1.ResourceRef) (int32, error)
}

// Actuator receives committed recommendations. The loop does not write to
// the cluster itself; actuation is the engine's choice (direct scaling or
// metric emission for an external autoscaler).
type Actuator interface {
	Actuate(ctx context.Context, rec Recommendation) error
}

// Loop evaluates every target on a fixed tick, independent of rollout.
// It reads from the metrics cache snapshot and never takes the
// reconciliation pass lock.
type Loop struct {
	evaluator *Evaluator
	replicas  ReplicaReader
	actuator  Actuator
	interval  time.Duration

	mu      sync.RWMutex
	targets []v1alpha1.AutoscaleTarget
	latest  map[string]Recommendation
}

// NewLoop assembles the decision loop.
func NewLoop(evaluator *Evaluator, replicas ReplicaReader, actuator Actuator, interval time.Duration) *Loop {
	return &Loop{
		evaluator: evaluator,
		replicas:  replicas,
		actuator:  actuator,
		interval:  interval,
		latest:    make(map[string]Recommendation),
	}
}

// SetTargets replaces the evaluated target set.
func (l *Loop) SetTargets(targets []v1alpha1.AutoscaleTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets = targets
}

// Latest returns the most recent recommendation for a workload.
func (l *Loop) Latest(ref v1alpha1.ResourceRef) (Recommendation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.latest[ref.String()]
	return rec, ok
}

// Tick evaluates all targets once.
func (l *Loop) Tick(ctx context.Context) {
	logger := ctrl.LoggerFrom(ctx)

	l.mu.RLock()
	targets := make([]v1alpha1.AutoscaleTarget, len(l.targets))
	copy(targets, l.targets)
	l.mu.RUnlock()

	for _, target := range targets {
		current, err := l.replicas.CurrentReplicas(ctx, target.WorkloadRef)
		if err != nil {
			logger.Error(err, "reading current replicas", "workload", target.WorkloadRef.String())
			continue
		}
		rec := l.evaluator.Evaluate(ctx, target, current)

		l.mu.Lock()
		l.latest[target.WorkloadRef.String()] = rec
		l.mu.Unlock()

		if rec.DesiredReplicas == current || l.actuator == nil {
			continue
		}
		if err := l.actuator.Actuate(ctx, rec); err != nil {
			logger.Error(err, "actuating recommendation",
				"workload", target.WorkloadRef.String(), "desired", rec.DesiredReplicas)
		}
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}
