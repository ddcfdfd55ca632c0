package autoscaler

import (
	"context"
	"math"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"k8s.io/utils/clock"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/logging"
	"github.com/gitops-incubation/wave-engine/internal/metricscache"
)

// DefaultMetricGracePeriod is how long a metric may go without data before
// it is excluded from the desired-count computation.
const DefaultMetricGracePeriod = 2 * time.Minute

// Recommendation is the outcome of one evaluation tick for one target.
type Recommendation struct {
	Workload        v1alpha1.ResourceRef
	CurrentReplicas int32
	DesiredReplicas int32

	// Reason explains the decision: which path produced the count and what
	// bounded it.
	Reason string
}

// Evaluator computes replica recommendations. It keeps per-workload history
// of raw desired counts to drive the trailing stabilization windows; one
// Evaluator instance must see every tick for its targets.
type Evaluator struct {
	cache metricscache.Reader
	clock clock.PassiveClock
	grace time.Duration

	history       map[string]*metricscache.TimeSeries
	lastScaleUp   map[string]time.Time
	lastScaleDown map[string]time.Time
}

// NewEvaluator returns an evaluator reading samples from the cache.
func NewEvaluator(cache metricscache.Reader, c clock.PassiveClock, grace time.Duration) *Evaluator {
	if c == nil {
		c = clock.RealClock{}
	}
	if grace <= 0 {
		grace = DefaultMetricGracePeriod
	}
	return &Evaluator{
		cache:         cache,
		clock:         c,
		grace:         grace,
		history:       make(map[string]*metricscache.TimeSeries),
		lastScaleUp:   make(map[string]time.Time),
		lastScaleDown: make(map[string]time.Time),
	}
}

// Evaluate runs one tick for the target.
func (e *Evaluator) Evaluate(ctx context.Context, target v1alpha1.AutoscaleTarget, currentReplicas int32) Recommendation {
	logger := ctrl.LoggerFrom(ctx)
	now := e.clock.Now()
	key := target.WorkloadRef.String()

	rec := Recommendation{
		Workload:        target.WorkloadRef,
		CurrentReplicas: currentReplicas,
		DesiredReplicas: currentReplicas,
	}

	// Zero replicas with a positive target means the ratio cannot be
	// computed; force at least one replica so samples start flowing again.
	if currentReplicas == 0 {
		rec.DesiredReplicas = clamp(max32(target.MinReplicas, 1), target.MinReplicas, target.MaxReplicas)
		rec.Reason = "zero current replicas, forcing minimum"
		e.recordRaw(key, now, rec.DesiredReplicas, target)
		return rec
	}

	raw, usable := e.rawDesired(target, currentReplicas, now)
	if !usable {
		rec.Reason = "no usable metrics, holding current replicas"
		return rec
	}
	raw = clamp(raw, target.MinReplicas, target.MaxReplicas)
	e.recordRaw(key, now, raw, target)

	switch {
	case raw > currentReplicas:
		rec.DesiredReplicas, rec.Reason = e.scaleUp(key, target, currentReplicas, raw, now)
	case raw < currentReplicas:
		rec.DesiredReplicas, rec.Reason = e.scaleDown(key, target, currentReplicas, raw, now)
	default:
		rec.DesiredReplicas = raw
		rec.Reason = "at recommended replica count"
	}

	rec.DesiredReplicas = clamp(rec.DesiredReplicas, target.MinReplicas, target.MaxReplicas)
	if rec.DesiredReplicas != currentReplicas {
		logger.V(logging.DEBUG).Info("replica recommendation",
			"workload", key, "current", currentReplicas,
			"raw", raw, "desired", rec.DesiredReplicas, "reason", rec.Reason)
	}
	return rec
}

// rawDesired computes the max-across-metrics raw count. The second return is
// false when no metric had fresh data.
func (e *Evaluator) rawDesired(target v1alpha1.AutoscaleTarget, current int32, now time.Time) (int32, bool) {
	raw := int32(0)
	usable := false
	for _, m := range target.Metrics {
		sample, ok := e.cache.Latest(target.WorkloadRef, m.Type)
		if !ok || now.Sub(sample.Timestamp) > e.grace {
			continue
		}
		desired := int32(math.Ceil(float64(current) * sample.Value / m.Target))
		if desired > raw {
			raw = desired
		}
		usable = true
	}
	return raw, usable
}

func (e *Evaluator) scaleUp(key string, target v1alpha1.AutoscaleTarget, current, raw int32, now time.Time) (int32, string) {
	policy := target.ScaleUpPolicy
	if window := policy.StabilizationWindow(); window > 0 {
		// An up-window is opt-in: the increase only commits when even the
		// lowest raw value in the window calls for more replicas.
		if min, ok := e.trailingMin(key, now, window); ok && int32(min) <= current {
			return current, "scale-up held by stabilization window"
		}
	}
	if rate := e.sincePeriod(e.lastScaleUp[key], policy, now); !rate {
		return current, "scale-up rate limited by policy period"
	}

	desired := raw
	if policy != nil {
		step := policyStep(policy, current)
		if capped := current + step; capped < desired {
			desired = capped
		}
	}
	if desired > target.MaxReplicas {
		desired = target.MaxReplicas
	}
	if desired > current {
		e.lastScaleUp[key] = now
		if desired < raw {
			return desired, "scale-up capped by policy step"
		}
		return desired, "scaling up to recommendation"
	}
	return current, "scale-up step exhausted"
}

func (e *Evaluator) scaleDown(key string, target v1alpha1.AutoscaleTarget, current, raw int32, now time.Time) (int32, string) {
	policy := target.ScaleDownPolicy
	window := policy.StabilizationWindow()
	candidate := raw
	if window > 0 {
		min, ok := e.trailingMin(key, now, window)
		if !ok || int32(min) >= current {
			// A momentary dip must not trigger a scale-down: the lowest
			// raw value across the whole window has to be below current.
			return current, "scale-down held by stabilization window"
		}
		// Move to the most conservative (highest) recommendation seen in
		// the window, never below it.
		if maxRaw, ok := e.trailingMax(key, now, window); ok && int32(maxRaw) > candidate {
			candidate = int32(maxRaw)
		}
	}
	if rate := e.sincePeriod(e.lastScaleDown[key], policy, now); !rate {
		return current, "scale-down rate limited by policy period"
	}

	if policy != nil {
		step := policyStep(policy, current)
		if floor := current - step; floor > candidate {
			candidate = floor
		}
	}
	if candidate < target.MinReplicas {
		candidate = target.MinReplicas
	}
	if candidate < current {
		e.lastScaleDown[key] = now
		return candidate, "scaling down to stabilized recommendation"
	}
	return current, "scale-down step exhausted"
}

// recordRaw appends the raw desired value to the workload's history and
// prunes beyond the longest relevant window.
func (e *Evaluator) recordRaw(key string, now time.Time, raw int32, target v1alpha1.AutoscaleTarget) {
	ts, ok := e.history[key]
	if !ok {
		ts = &metricscache.TimeSeries{Workload: target.WorkloadRef}
		e.history[key] = ts
	}
	ts.AddPoint(now, float64(raw))

	retention := target.ScaleUpPolicy.StabilizationWindow()
	if down := target.ScaleDownPolicy.StabilizationWindow(); down > retention {
		retention = down
	}
	if retention == 0 {
		retention = time.Minute
	}
	ts.Prune(now, retention+time.Minute)
}

func (e *Evaluator) trailingMin(key string, now time.Time, window time.Duration) (float64, bool) {
	ts, ok := e.history[key]
	if !ok {
		return 0, false
	}
	return ts.MinInWindow(now, window)
}

func (e *Evaluator) trailingMax(key string, now time.Time, window time.Duration) (float64, bool) {
	ts, ok := e.history[key]
	if !ok {
		return 0, false
	}
	points := ts.InWindow(now, window)
	if len(points) == 0 {
		return 0, false
	}
	max := points[0].Value
	for _, p := range points[1:] {
		if p.Value > max {
			max = p.Value
		}
	}
	return max, true
}

// sincePeriod reports whether enough time has passed since the last change
// in this direction for another step.
func (e *Evaluator) sincePeriod(last time.Time, policy *v1alpha1.ScalePolicy, now time.Time) bool {
	if policy == nil || last.IsZero() {
		return true
	}
	return now.Sub(last) >= time.Duration(policy.PeriodSeconds)*time.Second
}

// policyStep returns the maximum replica delta the policy allows per period.
func policyStep(policy *v1alpha1.ScalePolicy, current int32) int32 {
	switch policy.Type {
	case v1alpha1.PolicyPercent:
		step := int32(math.Floor(float64(current) * float64(policy.Value) / 100.0))
		if step < 1 {
			step = 1
		}
		return step
	case v1alpha1.PolicyPods:
		return policy.Value
	default:
		return 1
	}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
