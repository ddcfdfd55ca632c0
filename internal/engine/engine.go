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

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/admission"
	"github.com/gitops-incubation/wave-engine/internal/audit"
	"github.com/gitops-incubation/wave-engine/internal/autoscaler"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/collector"
	"github.com/gitops-incubation/wave-engine/internal/config"
	"github.com/gitops-incubation/wave-engine/internal/graph"
	"github.com/gitops-incubation/wave-engine/internal/metrics"
	"github.com/gitops-incubation/wave-engine/internal/metricscache"
	"github.com/gitops-incubation/wave-engine/internal/reachability"
	"github.com/gitops-incubation/wave-engine/internal/reconciler"
	"github.com/gitops-incubation/wave-engine/internal/scheduler"
	"github.com/gitops-incubation/wave-engine/internal/store"
)

// Pass outcomes, used as the metrics label and on the report.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed-out"
	OutcomeCancelled = "cancelled"
)

// PassOptions select what one pass operates on.
type PassOptions struct {
	// SnapshotRef names the desired-state snapshot to load. Empty means
	// the store's default.
	SnapshotRef string

	// DryRun evaluates the full pass against a shadow copy of live state.
	// Nothing is written to the real backend.
	DryRun bool
}

// PassReport is the complete record of one reconciliation pass.
type PassReport struct {
	ID          string
	SnapshotRef string
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  time.Time

	Outcome      string
	CancelReason string
	Err          string

	// BootstrapErrors lists malformed policy resources skipped during
	// policy load.
	BootstrapErrors []string

	// ConfigErrors lists malformed network rules and autoscale targets.
	ConfigErrors []string

	// Blocked maps unschedulable resources to the reason.
	Blocked map[v1alpha1.ResourceRef]string

	// Superseded counts older generations collapsed out of the snapshot.
	Superseded int

	Waves      []scheduler.WaveStatus
	Violations []v1alpha1.Violation

	// Statuses holds the per-resource conditions derived from the pass.
	Statuses map[v1alpha1.ResourceRef]v1alpha1.ResourceStatus

	// Reconcile is the drift pass that followed the rollout. Nil for
	// dry runs that failed before reconciliation.
	Reconcile *reconciler.Report
}

// Options wire the engine's collaborators.
type Options struct {
	Store   store.Interface
	Backend backend.Interface

	// Source feeds the metrics cache. Nil disables collection; the
	// autoscaler then holds every workload at its current count.
	Source collector.Source

	// Audit receives decision records. Nil discards them.
	Audit audit.Sink

	Config config.EngineConfig

	// Clock is injectable for tests. Nil means the real clock.
	Clock clock.Clock
}

// Engine owns the reconciliation pass lifecycle and the long-lived loops.
type Engine struct {
	cfg     config.EngineConfig
	store   store.Interface
	backend backend.Interface
	sink    audit.Sink
	clock   clock.Clock

	loader     *admission.Loader
	reconciler *reconciler.Reconciler
	reach      *reachability.Evaluator
	limiter    *KindLimiter

	cache     *metricscache.MemoryCache
	collector *collector.Collector
	loop      *autoscaler.Loop

	// passMu serializes passes; readers never take it.
	passMu sync.Mutex

	mu           sync.Mutex
	passCancel   context.CancelFunc
	cancelReason string
	lastReport   *PassReport
	snapshot     []*v1alpha1.Resource
}

// New assembles an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Backend == nil {
		return nil, fmt.Errorf("engine needs a store and a backend")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Audit == nil {
		opts.Audit = &audit.Memory{}
	}

	empty, err := admission.NewEngine(nil, nil)
	if err != nil {
		return nil, err
	}

	cache := metricscache.NewMemoryCache(opts.Clock)
	evaluator := autoscaler.NewEvaluator(cache, opts.Clock, 0)
	replicas := &backendReplicas{backend: opts.Backend}

	e := &Engine{
		cfg:     opts.Config,
		store:   opts.Store,
		backend: opts.Backend,
		sink:    opts.Audit,
		clock:   opts.Clock,
		loader:  admission.NewLoader(),
		reconciler: reconciler.New(opts.Backend, empty, reconciler.Config{
			MaxApplyAttempts: opts.Config.MaxApplyAttempts,
			RetryBaseDelay:   opts.Config.RetryBaseDelay,
			Interval:         opts.Config.ReconcileInterval,
		}),
		reach:   reachability.NewEvaluator(),
		limiter: NewKindLimiter(opts.Config.DefaultConcurrency, opts.Config.KindConcurrency),
		cache:   cache,
	}
	e.loop = autoscaler.NewLoop(evaluator, replicas, &scaleActuator{backend: opts.Backend, sink: opts.Audit},
		opts.Config.AutoscaleInterval)
	if opts.Source != nil {
		e.collector = collector.New(opts.Source, cache, opts.Config.CollectInterval, opts.Clock)
	}
	return e, nil
}

// RunPass executes one full reconciliation pass. Passes are serialized;
// a concurrent call blocks until the active pass finishes.
func (e *Engine) RunPass(ctx context.Context, opts PassOptions) (*PassReport, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.passCancel = cancel
	e.cancelReason = ""
	e.mu.Unlock()

	report := &PassReport{
		ID:          uuid.NewString(),
		SnapshotRef: opts.SnapshotRef,
		DryRun:      opts.DryRun,
		StartedAt:   e.clock.Now(),
	}
	logger := ctrl.LoggerFrom(ctx).WithValues("pass", report.ID, "dryRun", opts.DryRun)
	passCtx = ctrl.LoggerInto(passCtx, logger)
	e.emit(audit.EventPass, v1alpha1.ResourceRef{}, report.ID, "pass started")

	err := e.runPass(passCtx, opts, report)
	report.FinishedAt = e.clock.Now()
	if report.Outcome == "" {
		if err != nil {
			report.Outcome = OutcomeFailed
			report.Err = err.Error()
		} else {
			report.Outcome = OutcomeSucceeded
		}
	}
	metrics.PassesTotal.WithLabelValues(report.Outcome).Inc()
	e.emit(audit.EventPass, v1alpha1.ResourceRef{}, report.ID,
		fmt.Sprintf("pass finished: %s", report.Outcome))
	logger.Info("pass finished", "outcome", report.Outcome,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())

	e.mu.Lock()
	e.lastReport = report
	e.passCancel = nil
	e.mu.Unlock()
	return report, err
}

func (e *Engine) runPass(ctx context.Context, opts PassOptions, report *PassReport) error {
	resources, err := e.store.ListDesiredResources(ctx, opts.SnapshotRef)
	if err != nil {
		return fmt.Errorf("load desired snapshot: %w", err)
	}

	admEngine, bootErrs := e.loader.Load(ctx, resources)
	for _, be := range bootErrs {
		report.BootstrapErrors = append(report.BootstrapErrors, be.Error())
	}

	// Generated companions join the desired set before anything reads it:
	// they get graph edges, pass wave admission, are health-gated, and the
	// drift pass treats them as desired instead of pruning them as orphans.
	generated, err := admEngine.Materialize(ctx, resources)
	if err != nil {
		return fmt.Errorf("materialize generated resources: %w", err)
	}
	resources = append(resources, generated...)

	netRules, netErrs := parseNetworkRules(resources)
	for _, err := range netErrs {
		report.ConfigErrors = append(report.ConfigErrors, err.Error())
	}
	if err := e.reach.SetRules(netRules); err != nil {
		report.ConfigErrors = append(report.ConfigErrors, err.Error())
	}
	for _, ns := range openNamespaces(resources) {
		e.reach.SetNamespaceOpen(ns, true)
	}

	targets, targetErrs := parseAutoscaleTargets(resources)
	for _, err := range targetErrs {
		report.ConfigErrors = append(report.ConfigErrors, err.Error())
	}
	e.loop.SetTargets(targets)
	if e.collector != nil {
		e.collector.SetTargets(targets)
	}

	result, err := graph.Build(resources)
	if err != nil {
		return fmt.Errorf("build resource graph: %w", err)
	}
	report.Blocked = result.Blocked
	report.Superseded = len(result.Superseded)

	be := e.backend
	rec := e.reconciler
	if opts.DryRun {
		be, rec, err = e.shadow(ctx, admEngine)
		if err != nil {
			return err
		}
	} else {
		rec.SetEngine(admEngine)
	}
	rec.SetDesired(flattenWaves(result.Waves))

	var applier scheduler.Applier = rec
	if opts.DryRun {
		applier = &dryRunApplier{inner: rec, fake: be.(*backend.Fake)}
	}
	sched := scheduler.New(admEngine, &limitedApplier{inner: applier, limiter: e.limiter}, be,
		scheduler.Config{
			WaveDeadline: e.cfg.WaveDeadline,
			Parallel:     e.cfg.Parallel,
			Clock:        e.clock,
		})

	waveStart := e.clock.Now()
	waveErr := sched.Run(ctx, result.Waves)
	report.Waves = sched.Statuses()
	for _, st := range report.Waves {
		if st.State.Terminal() {
			metrics.WaveDurationSeconds.WithLabelValues(string(st.State)).
				Observe(e.clock.Since(waveStart).Seconds())
		}
		for _, v := range st.Violations {
			metrics.AdmissionViolationsTotal.
				WithLabelValues(v.Rule, string(v.FailurePolicy)).Inc()
			e.emit(audit.EventViolation, v.Resource, report.ID, v.String())
		}
		report.Violations = append(report.Violations, st.Violations...)
	}
	report.Statuses = buildStatuses(result, report, e.clock.Now())

	recReport := rec.ReconcileOnce(ctx)
	report.Reconcile = recReport
	metrics.DriftTotal.Add(float64(len(recReport.Drifted)))
	metrics.PrunedTotal.Add(float64(len(recReport.Pruned)))
	for _, ref := range recReport.Pruned {
		e.emit(audit.EventPrune, ref, report.ID, "orphan pruned after two passes agreed")
	}

	if !opts.DryRun {
		snap, err := be.List(ctx)
		if err == nil {
			e.mu.Lock()
			e.snapshot = snap
			e.mu.Unlock()
		}
	}

	switch {
	case errors.Is(waveErr, context.Canceled):
		e.mu.Lock()
		report.CancelReason = e.cancelReason
		e.mu.Unlock()
		report.Outcome = OutcomeCancelled
		return waveErr
	case errors.Is(waveErr, scheduler.ErrWaveTimedOut):
		report.Outcome = OutcomeTimedOut
		report.Err = waveErr.Error()
		return waveErr
	case waveErr != nil:
		report.Outcome = OutcomeFailed
		report.Err = waveErr.Error()
		return waveErr
	}
	return nil
}

// shadow builds a fake backend seeded from live state for dry runs.
func (e *Engine) shadow(ctx context.Context, admEngine *admission.Engine) (backend.Interface, *reconciler.Reconciler, error) {
	live, err := e.backend.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot live state for dry run: %w", err)
	}
	fake := backend.NewFake()
	for _, res := range live {
		fake.Seed(res)
	}
	rec := reconciler.New(fake, admEngine, reconciler.Config{
		MaxApplyAttempts: e.cfg.MaxApplyAttempts,
		RetryBaseDelay:   e.cfg.RetryBaseDelay,
		Interval:         e.cfg.ReconcileInterval,
	})
	return fake, rec, nil
}

// CancelPass aborts the active pass, if any. In-flight applies finish; no
// further waves start. The reason lands on the pass report.
func (e *Engine) CancelPass(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passCancel != nil {
		e.cancelReason = reason
		e.passCancel()
	}
}

// LastReport returns the most recent pass report, if any.
func (e *Engine) LastReport() *PassReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// LiveSnapshot returns the live state captured at the end of the last
// pass. Safe to call while a pass runs; never blocks on the pass mutex.
func (e *Engine) LiveSnapshot() []*v1alpha1.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*v1alpha1.Resource, len(e.snapshot))
	copy(out, e.snapshot)
	return out
}

// Reachability exposes the network evaluator for diagnostics.
func (e *Engine) Reachability() *reachability.Evaluator { return e.reach }

// Autoscaler exposes the decision loop's latest recommendations.
func (e *Engine) Autoscaler() *autoscaler.Loop { return e.loop }

// Start runs the long-lived loops until the context is cancelled: metric
// collection, the autoscaler tick, the steady-state reconciler, and the
// Prometheus endpoint.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.collector != nil {
		g.Go(func() error {
			e.collector.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		e.loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		e.reconciler.Run(gctx)
		return nil
	})
	if e.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) emit(kind audit.EventKind, ref v1alpha1.ResourceRef, passID, msg string) {
	e.sink.Emit(audit.Record{
		Time:     e.clock.Now(),
		PassID:   passID,
		Kind:     kind,
		Resource: ref,
		Message:  msg,
	})
}

func flattenWaves(waves []graph.Wave) []*v1alpha1.Resource {
	var out []*v1alpha1.Resource
	for _, w := range waves {
		out = append(out, w.Resources...)
	}
	return out
}

// dryRunApplier marks resources healthy right after the shadow apply so
// waves complete without a live health source.
type dryRunApplier struct {
	inner scheduler.Applier
	fake  *backend.Fake
}

func (a *dryRunApplier) SubmitApply(ctx context.Context, res *v1alpha1.Resource) error {
	if err := a.inner.SubmitApply(ctx, res); err != nil {
		return err
	}
	a.fake.SetHealthy(res.Ref(), true)
	return nil
}

// backendReplicas reads the live replica count off the workload document.
type backendReplicas struct {
	backend backend.Interface
}

func (r *backendReplicas) CurrentReplicas(ctx context.Context, ref v1alpha1.ResourceRef) (int32, error) {
	res, err := r.backend.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	n, ok := res.Spec["replicas"].(float64)
	if !ok {
		return 0, fmt.Errorf("%s has no numeric replicas field", ref)
	}
	return int32(n), nil
}

// scaleActuator writes committed recommendations back to the workload.
type scaleActuator struct {
	backend backend.Interface
	sink    audit.Sink
}

func (a *scaleActuator) Actuate(ctx context.Context, rec autoscaler.Recommendation) error {
	res, err := a.backend.Get(ctx, rec.Workload)
	if err != nil {
		return err
	}
	res.Spec["replicas"] = float64(rec.DesiredReplicas)
	if _, err := a.backend.Apply(ctx, res); err != nil {
		return err
	}
	metrics.DesiredReplicas.WithLabelValues(rec.Workload.String()).
		Set(float64(rec.DesiredReplicas))
	a.sink.Emit(audit.Record{
		Time:     time.Now(),
		Kind:     audit.EventScale,
		Resource: rec.Workload,
		Message:  fmt.Sprintf("replicas %d -> %d: %s", rec.CurrentReplicas, rec.DesiredReplicas, rec.Reason),
	})
	return nil
}
