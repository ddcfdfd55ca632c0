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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/admission"
	"github.com/gitops-incubation/wave-engine/internal/backend"
	"github.com/gitops-incubation/wave-engine/internal/logging"
	"github.com/gitops-incubation/wave-engine/internal/metrics"
)

// Report summarizes one reconciliation pass.
type Report struct {
	// Drifted lists resources whose live document diverged from desired.
	Drifted []v1alpha1.ResourceRef

	// Applied lists corrective writes that landed this pass.
	Applied []v1alpha1.ResourceRef

	// Deferred lists resources skipped because a prior apply was still in
	// flight. They are re-diffed next pass.
	Deferred []v1alpha1.ResourceRef

	// Denied lists violations that blocked a corrective write.
	Denied []v1alpha1.Violation

	// OrphanCandidates lists owned live resources absent from the desired
	// set, seen for the first time this pass.
	OrphanCandidates []v1alpha1.ResourceRef

	// Pruned lists orphans deleted after two consecutive passes agreed.
	Pruned []v1alpha1.ResourceRef

	// Retained lists orphans kept because they carry the retain marker.
	Retained []v1alpha1.ResourceRef

	// Errors holds per-resource apply failures. A failed apply never
	// aborts the rest of the pass.
	Errors []error
}

// Config bounds the reconciler's writes.
type Config struct {
	// MaxApplyAttempts caps backoff retries per apply. Zero means 4.
	MaxApplyAttempts uint

	// RetryBaseDelay is the first backoff interval. Zero means 250ms.
	RetryBaseDelay time.Duration

	// Interval between periodic passes for Run. Zero means 30s.
	Interval time.Duration

	Ignore IgnoreRules
}

// Reconciler drives live state toward the desired set.
type Reconciler struct {
	backend backend.Interface
	cfg     Config

	mu      sync.Mutex
	engine  *admission.Engine
	desired map[string]*v1alpha1.Resource
	locks   map[string]*sync.Mutex
	orphans map[string]bool

	trigger chan struct{}
}

// New returns a reconciler writing through the given backend.
func New(be backend.Interface, engine *admission.Engine, cfg Config) *Reconciler {
	if cfg.MaxApplyAttempts == 0 {
		cfg.MaxApplyAttempts = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Ignore == nil {
		cfg.Ignore = DefaultIgnoreRules()
	}
	return &Reconciler{
		backend: be,
		cfg:     cfg,
		engine:  engine,
		desired: make(map[string]*v1alpha1.Resource),
		locks:   make(map[string]*sync.Mutex),
		orphans: make(map[string]bool),
		trigger: make(chan struct{}, 1),
	}
}

// SetEngine swaps the admission engine, typically after a policy reload.
func (r *Reconciler) SetEngine(engine *admission.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = engine
}

// SetDesired replaces the tracked desired set. Resources removed from the
// set become prune candidates on the next pass.
func (r *Reconciler) SetDesired(resources []*v1alpha1.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desired = make(map[string]*v1alpha1.Resource, len(resources))
	for _, res := range resources {
		r.desired[res.Ref().String()] = res
	}
}

// SubmitApply writes one admitted resource, serialized per identity and
// retried with bounded backoff. A resource whose live document already
// matches is left alone. It blocks until the write lands or the attempt
// budget is spent.
func (r *Reconciler) SubmitApply(ctx context.Context, res *v1alpha1.Resource) error {
	lock := r.lockFor(res.Ref().String())
	lock.Lock()
	defer lock.Unlock()

	live, err := r.backend.Get(ctx, res.Ref())
	if err == nil && Diff(res, live, r.cfg.Ignore) == "" {
		return nil
	}
	return r.apply(ctx, res)
}

// Trigger requests an immediate pass from Run. Coalesced if one is already
// pending.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles periodically until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		report := r.ReconcileOnce(ctx)
		logger := ctrl.LoggerFrom(ctx)
		logger.V(logging.DEBUG).Info("reconciliation pass complete",
			"drifted", len(report.Drifted), "applied", len(report.Applied),
			"deferred", len(report.Deferred), "pruned", len(report.Pruned),
			"errors", len(report.Errors))
	}
}

// ReconcileOnce runs a single pass over the whole desired set plus orphan
// detection. It never returns early; per-resource failures are collected in
// the report.
func (r *Reconciler) ReconcileOnce(ctx context.Context) *Report {
	logger := ctrl.LoggerFrom(ctx)
	report := &Report{}

	r.mu.Lock()
	engine := r.engine
	keys := make([]string, 0, len(r.desired))
	desired := make(map[string]*v1alpha1.Resource, len(r.desired))
	for k, res := range r.desired {
		keys = append(keys, k)
		desired[k] = res
	}
	r.mu.Unlock()
	sort.Strings(keys)

	for _, key := range keys {
		res := desired[key]
		ref := res.Ref()

		live, err := r.backend.Get(ctx, ref)
		switch {
		case errors.Is(err, backend.ErrNotFound):
			// Missing entirely counts as drift.
		case err != nil:
			report.Errors = append(report.Errors, fmt.Errorf("get %s: %w", ref, err))
			continue
		default:
			if Diff(res, live, r.cfg.Ignore) == "" {
				continue
			}
		}
		report.Drifted = append(report.Drifted, ref)

		lock := r.lockFor(key)
		if !lock.TryLock() {
			// A prior apply for this identity is still in flight; defer
			// the re-diff rather than duplicating the write.
			report.Deferred = append(report.Deferred, ref)
			continue
		}

		decision, err := engine.Admit(ctx, res)
		if err != nil {
			lock.Unlock()
			report.Errors = append(report.Errors, fmt.Errorf("admission of %s: %w", ref, err))
			continue
		}
		if !decision.Allowed {
			lock.Unlock()
			report.Denied = append(report.Denied, decision.Violations...)
			logger.Info("corrective write blocked by admission",
				"resource", ref.String(), "violations", len(decision.Violations))
			continue
		}
		err = r.apply(ctx, decision.Resource)
		lock.Unlock()
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Applied = append(report.Applied, ref)
	}

	r.pruneOrphans(ctx, desired, report)
	return report
}

// pruneOrphans deletes owned live resources absent from the desired set,
// but only when the previous pass agreed the resource was orphaned.
func (r *Reconciler) pruneOrphans(ctx context.Context, desired map[string]*v1alpha1.Resource, report *Report) {
	logger := ctrl.LoggerFrom(ctx)
	live, err := r.backend.List(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("list live resources: %w", err))
		return
	}

	confirmed := make(map[string]bool)
	for _, res := range live {
		if res.Annotations[v1alpha1.ManagedByAnnotation] != v1alpha1.ManagedByValue {
			continue
		}
		key := res.Ref().String()
		if _, ok := desired[key]; ok {
			continue
		}
		if res.Retained() {
			report.Retained = append(report.Retained, res.Ref())
			continue
		}

		r.mu.Lock()
		seenBefore := r.orphans[key]
		r.mu.Unlock()
		if !seenBefore {
			confirmed[key] = false
			report.OrphanCandidates = append(report.OrphanCandidates, res.Ref())
			continue
		}
		if err := r.backend.Delete(ctx, res.Ref()); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("prune %s: %w", res.Ref(), err))
			confirmed[key] = false
			continue
		}
		report.Pruned = append(report.Pruned, res.Ref())
		logger.Info("pruned orphaned resource", "resource", key)
	}

	// Only candidates observed this pass carry over; anything that
	// reappeared in the desired set drops out of the orphan record.
	next := make(map[string]bool, len(confirmed))
	for key := range confirmed {
		next[key] = true
	}
	r.mu.Lock()
	r.orphans = next
	r.mu.Unlock()
}

func (r *Reconciler) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// apply stamps the ownership marker and writes with bounded backoff. Caller
// holds the identity lock.
func (r *Reconciler) apply(ctx context.Context, res *v1alpha1.Resource) error {
	stamped := res.DeepCopy()
	if stamped.Annotations == nil {
		stamped.Annotations = make(map[string]string, 1)
	}
	stamped.Annotations[v1alpha1.ManagedByAnnotation] = v1alpha1.ManagedByValue

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryBaseDelay
	attempt := 0
	_, err := backoff.Retry(ctx, func() (backend.AppliedRef, error) {
		attempt++
		if attempt > 1 {
			metrics.ApplyRetriesTotal.Inc()
		}
		return r.backend.Apply(ctx, stamped)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.cfg.MaxApplyAttempts),
	)
	if err != nil {
		return fmt.Errorf("apply %s exhausted %d attempts: %w",
			res.Ref(), r.cfg.MaxApplyAttempts, err)
	}
	return nil
}
