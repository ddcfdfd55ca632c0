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
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/scheduler"
)

// KindLimiter bounds concurrent applies per resource kind so a burst of one
// kind cannot starve apply capacity for another.
type KindLimiter struct {
	fallback  int64
	overrides map[string]int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewKindLimiter builds a limiter with a default bound and per-kind
// overrides.
func NewKindLimiter(fallback int, overrides map[string]int) *KindLimiter {
	if fallback <= 0 {
		fallback = 4
	}
	ov := make(map[string]int64, len(overrides))
	for kind, n := range overrides {
		ov[kind] = int64(n)
	}
	return &KindLimiter{
		fallback:  int64(fallback),
		overrides: ov,
		sems:      make(map[string]*semaphore.Weighted),
	}
}

// Acquire blocks until a slot for the kind frees up or the context ends.
// The returned release func must be called exactly once.
func (l *KindLimiter) Acquire(ctx context.Context, kind string) (func(), error) {
	sem := l.semFor(kind)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s apply slot: %w", kind, err)
	}
	return func() { sem.Release(1) }, nil
}

func (l *KindLimiter) semFor(kind string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[kind]
	if !ok {
		limit := l.fallback
		if n, ok := l.overrides[kind]; ok {
			limit = n
		}
		sem = semaphore.NewWeighted(limit)
		l.sems[kind] = sem
	}
	return sem
}

// limitedApplier gates an applier through the per-kind limiter.
type limitedApplier struct {
	inner   scheduler.Applier
	limiter *KindLimiter
}

func (a *limitedApplier) SubmitApply(ctx context.Context, res *v1alpha1.Resource) error {
	release, err := a.limiter.Acquire(ctx, res.Kind)
	if err != nil {
		return err
	}
	defer release()
	return a.inner.SubmitApply(ctx, res)
}
