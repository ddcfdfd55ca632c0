/*
Copyright 2025 The Wave Engine Authors

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

// Package backend defines the cluster apply/observe collaborator the engine
// writes through. The core never talks to a live API server directly; it
// sees the cluster only through this interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// ErrNotFound is returned by Get for untracked identities.
var ErrNotFound = errors.New("resource not found")

// ApplyError wraps a backend write rejection. Apply errors are retried with
// bounded backoff by the reconciler; after the attempt limit the resource is
// marked failed for the pass without aborting siblings.
type ApplyError struct {
	Ref v1alpha1.ResourceRef
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Ref, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// AppliedRef acknowledges a successful write.
type AppliedRef struct {
	Ref        v1alpha1.ResourceRef
	Generation int64
}

// HealthEvent reports a readiness transition for one tracked resource.
type HealthEvent struct {
	Ref       v1alpha1.ResourceRef
	Healthy   bool
	Message   string
	Timestamp time.Time
}

// Interface is the cluster apply/observe backend.
type Interface interface {
	// Apply writes the desired document. The write is a full-spec
	// server-side apply; partial patches are not part of this interface.
	Apply(ctx context.Context, res *v1alpha1.Resource) (AppliedRef, error)

	// Get returns the live observed document or ErrNotFound.
	Get(ctx context.Context, ref v1alpha1.ResourceRef) (*v1alpha1.Resource, error)

	// Delete removes the live resource. Deleting an absent resource is not
	// an error.
	Delete(ctx context.Context, ref v1alpha1.ResourceRef) error

	// List returns every live document. Used by the reconciler for orphan
	// detection; the result is a point-in-time snapshot, not a stream.
	List(ctx context.Context) ([]*v1alpha1.Resource, error)

	// WatchHealth subscribes to readiness transitions for the given
	// identity. The returned cancel func releases the subscription; the
	// channel is closed afterwards. Consumers must bound their waits; the
	// stream itself never times out.
	WatchHealth(ctx context.Context, ref v1alpha1.ResourceRef) (<-chan HealthEvent, func(), error)
}
