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

// Package reconciler keeps live state converged on the desired set.
//
// Each pass diffs every desired resource against its live document,
// ignoring fields the backend manages unilaterally (an explicit per-kind
// ignore list, never a heuristic). A drifted resource is re-admitted
// through the policy engine before the corrective write.
//
// Pruning is deliberately slow. A live resource owned by the engine but
// absent from the desired set becomes an orphan candidate; it is deleted
// only when two consecutive passes agree it is orphaned and it does not
// carry the retain marker. A single stale read therefore cannot cause data
// loss.
//
// Applies are serialized per resource identity. A resource whose prior
// apply is still in flight is deferred to the next pass, not applied
// twice.
package reconciler
