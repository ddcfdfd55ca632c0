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

// Package engine coordinates a full reconciliation pass: load the desired
// snapshot, bootstrap policies, build the wave graph, roll the waves out,
// converge drift and prune orphans.
//
// Exactly one pass runs at a time, guarded by a pass-level mutex. The
// autoscaler loop and reachability queries read from a separately
// synchronized snapshot of live state and never wait on that mutex. A pass
// can be cancelled mid-wave; in-flight applies finish, no further waves
// start, and the cancellation reason is recorded on the pass report.
package engine
