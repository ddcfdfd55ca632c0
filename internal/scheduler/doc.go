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

// Package scheduler drives the wave rollout state machine.
//
// Each wave moves through Pending, Applying and AwaitingHealth before
// reaching a terminal state. A wave only starts once the previous wave is
// Healthy, unless parallel mode is requested. Admission gates the whole
// wave: a single rejected resource fails the wave before anything in it is
// applied, so a wave is never left half-materialized with broken
// cross-references.
//
// A wave whose resources never report healthy within the deadline becomes
// TimedOut. Timing out does not roll anything back; the wave surfaces for
// an operator, who can retry it manually. A manual retry re-runs admission
// from scratch rather than resuming with stale mutation state.
package scheduler
