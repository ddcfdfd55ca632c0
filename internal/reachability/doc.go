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

// Package reachability evaluates whether traffic between two workloads is
// permitted under the current set of network allow rules.
//
// The baseline is deny. A pod with no rules for a direction is unreachable
// in that direction unless its namespace has explicitly opted out of the
// default-deny baseline. The moment any rule's selector matches a pod, the
// pod switches to "deny except explicitly matched peers" for that
// direction, never to allow-all.
//
// Rules are purely additive. Evaluation is an OR across all matching rules,
// so rule order is irrelevant and adding a rule can only widen the set of
// permitted flows. That makes results safe to memoize per (source,
// destination, port, direction) tuple; the evaluator caches them until the
// rule set changes.
package reachability
