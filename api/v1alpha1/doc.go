// Package v1alpha1 contains the declarative object model consumed by the
// wave-engine: desired-state resources, admission policy rules and exceptions,
// autoscale targets, and network reachability rules.
//
// All objects in this package are plain data. Identity, ordering, and policy
// semantics are enforced by the engine packages (internal/graph,
// internal/admission, internal/scheduler), not here. The only behavior the
// types carry is validation and deep copying, so that shared documents are
// never mutated through aliased maps.
package v1alpha1
