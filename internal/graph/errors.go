package graph

import (
	"fmt"
	"strings"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// CycleError is fatal to the whole reconciliation pass: no resource from a
// cyclic graph is ever applied. Path carries every resource on the cycle so
// the operator sees the complete offending chain, not just the first edge.
type CycleError struct {
	Path []v1alpha1.ResourceRef
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path)+1)
	for _, ref := range e.Path {
		parts = append(parts, ref.String())
	}
	if len(e.Path) > 0 {
		parts = append(parts, e.Path[0].String())
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// WaveOrderError reports an edge whose dependency sits in a later wave than
// its dependent, violating the wave invariant.
type WaveOrderError struct {
	Dependent  v1alpha1.ResourceRef
	Dependency v1alpha1.ResourceRef
	DependentWave, DependencyWave int
}

func (e *WaveOrderError) Error() string {
	return fmt.Sprintf("wave order violation: %s (wave %d) depends on %s (wave %d)",
		e.Dependent, e.DependentWave, e.Dependency, e.DependencyWave)
}
