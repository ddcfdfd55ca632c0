package graph

import (
	"fmt"
	"sort"
	"strings"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/pkg/dag"
)

const barrierPrefix = "__wave-barrier/"

// Wave is an ordered partition of the resource set, keyed by non-negative
// priority. Waves are computed fresh on every build; they are never persisted
// independently of the resources.
type Wave struct {
	Priority  int
	Resources []*v1alpha1.Resource
}

// Result is a validated dependency graph plus the derived wave list.
type Result struct {
	// Graph is the underlying DAG including synthetic barrier nodes.
	Graph *dag.Graph

	// Waves lists schedulable resources partitioned by priority, ascending.
	// Blocked resources are excluded.
	Waves []Wave

	// Blocked maps a blocked resource to the reason it cannot be scheduled.
	// A malformed reference blocks the resource and its dependents; the rest
	// of the graph still proceeds.
	Blocked map[v1alpha1.ResourceRef]string

	// Superseded holds older generations collapsed during the build. They
	// are retained for audit only and are never scheduled.
	Superseded []*v1alpha1.Resource

	resources map[string]*v1alpha1.Resource
}

// Resource returns the latest-generation resource for a ref, if tracked.
func (r *Result) Resource(ref v1alpha1.ResourceRef) (*v1alpha1.Resource, bool) {
	res, ok := r.resources[ref.String()]
	return res, ok
}

// Build parses a full desired-state snapshot into a validated DAG and wave
// list. A cycle is fatal: the error is a *CycleError and no partial result is
// returned.
func Build(resources []*v1alpha1.Resource) (*Result, error) {
	latest, superseded := collapseGenerations(resources)

	g := dag.New()
	byID := make(map[string]*v1alpha1.Resource, len(latest))
	for _, res := range latest {
		id := res.Ref().String()
		byID[id] = res
		g.AddNode(id)
	}

	blocked := make(map[v1alpha1.ResourceRef]string)

	// Explicit edges from declared references. A reference to a resource
	// that does not exist marks the dependent blocked, not the whole pass.
	for _, res := range latest {
		for _, raw := range declaredRefs(res) {
			ref, err := v1alpha1.ParseResourceRef(raw)
			if err != nil {
				blocked[res.Ref()] = err.Error()
				continue
			}
			if !g.Has(ref.String()) {
				blocked[res.Ref()] = fmt.Sprintf("references nonexistent resource %s", ref)
				continue
			}
			if err := g.AddEdge(res.Ref().String(), ref.String(), dag.EdgeExplicit); err != nil {
				blocked[res.Ref()] = err.Error()
			}
		}
		if raw, ok := res.Annotations[v1alpha1.OwnerAnnotation]; ok {
			ref, err := v1alpha1.ParseResourceRef(raw)
			if err != nil {
				blocked[res.Ref()] = err.Error()
				continue
			}
			if !g.Has(ref.String()) {
				blocked[res.Ref()] = fmt.Sprintf("owner %s does not exist", ref)
				continue
			}
			if err := g.AddEdge(res.Ref().String(), ref.String(), dag.EdgeOwnerReference); err != nil {
				blocked[res.Ref()] = err.Error()
			}
		}
	}

	// Cycles are detected on the declared+implicit edges before the
	// synthetic barrier edges go in, so a reported cycle only ever names
	// real resources.
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Path: refsFromIDs(cycle)}
	}

	// The wave invariant: a resource may depend only on resources in waves
	// at or below its own.
	for _, res := range latest {
		for _, depID := range g.Dependencies(res.Ref().String()) {
			dep := byID[depID]
			if dep.Priority > res.Priority {
				return nil, &WaveOrderError{
					Dependent:      res.Ref(),
					Dependency:     dep.Ref(),
					DependentWave:  res.Priority,
					DependencyWave: dep.Priority,
				}
			}
		}
	}

	// Propagate blocking along explicit and owner edges: everything
	// depending on a blocked resource is itself blocked. This runs before
	// the barrier edges go in; barriers order waves, they are not
	// dependencies, and a blocked resource must not drag unrelated
	// higher-wave resources down with it.
	for ref := range blocked {
		for _, depID := range g.TransitiveDependents(ref.String()) {
			dep := byID[depID]
			if _, already := blocked[dep.Ref()]; !already {
				blocked[dep.Ref()] = fmt.Sprintf("depends on blocked resource %s", ref)
			}
		}
	}

	addBarrierEdges(g, latest)

	return &Result{
		Graph:      g,
		Waves:      partitionWaves(latest, blocked),
		Blocked:    blocked,
		Superseded: superseded,
		resources:  byID,
	}, nil
}

// collapseGenerations keeps the latest generation per identity. Older
// generations are returned separately for the audit trail.
func collapseGenerations(resources []*v1alpha1.Resource) (latest []*v1alpha1.Resource, superseded []*v1alpha1.Resource) {
	byRef := make(map[string]*v1alpha1.Resource, len(resources))
	for _, res := range resources {
		id := res.Ref().String()
		prev, ok := byRef[id]
		if !ok {
			byRef[id] = res
			continue
		}
		if res.Generation >= prev.Generation {
			superseded = append(superseded, prev)
			byRef[id] = res
		} else {
			superseded = append(superseded, res)
		}
	}
	latest = make([]*v1alpha1.Resource, 0, len(byRef))
	for _, res := range byRef {
		latest = append(latest, res)
	}
	sort.Slice(latest, func(i, j int) bool {
		return latest[i].Ref().String() < latest[j].Ref().String()
	})
	return latest, superseded
}

func declaredRefs(res *v1alpha1.Resource) []string {
	raw, ok := res.Annotations[v1alpha1.DependsOnAnnotation]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	refs := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}
	return refs
}

// addBarrierEdges inserts one synthetic barrier node per present priority.
// The barrier of priority p depends on every resource at p and on the
// previous barrier; every resource at the next present priority depends on
// it. This makes all lower-priority resources precede a resource without
// quadratic edge fan-out.
func addBarrierEdges(g *dag.Graph, latest []*v1alpha1.Resource) {
	byPriority := make(map[int][]*v1alpha1.Resource)
	for _, res := range latest {
		byPriority[res.Priority] = append(byPriority[res.Priority], res)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	prevBarrier := ""
	for _, p := range priorities {
		barrier := fmt.Sprintf("%s%d", barrierPrefix, p)
		g.AddNode(barrier)
		for _, res := range byPriority[p] {
			// Errors are impossible here: both nodes exist and a resource
			// never shares an ID with a barrier.
			_ = g.AddEdge(barrier, res.Ref().String(), dag.EdgeWavePriority)
			if prevBarrier != "" {
				_ = g.AddEdge(res.Ref().String(), prevBarrier, dag.EdgeWavePriority)
			}
		}
		if prevBarrier != "" {
			_ = g.AddEdge(barrier, prevBarrier, dag.EdgeWavePriority)
		}
		prevBarrier = barrier
	}
}

func partitionWaves(latest []*v1alpha1.Resource, blocked map[v1alpha1.ResourceRef]string) []Wave {
	byPriority := make(map[int][]*v1alpha1.Resource)
	for _, res := range latest {
		if _, isBlocked := blocked[res.Ref()]; isBlocked {
			continue
		}
		byPriority[res.Priority] = append(byPriority[res.Priority], res)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	waves := make([]Wave, 0, len(priorities))
	for _, p := range priorities {
		resources := byPriority[p]
		sort.Slice(resources, func(i, j int) bool {
			return resources[i].Ref().String() < resources[j].Ref().String()
		})
		waves = append(waves, Wave{Priority: p, Resources: resources})
	}
	return waves
}

func refsFromIDs(ids []string) []v1alpha1.ResourceRef {
	refs := make([]v1alpha1.ResourceRef, 0, len(ids))
	for _, id := range ids {
		if strings.HasPrefix(id, barrierPrefix) {
			continue
		}
		ref, err := v1alpha1.ParseResourceRef(id)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}
