package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Well-known annotations recognized by the resource store and graph builder.
const (
	// PriorityAnnotation assigns a resource to a wave. Non-negative integer,
	// defaults to 0 when absent.
	PriorityAnnotation = "wave.gitops.io/priority"

	// DependsOnAnnotation declares explicit dependencies as a comma-separated
	// list of refs in "kind/namespace/name" form.
	DependsOnAnnotation = "wave.gitops.io/depends-on"

	// OwnerAnnotation declares the owning resource in "kind/namespace/name"
	// form. An owner reference implies an edge from the owner to the child.
	OwnerAnnotation = "wave.gitops.io/owner"

	// ManagedByAnnotation marks a live resource as written by this engine.
	// Only marked resources are ever considered for pruning.
	ManagedByAnnotation = "wave.gitops.io/managed-by"

	// ManagedByValue is the marker this engine stamps on every apply.
	ManagedByValue = "wave-engine"

	// AllowByDefaultAnnotation on a Namespace resource opts the namespace
	// out of the default-deny network baseline.
	AllowByDefaultAnnotation = "wave.gitops.io/allow-by-default"

	// RetainAnnotation marks a live resource as exempt from pruning even when
	// it disappears from the desired set.
	RetainAnnotation = "wave.gitops.io/retain"
)

// ResourceRef identifies a resource by (kind, namespace, name).
// This triple is the resource identity everywhere in the engine.
type ResourceRef struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// String renders the ref in "kind/namespace/name" form.
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

// ParseResourceRef parses a "kind/namespace/name" string into a ResourceRef.
// Cluster-scoped refs use an empty namespace segment: "kind//name".
func ParseResourceRef(s string) (ResourceRef, error) {
	var ref ResourceRef
	first, rest := splitOnce(s)
	second, third := splitOnce(rest)
	if first == "" || third == "" || rest == "" {
		return ref, fmt.Errorf("malformed resource ref %q: want kind/namespace/name", s)
	}
	ref.Kind = first
	ref.Namespace = second
	ref.Name = third
	return ref, nil
}

func splitOnce(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// Resource is a versioned declarative object. A Resource is immutable once
// submitted for a given generation; a new submission creates a new generation.
type Resource struct {
	Kind        string            `json:"kind"`
	Namespace   string            `json:"namespace,omitempty"`
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// Spec is the opaque declarative document. The engine diffs and patches
	// it structurally but never interprets kind-specific fields.
	Spec map[string]interface{} `json:"spec,omitempty"`

	// Priority is the wave priority. Derived from PriorityAnnotation by the
	// store; resources with no annotation land in wave 0.
	Priority int `json:"priority"`

	// Generation increments on every new submission of the same identity.
	Generation int64 `json:"generation"`
}

// Ref returns the identity triple of the resource.
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{Kind: r.Kind, Namespace: r.Namespace, Name: r.Name}
}

// Retained reports whether the resource carries the prune-retention marker.
func (r *Resource) Retained() bool {
	return r.Annotations[RetainAnnotation] == "true"
}

// DeepCopy returns a structurally independent copy of the resource. Mutating
// admission rules operate on copies so the submitted generation stays intact.
func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	out := &Resource{
		Kind:       r.Kind,
		Namespace:  r.Namespace,
		Name:       r.Name,
		Priority:   r.Priority,
		Generation: r.Generation,
	}
	if r.Labels != nil {
		out.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	if r.Annotations != nil {
		out.Annotations = make(map[string]string, len(r.Annotations))
		for k, v := range r.Annotations {
			out.Annotations[k] = v
		}
	}
	if r.Spec != nil {
		out.Spec = deepCopyDocument(r.Spec)
	}
	return out
}

func deepCopyDocument(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyDocument(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Condition types maintained on tracked resources during a pass.
const (
	ConditionAdmitted = "Admitted"
	ConditionApplied  = "Applied"
	ConditionHealthy  = "Healthy"
	ConditionBlocked  = "Blocked"
)

// ResourceStatus carries the engine-maintained observations for one tracked
// resource identity.
type ResourceStatus struct {
	// ObservedGeneration is the generation last acted upon.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Conditions represent the latest available observations of the
	// resource's state.
	// +patchMergeKey=type
	// +patchStrategy=merge
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`
}
