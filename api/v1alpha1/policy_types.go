package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// Resource kinds under which policy objects travel through the desired set.
// Policies and exceptions are Resources like everything else and participate
// in the same graph and admission flow.
const (
	KindPolicyRule      = "PolicyRule"
	KindPolicyException = "PolicyException"
)

// PolicyMode discriminates the closed set of rule behaviors. Engine dispatch
// over modes is an exhaustive switch; adding a mode is a compile-visible
// change, not a callback registration.
type PolicyMode string

const (
	ModeValidate PolicyMode = "validate"
	ModeMutate   PolicyMode = "mutate"
	ModeGenerate PolicyMode = "generate"
)

// FailurePolicy controls what a failing validate rule does to the resource.
type FailurePolicy string

const (
	// FailureEnforce blocks the resource from proceeding to the scheduler.
	FailureEnforce FailurePolicy = "enforce"
	// FailureAudit records the violation without blocking.
	FailureAudit FailurePolicy = "audit"
)

// MatchSelector scopes a rule or exception to a subset of resources.
// Empty fields match everything in their dimension.
type MatchSelector struct {
	// Kinds restricts the match to the listed resource kinds.
	Kinds []string `json:"kinds,omitempty"`

	// Namespaces restricts the match to the listed namespaces.
	Namespaces []string `json:"namespaces,omitempty"`

	// LabelSelector restricts the match by resource labels.
	LabelSelector *metav1.LabelSelector `json:"labelSelector,omitempty"`
}

// Matches reports whether the selector matches the given resource.
func (m *MatchSelector) Matches(res *Resource) (bool, error) {
	if m == nil {
		return true, nil
	}
	if len(m.Kinds) > 0 && !containsString(m.Kinds, res.Kind) {
		return false, nil
	}
	if len(m.Namespaces) > 0 && !containsString(m.Namespaces, res.Namespace) {
		return false, nil
	}
	if m.LabelSelector != nil {
		sel, err := metav1.LabelSelectorAsSelector(m.LabelSelector)
		if err != nil {
			return false, fmt.Errorf("invalid label selector: %w", err)
		}
		if !sel.Matches(labels.Set(res.Labels)) {
			return false, nil
		}
	}
	return true, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AssertOperator is the comparison a validate rule applies to a spec field.
type AssertOperator string

const (
	OpExists    AssertOperator = "Exists"
	OpEquals    AssertOperator = "Equals"
	OpNotEquals AssertOperator = "NotEquals"
)

// FieldAssertion is one structural requirement on a resource spec.
// Path is a dot-separated field path inside the spec document.
type FieldAssertion struct {
	Path     string         `json:"path"`
	Operator AssertOperator `json:"operator"`
	Value    string         `json:"value,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// PatchOperation is a single RFC 6902 operation a mutate rule applies.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// PolicyRule is one admission rule. Exactly one of Validate, Mutate, or
// Generate is set, according to Mode.
type PolicyRule struct {
	// Name orders rules deterministically (lexical) and is the handle
	// exceptions reference.
	Name string `json:"name"`

	Mode PolicyMode `json:"mode"`

	// Match scopes the rule; a rule with no match applies to everything.
	Match *MatchSelector `json:"match,omitempty"`

	// FailurePolicy applies to validate mode only. Defaults to enforce.
	FailurePolicy FailurePolicy `json:"failurePolicy,omitempty"`

	// Validate lists field assertions checked in validate mode.
	Validate []FieldAssertion `json:"validate,omitempty"`

	// Mutate lists patch operations applied in mutate mode.
	Mutate []PatchOperation `json:"mutate,omitempty"`

	// Generate is a resource template materialized in generate mode for each
	// matched resource.
	Generate *Resource `json:"generate,omitempty"`
}

// Validate checks the rule definition itself, not a target resource.
func (r *PolicyRule) ValidateDefinition() error {
	if r.Name == "" {
		return fmt.Errorf("policy rule must have a name")
	}
	switch r.Mode {
	case ModeValidate:
		if len(r.Validate) == 0 {
			return fmt.Errorf("rule %q: validate mode requires at least one assertion", r.Name)
		}
	case ModeMutate:
		if len(r.Mutate) == 0 {
			return fmt.Errorf("rule %q: mutate mode requires at least one patch operation", r.Name)
		}
	case ModeGenerate:
		if r.Generate == nil {
			return fmt.Errorf("rule %q: generate mode requires a resource template", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown mode %q", r.Name, r.Mode)
	}
	if r.FailurePolicy != "" && r.FailurePolicy != FailureEnforce && r.FailurePolicy != FailureAudit {
		return fmt.Errorf("rule %q: unknown failure policy %q", r.Name, r.FailurePolicy)
	}
	return nil
}

// EffectiveFailurePolicy returns the failure policy with the enforce default
// applied.
func (r *PolicyRule) EffectiveFailurePolicy() FailurePolicy {
	if r.FailurePolicy == "" {
		return FailureEnforce
	}
	return r.FailurePolicy
}

// PolicyException subtracts matched resources from the enforcement scope of
// the referenced rules. An exception can never grant a capability a rule does
// not already control.
type PolicyException struct {
	Name string `json:"name"`

	// PolicyRefs names the rules this exception exempts matched resources
	// from.
	PolicyRefs []string `json:"policyRefs"`

	// Match scopes the exception.
	Match *MatchSelector `json:"match,omitempty"`

	// Justification is recorded in the audit trail for every skip.
	Justification string `json:"justification,omitempty"`
}

// ValidateDefinition checks the exception definition.
func (e *PolicyException) ValidateDefinition() error {
	if e.Name == "" {
		return fmt.Errorf("policy exception must have a name")
	}
	if len(e.PolicyRefs) == 0 {
		return fmt.Errorf("exception %q: must reference at least one rule", e.Name)
	}
	return nil
}

// Violation is one failed validate assertion reported by the admission engine.
type Violation struct {
	Rule          string        `json:"rule"`
	Resource      ResourceRef   `json:"resource"`
	Message       string        `json:"message"`
	FailurePolicy FailurePolicy `json:"failurePolicy"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s (%s)", v.FailurePolicy, v.Rule, v.Message, v.Resource)
}
