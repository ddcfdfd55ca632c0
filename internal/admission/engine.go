package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/logging"
)

// Skip records a rule skipped for a resource because of an exception. Skips
// are part of the audit trail, never silently dropped.
type Skip struct {
	Rule          string
	Exception     string
	Justification string
	Resource      v1alpha1.ResourceRef
}

// Decision is the outcome of evaluating one resource in one mode.
type Decision struct {
	// Allowed is false only when at least one enforce-mode validate rule
	// failed. Audit-mode violations never block.
	Allowed bool

	// Resource is the document after evaluation. In mutate mode this is the
	// mutated copy; the submitted generation is never modified in place.
	Resource *v1alpha1.Resource

	// Violations lists every failed assertion across all matching rules.
	Violations []v1alpha1.Violation

	// Skips lists rules exempted by exceptions.
	Skips []Skip

	// Generated holds resources materialized by generate rules.
	Generated []*v1alpha1.Resource
}

// Engine evaluates resources against a fixed rule set. An Engine is immutable
// after construction; reloading policies builds a new Engine.
type Engine struct {
	rules      []v1alpha1.PolicyRule
	exceptions []v1alpha1.PolicyException
}

// NewEngine validates rule and exception definitions and returns an engine
// with rules in deterministic lexical order.
func NewEngine(rules []v1alpha1.PolicyRule, exceptions []v1alpha1.PolicyException) (*Engine, error) {
	for i := range rules {
		if err := rules[i].ValidateDefinition(); err != nil {
			return nil, err
		}
	}
	for i := range exceptions {
		if err := exceptions[i].ValidateDefinition(); err != nil {
			return nil, err
		}
	}
	sorted := make([]v1alpha1.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Engine{rules: sorted, exceptions: exceptions}, nil
}

// Rules returns the rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Admit runs the full admission chain for one resource: mutate first, then
// validate the mutated document, then materialize generate rules from it.
// The merged decision carries the mutated resource, every violation and
// skip, and any generated resources.
func (e *Engine) Admit(ctx context.Context, res *v1alpha1.Resource) (*Decision, error) {
	mutated, err := e.mutate(ctx, res)
	if err != nil {
		return nil, err
	}
	validated, err := e.validate(ctx, mutated.Resource)
	if err != nil {
		return nil, err
	}
	generated, err := e.generate(ctx, mutated.Resource)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Allowed:    validated.Allowed,
		Resource:   mutated.Resource,
		Violations: validated.Violations,
		Skips:      append(append(mutated.Skips, validated.Skips...), generated.Skips...),
		Generated:  generated.Generated,
	}, nil
}

// Materialize runs the generate rules against every resource of the desired
// set and returns the companion resources not already declared in it. Each
// companion carries the owner annotation, so downstream it gets an owner
// edge in the graph, is admitted and health-gated like a declared resource,
// and stays in the desired set the reconciler prunes against. Mutations are
// applied to the source first, matching the Admit chain. A declared resource
// with the same identity wins over a generated one, and companions never
// trigger further generation.
func (e *Engine) Materialize(ctx context.Context, resources []*v1alpha1.Resource) ([]*v1alpha1.Resource, error) {
	present := make(map[string]bool, len(resources))
	for _, res := range resources {
		present[res.Ref().String()] = true
	}
	var out []*v1alpha1.Resource
	for _, res := range resources {
		mutated, err := e.mutate(ctx, res)
		if err != nil {
			return nil, err
		}
		decision, err := e.generate(ctx, mutated.Resource)
		if err != nil {
			return nil, err
		}
		for _, gen := range decision.Generated {
			id := gen.Ref().String()
			if present[id] {
				continue
			}
			present[id] = true
			out = append(out, gen)
		}
	}
	return out, nil
}

// Evaluate runs all rules of the given mode against the resource.
func (e *Engine) Evaluate(ctx context.Context, res *v1alpha1.Resource, mode v1alpha1.PolicyMode) (*Decision, error) {
	switch mode {
	case v1alpha1.ModeValidate:
		return e.validate(ctx, res)
	case v1alpha1.ModeMutate:
		return e.mutate(ctx, res)
	case v1alpha1.ModeGenerate:
		return e.generate(ctx, res)
	default:
		return nil, fmt.Errorf("unknown policy mode %q", mode)
	}
}

func (e *Engine) validate(ctx context.Context, res *v1alpha1.Resource) (*Decision, error) {
	decision := &Decision{Allowed: true, Resource: res}
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Mode != v1alpha1.ModeValidate {
			continue
		}
		applies, skip, err := e.ruleApplies(rule, res)
		if err != nil {
			return nil, err
		}
		if skip != nil {
			decision.Skips = append(decision.Skips, *skip)
			continue
		}
		if !applies {
			continue
		}
		for _, assertion := range rule.Validate {
			if msg := checkAssertion(res, assertion); msg != "" {
				decision.Violations = append(decision.Violations, v1alpha1.Violation{
					Rule:          rule.Name,
					Resource:      res.Ref(),
					Message:       msg,
					FailurePolicy: rule.EffectiveFailurePolicy(),
				})
			}
		}
	}
	for _, v := range decision.Violations {
		if v.FailurePolicy == v1alpha1.FailureEnforce {
			decision.Allowed = false
			break
		}
	}
	if len(decision.Violations) > 0 {
		ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("validation produced violations",
			"resource", res.Ref().String(), "count", len(decision.Violations), "allowed", decision.Allowed)
	}
	return decision, nil
}

func (e *Engine) mutate(ctx context.Context, res *v1alpha1.Resource) (*Decision, error) {
	decision := &Decision{Allowed: true, Resource: res}
	current := res
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Mode != v1alpha1.ModeMutate {
			continue
		}
		// Each rule matches against the already-mutated document.
		applies, skip, err := e.ruleApplies(rule, current)
		if err != nil {
			return nil, err
		}
		if skip != nil {
			decision.Skips = append(decision.Skips, *skip)
			continue
		}
		if !applies {
			continue
		}
		mutated, err := applyPatch(current, rule.Mutate)
		if err != nil {
			return nil, fmt.Errorf("rule %q: applying patch to %s: %w", rule.Name, res.Ref(), err)
		}
		ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("mutated resource",
			"resource", res.Ref().String(), "rule", rule.Name)
		current = mutated
	}
	decision.Resource = current
	return decision, nil
}

func (e *Engine) generate(ctx context.Context, res *v1alpha1.Resource) (*Decision, error) {
	decision := &Decision{Allowed: true, Resource: res}
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Mode != v1alpha1.ModeGenerate {
			continue
		}
		applies, skip, err := e.ruleApplies(rule, res)
		if err != nil {
			return nil, err
		}
		if skip != nil {
			decision.Skips = append(decision.Skips, *skip)
			continue
		}
		if !applies {
			continue
		}
		generated := rule.Generate.DeepCopy()
		if generated.Namespace == "" {
			generated.Namespace = res.Namespace
		}
		if generated.Annotations == nil {
			generated.Annotations = map[string]string{}
		}
		// The source resource owns what it generated; the graph builder
		// turns this into an owner-reference edge. The companion never
		// lands in an earlier wave than its owner.
		generated.Annotations[v1alpha1.OwnerAnnotation] = res.Ref().String()
		generated.Generation = res.Generation
		if generated.Priority < res.Priority {
			generated.Priority = res.Priority
		}
		decision.Generated = append(decision.Generated, generated)
		ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("generated companion resource",
			"source", res.Ref().String(), "rule", rule.Name, "generated", generated.Ref().String())
	}
	return decision, nil
}

// ruleApplies decides whether a rule runs against a resource, returning a
// Skip when an exception exempts it. A rule never applies to the resource
// that defines it.
func (e *Engine) ruleApplies(rule *v1alpha1.PolicyRule, res *v1alpha1.Resource) (bool, *Skip, error) {
	if res.Kind == v1alpha1.KindPolicyRule && res.Name == rule.Name {
		return false, nil, nil
	}
	matched, err := rule.Match.Matches(res)
	if err != nil {
		return false, nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	if !matched {
		return false, nil, nil
	}
	for i := range e.exceptions {
		exc := &e.exceptions[i]
		if res.Kind == v1alpha1.KindPolicyException && res.Name == exc.Name {
			continue
		}
		if !containsString(exc.PolicyRefs, rule.Name) {
			continue
		}
		excMatched, err := exc.Match.Matches(res)
		if err != nil {
			return false, nil, fmt.Errorf("exception %q: %w", exc.Name, err)
		}
		if excMatched {
			return false, &Skip{
				Rule:          rule.Name,
				Exception:     exc.Name,
				Justification: exc.Justification,
				Resource:      res.Ref(),
			}, nil
		}
	}
	return true, nil, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// checkAssertion evaluates one field assertion against the resource spec.
// Returns an empty string on success, otherwise the violation message.
func checkAssertion(res *v1alpha1.Resource, a v1alpha1.FieldAssertion) string {
	value, found := lookupPath(res.Spec, a.Path)
	fail := func(def string) string {
		if a.Message != "" {
			return a.Message
		}
		return def
	}
	switch a.Operator {
	case v1alpha1.OpExists:
		if !found {
			return fail(fmt.Sprintf("field %q is required", a.Path))
		}
	case v1alpha1.OpEquals:
		if !found {
			return fail(fmt.Sprintf("field %q is required to equal %q", a.Path, a.Value))
		}
		if fmt.Sprintf("%v", value) != a.Value {
			return fail(fmt.Sprintf("field %q must equal %q, got %q", a.Path, a.Value, fmt.Sprintf("%v", value)))
		}
	case v1alpha1.OpNotEquals:
		if found && fmt.Sprintf("%v", value) == a.Value {
			return fail(fmt.Sprintf("field %q must not equal %q", a.Path, a.Value))
		}
	default:
		return fmt.Sprintf("unknown assertion operator %q on field %q", a.Operator, a.Path)
	}
	return ""
}

// lookupPath walks a dot-separated path through nested spec maps.
func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, p := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// applyPatch applies the rule's RFC 6902 operations to a copy of the resource
// spec and returns the mutated copy.
func applyPatch(res *v1alpha1.Resource, ops []v1alpha1.PatchOperation) (*v1alpha1.Resource, error) {
	patchBytes, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	out := res.DeepCopy()
	specBytes, err := json.Marshal(out.Spec)
	if err != nil {
		return nil, fmt.Errorf("encoding spec: %w", err)
	}
	mutated, err := patch.ApplyWithOptions(specBytes, &jsonpatch.ApplyOptions{
		EnsurePathExistsOnAdd:    true,
		AllowMissingPathOnRemove: true,
	})
	if err != nil {
		return nil, err
	}
	var spec map[string]interface{}
	if err := json.Unmarshal(mutated, &spec); err != nil {
		return nil, fmt.Errorf("decoding mutated spec: %w", err)
	}
	out.Spec = spec
	return out, nil
}
