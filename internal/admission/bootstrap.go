package admission

import (
	"context"
	"encoding/json"
	"fmt"

	ctrl "sigs.k8s.io/controller-runtime"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// BootstrapError reports a malformed or self-referential policy resource at
// load time. It is fatal only for the policy resource itself: the loader
// falls back to the last-known-good set.
type BootstrapError struct {
	Resource v1alpha1.ResourceRef
	Err      error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("policy bootstrap: %s: %v", e.Resource, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// Loader extracts policy rules and exceptions from the desired set and builds
// admission engines, retaining the last valid set as a fallback.
//
// Policies load with elevated trust before the engine accepts further
// resources; they are not themselves gated through an earlier engine at
// bootstrap time.
type Loader struct {
	lastGood *Engine
}

// NewLoader returns a loader with an empty (allow-everything) initial set.
func NewLoader() *Loader {
	engine, _ := NewEngine(nil, nil)
	return &Loader{lastGood: engine}
}

// Load parses every PolicyRule and PolicyException resource in the snapshot
// and builds a fresh engine. Malformed entries are skipped and reported; if
// the resulting set cannot form a valid engine the last-known-good engine is
// returned instead and the mismatch is flagged in the returned errors.
func (l *Loader) Load(ctx context.Context, resources []*v1alpha1.Resource) (*Engine, []*BootstrapError) {
	logger := ctrl.LoggerFrom(ctx)

	var rules []v1alpha1.PolicyRule
	var exceptions []v1alpha1.PolicyException
	var errs []*BootstrapError

	for _, res := range resources {
		switch res.Kind {
		case v1alpha1.KindPolicyRule:
			var rule v1alpha1.PolicyRule
			if err := decodeSpec(res.Spec, &rule); err != nil {
				errs = append(errs, &BootstrapError{Resource: res.Ref(), Err: err})
				continue
			}
			if rule.Name == "" {
				rule.Name = res.Name
			}
			if err := rule.ValidateDefinition(); err != nil {
				errs = append(errs, &BootstrapError{Resource: res.Ref(), Err: err})
				continue
			}
			rules = append(rules, rule)
		case v1alpha1.KindPolicyException:
			var exc v1alpha1.PolicyException
			if err := decodeSpec(res.Spec, &exc); err != nil {
				errs = append(errs, &BootstrapError{Resource: res.Ref(), Err: err})
				continue
			}
			if exc.Name == "" {
				exc.Name = res.Name
			}
			if err := exc.ValidateDefinition(); err != nil {
				errs = append(errs, &BootstrapError{Resource: res.Ref(), Err: err})
				continue
			}
			exceptions = append(exceptions, exc)
		}
	}

	engine, err := NewEngine(rules, exceptions)
	if err != nil {
		// The assembled set is unusable as a whole. Keep serving the last
		// known good policies and flag the mismatch loudly.
		logger.Error(err, "policy set rejected, falling back to last-known-good",
			"rules", len(rules), "exceptions", len(exceptions))
		errs = append(errs, &BootstrapError{Err: err})
		return l.lastGood, errs
	}

	for _, e := range errs {
		logger.Error(e.Err, "skipped malformed policy resource", "resource", e.Resource.String())
	}

	l.lastGood = engine
	return engine, errs
}

// LastKnownGood returns the most recent valid engine.
func (l *Loader) LastKnownGood() *Engine { return l.lastGood }

func decodeSpec(spec map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding policy spec: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding policy spec: %w", err)
	}
	return nil
}
