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

package engine

import (
	"encoding/json"
	"fmt"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

func decodeSpec(spec map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// parseNetworkRules extracts typed network rules from the desired set.
// Malformed rules are reported, never fatal; the valid remainder still
// loads.
func parseNetworkRules(resources []*v1alpha1.Resource) ([]v1alpha1.NetworkRule, []error) {
	var rules []v1alpha1.NetworkRule
	var errs []error
	for _, res := range resources {
		if res.Kind != v1alpha1.KindNetworkRule {
			continue
		}
		var rule v1alpha1.NetworkRule
		if err := decodeSpec(res.Spec, &rule); err != nil {
			errs = append(errs, fmt.Errorf("network rule %s: %w", res.Ref(), err))
			continue
		}
		if rule.Name == "" {
			rule.Name = res.Name
		}
		if rule.Namespace == "" {
			rule.Namespace = res.Namespace
		}
		if err := rule.ValidateDefinition(); err != nil {
			errs = append(errs, fmt.Errorf("network rule %s: %w", res.Ref(), err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

// parseAutoscaleTargets extracts typed autoscale targets from the desired
// set.
func parseAutoscaleTargets(resources []*v1alpha1.Resource) ([]v1alpha1.AutoscaleTarget, []error) {
	var targets []v1alpha1.AutoscaleTarget
	var errs []error
	for _, res := range resources {
		if res.Kind != v1alpha1.KindAutoscaleTarget {
			continue
		}
		var target v1alpha1.AutoscaleTarget
		if err := decodeSpec(res.Spec, &target); err != nil {
			errs = append(errs, fmt.Errorf("autoscale target %s: %w", res.Ref(), err))
			continue
		}
		if target.WorkloadRef.Namespace == "" {
			target.WorkloadRef.Namespace = res.Namespace
		}
		if err := target.ValidateDefinition(); err != nil {
			errs = append(errs, fmt.Errorf("autoscale target %s: %w", res.Ref(), err))
			continue
		}
		targets = append(targets, target)
	}
	return targets, errs
}

// openNamespaces lists namespaces that opted out of the default-deny
// network baseline.
func openNamespaces(resources []*v1alpha1.Resource) []string {
	var out []string
	for _, res := range resources {
		if res.Kind != "Namespace" {
			continue
		}
		if res.Annotations[v1alpha1.AllowByDefaultAnnotation] == "true" {
			out = append(out, res.Name)
		}
	}
	return out
}
