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

package reconciler

import (
	"strings"

	"github.com/google/go-cmp/cmp"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// IgnoreRules maps a resource kind to the spec paths the live system manages
// unilaterally. Paths are dot-separated and stripped from both sides before
// diffing. The "status" subtree is always ignored for every kind.
type IgnoreRules map[string][]string

// DefaultIgnoreRules covers the server-assigned fields of the common kinds.
func DefaultIgnoreRules() IgnoreRules {
	return IgnoreRules{
		"Service":    {"clusterIP", "clusterIPs"},
		"Deployment": {"revisionHistoryLimit", "progressDeadlineSeconds"},
	}
}

// Diff returns a human-readable structural diff between the desired and
// live documents after stripping ignored paths, or "" when converged.
func Diff(desired, live *v1alpha1.Resource, ignore IgnoreRules) string {
	return cmp.Diff(
		normalize(desired, ignore),
		normalize(live, ignore),
	)
}

func normalize(res *v1alpha1.Resource, ignore IgnoreRules) map[string]interface{} {
	doc := res.DeepCopy().Spec
	if doc == nil {
		doc = map[string]interface{}{}
	}
	delete(doc, "status")
	for _, path := range ignore[res.Kind] {
		removePath(doc, strings.Split(path, "."))
	}
	return doc
}

func removePath(doc map[string]interface{}, parts []string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		delete(doc, parts[0])
		return
	}
	child, ok := doc[parts[0]].(map[string]interface{})
	if !ok {
		return
	}
	removePath(child, parts[1:])
}
