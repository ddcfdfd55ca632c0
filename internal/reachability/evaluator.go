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

package reachability

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// Pod is the evaluator's view of a workload endpoint. NamespaceLabels are
// needed because peers may match by namespace selector.
type Pod struct {
	Name            string
	Namespace       string
	Labels          map[string]string
	NamespaceLabels map[string]string

	// IP is used only for CIDR peer matching; it may be empty.
	IP string
}

// Evaluator answers reachability queries against a rule set. It is safe for
// concurrent use; queries never block on rule updates longer than a map
// lookup.
type Evaluator struct {
	mu sync.RWMutex

	rules          []v1alpha1.NetworkRule
	openNamespaces map[string]bool

	memo map[string]bool
}

// NewEvaluator returns an evaluator with an empty rule set, meaning every
// query is denied until rules or namespace opt-outs are loaded.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		openNamespaces: make(map[string]bool),
		memo:           make(map[string]bool),
	}
}

// SetRules replaces the rule set. Rules that fail validation are rejected
// and the previous set stays in effect.
func (e *Evaluator) SetRules(rules []v1alpha1.NetworkRule) error {
	for i := range rules {
		if err := rules[i].ValidateDefinition(); err != nil {
			return fmt.Errorf("invalid network rule: %w", err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.memo = make(map[string]bool)
	return nil
}

// SetNamespaceOpen marks a namespace as opted out of the default-deny
// baseline. Pods in an open namespace with zero matching rules for a
// direction are reachable in that direction.
func (e *Evaluator) SetNamespaceOpen(namespace string, open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if open {
		e.openNamespaces[namespace] = true
	} else {
		delete(e.openNamespaces, namespace)
	}
	e.memo = make(map[string]bool)
}

// IsAllowed reports whether traffic from src to dst on the given port is
// permitted in one direction. Ingress is judged from the destination pod's
// rules; egress from the source pod's. Full connectivity requires both,
// see Connected.
func (e *Evaluator) IsAllowed(src, dst Pod, port v1alpha1.NetworkPort, direction v1alpha1.Direction) bool {
	key := memoKey(src, dst, port, direction)

	e.mu.RLock()
	if allowed, ok := e.memo[key]; ok {
		e.mu.RUnlock()
		return allowed
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if allowed, ok := e.memo[key]; ok {
		return allowed
	}
	allowed := e.evaluate(src, dst, port, direction)
	e.memo[key] = allowed
	return allowed
}

// Connected reports whether traffic from src to dst on the port is allowed
// end to end: egress out of the source and ingress into the destination.
func (e *Evaluator) Connected(src, dst Pod, port v1alpha1.NetworkPort) bool {
	return e.IsAllowed(src, dst, port, v1alpha1.Egress) &&
		e.IsAllowed(src, dst, port, v1alpha1.Ingress)
}

// evaluate runs the actual predicate. Caller holds e.mu.
func (e *Evaluator) evaluate(src, dst Pod, port v1alpha1.NetworkPort, direction v1alpha1.Direction) bool {
	// The subject is the pod whose rules govern this direction; the peer
	// is the other endpoint.
	subject, peer := dst, src
	if direction == v1alpha1.Egress {
		subject, peer = src, dst
	}

	matched := false
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Direction != direction || !e.selectsSubject(rule, subject) {
			continue
		}
		matched = true
		if peerAllowed(rule, peer) && portAllowed(rule, port) {
			return true
		}
	}
	if !matched {
		// Zero rules for this direction: reachable only if the namespace
		// opted out of the default-deny baseline.
		return e.openNamespaces[subject.Namespace]
	}
	return false
}

func (e *Evaluator) selectsSubject(rule *v1alpha1.NetworkRule, subject Pod) bool {
	if rule.Namespace != "" && rule.Namespace != subject.Namespace {
		return false
	}
	return selectorMatches(rule.Selector, subject.Labels)
}

// peerAllowed reports whether any of the rule's peers matches the other
// endpoint. An empty peer list grants all peers.
func peerAllowed(rule *v1alpha1.NetworkRule, peer Pod) bool {
	if len(rule.Peers) == 0 {
		return true
	}
	for _, p := range rule.Peers {
		if p.NamespaceSelector != nil && !selectorMatches(p.NamespaceSelector, peer.NamespaceLabels) {
			continue
		}
		if p.PodSelector != nil && !selectorMatches(p.PodSelector, peer.Labels) {
			continue
		}
		if p.CIDR != "" && !cidrContains(p.CIDR, peer.IP) {
			continue
		}
		return true
	}
	return false
}

// portAllowed reports whether the rule grants the queried port. An empty
// port list grants all ports; a rule port of zero grants any port on its
// protocol.
func portAllowed(rule *v1alpha1.NetworkRule, port v1alpha1.NetworkPort) bool {
	if len(rule.Ports) == 0 {
		return true
	}
	for _, p := range rule.Ports {
		if p.Protocol != port.Protocol {
			continue
		}
		if p.Port == 0 || p.Port == port.Port {
			return true
		}
	}
	return false
}

func selectorMatches(sel *metav1.LabelSelector, lbls map[string]string) bool {
	if sel == nil {
		return true
	}
	s, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil {
		return false
	}
	return s.Matches(labels.Set(lbls))
}

func cidrContains(cidr, ip string) bool {
	if ip == "" {
		return false
	}
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return prefix.Contains(addr)
}

// memoKey canonicalizes a query. Only fields the predicate can observe go
// into the key.
func memoKey(src, dst Pod, port v1alpha1.NetworkPort, direction v1alpha1.Direction) string {
	var b strings.Builder
	b.WriteString(string(direction))
	b.WriteByte('|')
	writePodKey(&b, src)
	b.WriteByte('|')
	writePodKey(&b, dst)
	fmt.Fprintf(&b, "|%s/%d", port.Protocol, port.Port)
	return b.String()
}

func writePodKey(b *strings.Builder, p Pod) {
	b.WriteString(p.Namespace)
	b.WriteByte('/')
	b.WriteString(p.IP)
	writeLabelsKey(b, p.Labels)
	writeLabelsKey(b, p.NamespaceLabels)
}

func writeLabelsKey(b *strings.Builder, lbls map[string]string) {
	keys := make([]string, 0, len(lbls))
	for k := range lbls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(lbls[k])
		b.WriteByte(',')
	}
	b.WriteByte('}')
}
