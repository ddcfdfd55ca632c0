package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// KindNetworkRule is the resource kind carrying network allow rules in the
// desired set.
const KindNetworkRule = "NetworkRule"

// Direction of traffic a network rule governs, from the perspective of the
// pod the rule's selector matches.
type Direction string

const (
	Ingress Direction = "ingress"
	Egress  Direction = "egress"
)

// Protocol of a port grant.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// NetworkPeer describes one allowed peer. At least one of the selectors or
// the CIDR must be set; set selectors are ANDed.
type NetworkPeer struct {
	// NamespaceSelector matches the peer pod's namespace labels.
	NamespaceSelector *metav1.LabelSelector `json:"namespaceSelector,omitempty"`

	// PodSelector matches the peer pod's labels.
	PodSelector *metav1.LabelSelector `json:"podSelector,omitempty"`

	// CIDR matches the peer by address block.
	CIDR string `json:"cidr,omitempty"`
}

// NetworkPort is one allowed (protocol, port) pair. A zero Port matches any
// port for the protocol.
type NetworkPort struct {
	Protocol Protocol `json:"protocol"`
	Port     int32    `json:"port,omitempty"`
}

// NetworkRule grants traffic in one direction for the pods its selector
// matches. Rules are purely additive: the presence of any rule matching a pod
// switches that pod from implicit-deny to "deny except explicitly matched
// peers" for that direction, never to allow-all.
type NetworkRule struct {
	Name string `json:"name"`

	Direction Direction `json:"direction"`

	// Selector matches the pods this rule applies to. A nil selector matches
	// all pods in the rule's namespace.
	Selector *metav1.LabelSelector `json:"selector,omitempty"`

	// Namespace scopes the rule's selector.
	Namespace string `json:"namespace,omitempty"`

	// Peers lists the allowed sources (ingress) or destinations (egress).
	Peers []NetworkPeer `json:"peers,omitempty"`

	// Ports lists the allowed ports. Empty means all ports.
	Ports []NetworkPort `json:"ports,omitempty"`
}

// ValidateDefinition checks the rule definition.
func (r *NetworkRule) ValidateDefinition() error {
	if r.Name == "" {
		return fmt.Errorf("network rule must have a name")
	}
	if r.Direction != Ingress && r.Direction != Egress {
		return fmt.Errorf("rule %q: unknown direction %q", r.Name, r.Direction)
	}
	for i, p := range r.Peers {
		if p.NamespaceSelector == nil && p.PodSelector == nil && p.CIDR == "" {
			return fmt.Errorf("rule %q: peer %d is empty", r.Name, i)
		}
	}
	for _, port := range r.Ports {
		if port.Port < 0 || port.Port > 65535 {
			return fmt.Errorf("rule %q: port %d out of range", r.Name, port.Port)
		}
	}
	return nil
}
