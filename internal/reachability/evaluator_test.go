package reachability

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

func podSel(lbls map[string]string) *metav1.LabelSelector {
	return &metav1.LabelSelector{MatchLabels: lbls}
}

var _ = Describe("Evaluator", func() {
	var (
		e        *Evaluator
		frontend Pod
		backend  Pod
		tcp8080  v1alpha1.NetworkPort
	)

	BeforeEach(func() {
		e = NewEvaluator()
		frontend = Pod{
			Name:      "frontend-0",
			Namespace: "web",
			Labels:    map[string]string{"app": "frontend"},
			NamespaceLabels: map[string]string{
				"team": "storefront",
			},
			IP: "10.0.1.5",
		}
		backend = Pod{
			Name:      "backend-0",
			Namespace: "api",
			Labels:    map[string]string{"app": "backend"},
			NamespaceLabels: map[string]string{
				"team": "platform",
			},
			IP: "10.0.2.9",
		}
		tcp8080 = v1alpha1.NetworkPort{Protocol: v1alpha1.ProtocolTCP, Port: 8080}
	})

	It("denies everything with no rules and no opt-outs", func() {
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Egress)).To(BeFalse())
	})

	It("treats a namespace opt-out as allow-all only while no rule matches", func() {
		e.SetNamespaceOpen("api", true)
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())

		// The first matching rule switches the pod to deny-except-matched,
		// never back to allow-all.
		Expect(e.SetRules([]v1alpha1.NetworkRule{{
			Name:      "backend-from-batch",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
			Selector:  podSel(map[string]string{"app": "backend"}),
			Peers:     []v1alpha1.NetworkPeer{{PodSelector: podSel(map[string]string{"app": "batch"})}},
		}})).To(Succeed())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
	})

	Describe("with an ingress rule for the backend", func() {
		BeforeEach(func() {
			Expect(e.SetRules([]v1alpha1.NetworkRule{{
				Name:      "backend-from-frontend",
				Direction: v1alpha1.Ingress,
				Namespace: "api",
				Selector:  podSel(map[string]string{"app": "backend"}),
				Peers: []v1alpha1.NetworkPeer{{
					PodSelector: podSel(map[string]string{"app": "frontend"}),
				}},
				Ports: []v1alpha1.NetworkPort{{Protocol: v1alpha1.ProtocolTCP, Port: 8080}},
			}})).To(Succeed())
		})

		It("permits the matched peer on the granted port", func() {
			Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())
		})

		It("denies other ports and protocols", func() {
			Expect(e.IsAllowed(frontend, backend,
				v1alpha1.NetworkPort{Protocol: v1alpha1.ProtocolTCP, Port: 9090},
				v1alpha1.Ingress)).To(BeFalse())
			Expect(e.IsAllowed(frontend, backend,
				v1alpha1.NetworkPort{Protocol: v1alpha1.ProtocolUDP, Port: 8080},
				v1alpha1.Ingress)).To(BeFalse())
		})

		It("denies unmatched peers", func() {
			other := Pod{Name: "batch-0", Namespace: "jobs", Labels: map[string]string{"app": "batch"}}
			Expect(e.IsAllowed(other, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
		})

		It("does not grant egress from a rule about ingress", func() {
			Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Egress)).To(BeFalse())
		})
	})

	It("requires both selectors of a peer to match", func() {
		Expect(e.SetRules([]v1alpha1.NetworkRule{{
			Name:      "backend-from-platform-frontends",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
			Peers: []v1alpha1.NetworkPeer{{
				NamespaceSelector: podSel(map[string]string{"team": "platform"}),
				PodSelector:       podSel(map[string]string{"app": "frontend"}),
			}},
		}})).To(Succeed())

		// frontend carries the right pod labels but lives in a storefront
		// namespace, so the ANDed peer does not match.
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
	})

	It("matches peers by CIDR", func() {
		Expect(e.SetRules([]v1alpha1.NetworkRule{{
			Name:      "backend-from-web-subnet",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
			Peers:     []v1alpha1.NetworkPeer{{CIDR: "10.0.1.0/24"}},
		}})).To(Succeed())

		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())

		outside := frontend
		outside.IP = "10.0.3.7"
		Expect(e.IsAllowed(outside, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
	})

	It("evaluates egress against the source pod's rules", func() {
		Expect(e.SetRules([]v1alpha1.NetworkRule{{
			Name:      "frontend-to-backend",
			Direction: v1alpha1.Egress,
			Namespace: "web",
			Selector:  podSel(map[string]string{"app": "frontend"}),
			Peers: []v1alpha1.NetworkPeer{{
				PodSelector: podSel(map[string]string{"app": "backend"}),
			}},
		}})).To(Succeed())

		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Egress)).To(BeTrue())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeFalse())
	})

	It("requires egress and ingress for end-to-end connectivity", func() {
		Expect(e.SetRules([]v1alpha1.NetworkRule{
			{
				Name:      "frontend-to-backend",
				Direction: v1alpha1.Egress,
				Namespace: "web",
				Selector:  podSel(map[string]string{"app": "frontend"}),
				Peers:     []v1alpha1.NetworkPeer{{PodSelector: podSel(map[string]string{"app": "backend"})}},
			},
		})).To(Succeed())
		Expect(e.Connected(frontend, backend, tcp8080)).To(BeFalse())

		e.SetNamespaceOpen("api", true)
		Expect(e.Connected(frontend, backend, tcp8080)).To(BeTrue())
	})

	It("never revokes a result by adding rules", func() {
		base := []v1alpha1.NetworkRule{{
			Name:      "backend-from-frontend",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
			Selector:  podSel(map[string]string{"app": "backend"}),
			Peers:     []v1alpha1.NetworkPeer{{PodSelector: podSel(map[string]string{"app": "frontend"})}},
		}}
		Expect(e.SetRules(base)).To(Succeed())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())

		// Additive semantics: a narrower rule for the same pod widens, it
		// cannot narrow.
		wider := append(base, v1alpha1.NetworkRule{
			Name:      "backend-from-nothing",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
			Selector:  podSel(map[string]string{"app": "backend"}),
			Peers:     []v1alpha1.NetworkPeer{{PodSelector: podSel(map[string]string{"app": "no-such-app"})}},
			Ports:     []v1alpha1.NetworkPort{{Protocol: v1alpha1.ProtocolUDP, Port: 53}},
		})
		Expect(e.SetRules(wider)).To(Succeed())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())
	})

	It("rejects invalid rules and keeps the previous set", func() {
		good := []v1alpha1.NetworkRule{{
			Name:      "backend-open",
			Direction: v1alpha1.Ingress,
			Namespace: "api",
		}}
		Expect(e.SetRules(good)).To(Succeed())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())

		bad := []v1alpha1.NetworkRule{{Name: "nameless", Direction: "sideways"}}
		Expect(e.SetRules(bad)).To(HaveOccurred())
		Expect(e.IsAllowed(frontend, backend, tcp8080, v1alpha1.Ingress)).To(BeTrue())
	})
})
