package v1alpha1

import (
	"fmt"
	"time"
)

// KindAutoscaleTarget is the resource kind carrying autoscale target specs in
// the desired set.
const KindAutoscaleTarget = "AutoscaleTarget"

// MetricType names a utilization signal sampled from the metrics source.
type MetricType string

const (
	MetricCPU         MetricType = "cpu"
	MetricMemory      MetricType = "memory"
	MetricConcurrency MetricType = "concurrency"
)

// MetricTarget pairs a metric with its target utilization value. The raw
// desired replica count per metric is ceil(current * value / target).
type MetricTarget struct {
	Type MetricType `json:"type"`

	// Target is the per-replica utilization the autoscaler drives toward.
	// Must be positive.
	Target float64 `json:"target"`
}

// ScalePolicyType selects how a scale policy bounds a replica delta.
type ScalePolicyType string

const (
	// PolicyPercent bounds the delta to a percentage of current replicas.
	PolicyPercent ScalePolicyType = "percent"
	// PolicyPods bounds the delta to an absolute replica count.
	PolicyPods ScalePolicyType = "pods"
)

// ScalePolicy bounds how fast replicas change in one direction.
type ScalePolicy struct {
	Type  ScalePolicyType `json:"type"`
	Value int32           `json:"value"`

	// PeriodSeconds is the interval the Value bound applies over.
	PeriodSeconds int32 `json:"periodSeconds"`

	// StabilizationWindowSeconds constrains how quickly a new desired value
	// may take effect after a prior change, evaluated independently per
	// direction. Zero means no window.
	StabilizationWindowSeconds int32 `json:"stabilizationWindowSeconds,omitempty"`
}

// StabilizationWindow returns the window as a duration.
func (p *ScalePolicy) StabilizationWindow() time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(p.StabilizationWindowSeconds) * time.Second
}

// AutoscaleTarget declares a scalable workload and its scaling envelope.
type AutoscaleTarget struct {
	// WorkloadRef identifies the workload whose replica count is driven.
	WorkloadRef ResourceRef `json:"workloadRef"`

	MinReplicas int32 `json:"minReplicas"`
	MaxReplicas int32 `json:"maxReplicas"`

	Metrics []MetricTarget `json:"metrics"`

	// ScaleUpPolicy bounds upward changes. No stabilization delay applies
	// by default for scale-up unless the policy sets a window.
	ScaleUpPolicy *ScalePolicy `json:"scaleUpPolicy,omitempty"`

	// ScaleDownPolicy bounds downward changes.
	ScaleDownPolicy *ScalePolicy `json:"scaleDownPolicy,omitempty"`
}

// ValidateDefinition checks the target's scaling envelope.
func (t *AutoscaleTarget) ValidateDefinition() error {
	if t.WorkloadRef.Name == "" || t.WorkloadRef.Kind == "" {
		return fmt.Errorf("autoscale target must reference a workload")
	}
	if t.MinReplicas < 0 {
		return fmt.Errorf("target %s: minReplicas must be >= 0, got %d", t.WorkloadRef, t.MinReplicas)
	}
	if t.MaxReplicas < t.MinReplicas {
		return fmt.Errorf("target %s: maxReplicas (%d) must be >= minReplicas (%d)",
			t.WorkloadRef, t.MaxReplicas, t.MinReplicas)
	}
	if len(t.Metrics) == 0 {
		return fmt.Errorf("target %s: at least one metric is required", t.WorkloadRef)
	}
	for _, m := range t.Metrics {
		if m.Target <= 0 {
			return fmt.Errorf("target %s: metric %q target must be positive, got %v",
				t.WorkloadRef, m.Type, m.Target)
		}
	}
	for _, p := range []*ScalePolicy{t.ScaleUpPolicy, t.ScaleDownPolicy} {
		if p == nil {
			continue
		}
		if p.Type != PolicyPercent && p.Type != PolicyPods {
			return fmt.Errorf("target %s: unknown scale policy type %q", t.WorkloadRef, p.Type)
		}
		if p.Value <= 0 {
			return fmt.Errorf("target %s: scale policy value must be positive, got %d",
				t.WorkloadRef, p.Value)
		}
		if p.PeriodSeconds <= 0 {
			return fmt.Errorf("target %s: scale policy periodSeconds must be positive, got %d",
				t.WorkloadRef, p.PeriodSeconds)
		}
	}
	return nil
}
