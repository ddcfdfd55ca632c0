package collector

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/metricscache"
)

// FakeSource serves fixed utilization values for tests.
type FakeSource struct {
	mu     sync.Mutex
	values map[string]float64
	clock  clock.PassiveClock
}

// NewFakeSource returns a source with no data; use Set to add values.
func NewFakeSource(c clock.PassiveClock) *FakeSource {
	if c == nil {
		c = clock.RealClock{}
	}
	return &FakeSource{values: make(map[string]float64), clock: c}
}

// Set fixes the value served for a workload metric.
func (f *FakeSource) Set(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[metricscache.Key(workload, metric)] = value
}

// Clear removes the value, making the metric report no data.
func (f *FakeSource) Clear(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, metricscache.Key(workload, metric))
}

// Name implements Source.
func (f *FakeSource) Name() string { return "fake" }

// SampleUtilization implements Source.
func (f *FakeSource) SampleUtilization(_ context.Context, workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) (metricscache.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[metricscache.Key(workload, metric)]
	if !ok {
		return metricscache.Sample{}, ErrNoData
	}
	return metricscache.Sample{
		Workload:  workload,
		Metric:    metric,
		Value:     value,
		Timestamp: f.clock.Now(),
	}, nil
}

var _ Source = (*FakeSource)(nil)
