/*
Copyright 2025 The Wave Engine Authors

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

// Package metricscache holds the utilization samples the autoscaler reads.
// The cache is split into Reader and Writer views: the collector writes,
// the autoscaler reads, and readers never block on collection.
package metricscache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// Reader provides read-only access for the autoscaler decision loop.
type Reader interface {
	// Latest returns the most recent sample for the pair, or ok=false when
	// the series is unknown or empty.
	Latest(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) (Sample, bool)

	// Series returns a copy of the series for the pair, or nil.
	Series(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) *TimeSeries

	// LastCollectionTime returns when the last collection cycle completed.
	LastCollectionTime() time.Time
}

// Writer provides write access for the collector.
type Writer interface {
	// Update stores a batch of samples.
	Update(samples []Sample)

	// MarkCollectionComplete stamps the end of a collection cycle.
	MarkCollectionComplete()

	// Prune drops points older than the retention period.
	Prune(retention time.Duration)
}

// ReadWriter combines both views.
type ReadWriter interface {
	Reader
	Writer
}

// MemoryCache is the in-process ReadWriter used by the engine.
type MemoryCache struct {
	mu             sync.RWMutex
	series         map[string]*TimeSeries
	lastCollection time.Time
	clock          clock.PassiveClock
}

// NewMemoryCache returns an empty cache using the given clock. Pass a fake
// clock in tests.
func NewMemoryCache(c clock.PassiveClock) *MemoryCache {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryCache{
		series: make(map[string]*TimeSeries),
		clock:  c,
	}
}

// Update implements Writer.
func (m *MemoryCache) Update(samples []Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		key := Key(s.Workload, s.Metric)
		ts, ok := m.series[key]
		if !ok {
			ts = &TimeSeries{Workload: s.Workload, Metric: s.Metric}
			m.series[key] = ts
		}
		ts.AddPoint(s.Timestamp, s.Value)
	}
}

// MarkCollectionComplete implements Writer.
func (m *MemoryCache) MarkCollectionComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCollection = m.clock.Now()
}

// Prune implements Writer.
func (m *MemoryCache) Prune(retention time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for key, ts := range m.series {
		ts.Prune(now, retention)
		if len(ts.Points) == 0 {
			delete(m.series, key)
		}
	}
}

// Latest implements Reader.
func (m *MemoryCache) Latest(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.series[Key(workload, metric)]
	if !ok {
		return Sample{}, false
	}
	p := ts.Latest()
	if p == nil {
		return Sample{}, false
	}
	return Sample{Workload: workload, Metric: metric, Value: p.Value, Timestamp: p.Timestamp}, true
}

// Series implements Reader.
func (m *MemoryCache) Series(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) *TimeSeries {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.series[Key(workload, metric)]
	if !ok {
		return nil
	}
	out := &TimeSeries{Workload: ts.Workload, Metric: ts.Metric, Points: make([]DataPoint, len(ts.Points))}
	copy(out.Points, ts.Points)
	return out
}

// LastCollectionTime implements Reader.
func (m *MemoryCache) LastCollectionTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCollection
}

var _ ReadWriter = (*MemoryCache)(nil)
