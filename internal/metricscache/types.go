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

package metricscache

import (
	"time"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
)

// Sample is one utilization observation for a workload metric.
type Sample struct {
	Workload  v1alpha1.ResourceRef
	Metric    v1alpha1.MetricType
	Value     float64
	Timestamp time.Time
}

// DataPoint is a single time-series point.
type DataPoint struct {
	Timestamp time.Time
	Value     float64
}

// TimeSeries is a chronological sequence of data points for one
// (workload, metric) pair.
//
// Not thread-safe; concurrency control is handled by the containing cache.
type TimeSeries struct {
	Workload v1alpha1.ResourceRef
	Metric   v1alpha1.MetricType
	Points   []DataPoint
}

// AddPoint appends a data point.
func (ts *TimeSeries) AddPoint(timestamp time.Time, value float64) {
	ts.Points = append(ts.Points, DataPoint{Timestamp: timestamp, Value: value})
}

// Latest returns the most recent point, or nil if empty.
func (ts *TimeSeries) Latest() *DataPoint {
	if len(ts.Points) == 0 {
		return nil
	}
	return &ts.Points[len(ts.Points)-1]
}

// InWindow returns the points with timestamps in (now-window, now].
func (ts *TimeSeries) InWindow(now time.Time, window time.Duration) []DataPoint {
	cutoff := now.Add(-window)
	var out []DataPoint
	for _, p := range ts.Points {
		if p.Timestamp.After(cutoff) && !p.Timestamp.After(now) {
			out = append(out, p)
		}
	}
	return out
}

// MinInWindow returns the lowest value observed in the trailing window and
// whether any point fell inside it.
func (ts *TimeSeries) MinInWindow(now time.Time, window time.Duration) (float64, bool) {
	points := ts.InWindow(now, window)
	if len(points) == 0 {
		return 0, false
	}
	min := points[0].Value
	for _, p := range points[1:] {
		if p.Value < min {
			min = p.Value
		}
	}
	return min, true
}

// Prune drops points older than the retention period.
func (ts *TimeSeries) Prune(now time.Time, retention time.Duration) {
	cutoff := now.Add(-retention)
	kept := ts.Points[:0]
	for _, p := range ts.Points {
		if !p.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	ts.Points = kept
}

// Key identifies a series in the cache.
func Key(workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) string {
	return workload.String() + "|" + string(metric)
}
