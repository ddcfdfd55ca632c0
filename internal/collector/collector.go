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

// Package collector pulls utilization samples from the external metrics
// source into the metrics cache on a fixed interval. The autoscaler never
// queries the source directly; it reads the cache.
package collector

import (
	"context"
	"errors"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"k8s.io/utils/clock"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/logging"
	"github.com/gitops-incubation/wave-engine/internal/metricscache"
)

// ErrNoData is returned by a source when the metric has no current value.
// The autoscaler excludes such metrics rather than treating them as zero.
var ErrNoData = errors.New("no metric data")

// Source is the external metrics collaborator.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// SampleUtilization returns the current value for one workload metric,
	// or ErrNoData.
	SampleUtilization(ctx context.Context, workload v1alpha1.ResourceRef, metric v1alpha1.MetricType) (metricscache.Sample, error)
}

// Collector polls a source for the metrics its registered targets need and
// writes the samples into the cache.
type Collector struct {
	source   Source
	cache    metricscache.Writer
	interval time.Duration
	clock    clock.PassiveClock

	targets []v1alpha1.AutoscaleTarget
}

// New returns a collector polling the source every interval.
func New(source Source, cache metricscache.Writer, interval time.Duration, c clock.PassiveClock) *Collector {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Collector{source: source, cache: cache, interval: interval, clock: c}
}

// SetTargets replaces the set of autoscale targets to collect for.
func (c *Collector) SetTargets(targets []v1alpha1.AutoscaleTarget) {
	c.targets = targets
}

// CollectOnce samples every registered (workload, metric) pair once.
// Unavailable metrics are skipped; collection is never fatal.
func (c *Collector) CollectOnce(ctx context.Context) {
	logger := ctrl.LoggerFrom(ctx)
	var samples []metricscache.Sample
	for _, target := range c.targets {
		for _, m := range target.Metrics {
			sample, err := c.source.SampleUtilization(ctx, target.WorkloadRef, m.Type)
			if err != nil {
				if !errors.Is(err, ErrNoData) {
					logger.V(logging.DEBUG).Info("metric sample failed",
						"source", c.source.Name(), "workload", target.WorkloadRef.String(),
						"metric", string(m.Type), "error", err.Error())
				}
				continue
			}
			samples = append(samples, sample)
		}
	}
	if len(samples) > 0 {
		c.cache.Update(samples)
	}
	c.cache.MarkCollectionComplete()
}

// Run polls until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.CollectOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce(ctx)
		}
	}
}
