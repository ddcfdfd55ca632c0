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

// Package metrics holds the engine's Prometheus instrumentation. All
// metrics live in a dedicated registry so tests can scrape or reset it
// without touching the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wave_engine"

// Registry holds every engine metric.
var Registry = prometheus.NewRegistry()

// PassesTotal counts completed reconciliation passes. [outcome].
var PassesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pass",
	Name:      "runs_total",
	Help:      "Completed reconciliation passes by outcome.",
}, []string{"outcome"})

// WaveDurationSeconds observes how long a wave took to reach a terminal
// state. [state].
var WaveDurationSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "scheduler",
	Name:      "wave_duration_seconds",
	Help:      "Time from wave start to its terminal state, by state.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
}, []string{"state"})

// ApplyRetriesTotal counts backend apply attempts beyond the first.
var ApplyRetriesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "apply_retries_total",
	Help:      "Apply attempts beyond the first, across all resources.",
})

// DriftTotal counts resources found diverged from the desired set.
var DriftTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "drift_detected_total",
	Help:      "Resources observed diverged from their desired document.",
})

// PrunedTotal counts orphaned resources deleted.
var PrunedTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "pruned_total",
	Help:      "Orphaned resources removed after two passes agreed.",
})

// AdmissionViolationsTotal counts policy violations. [rule, failure_policy].
var AdmissionViolationsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "admission",
	Name:      "violations_total",
	Help:      "Policy violations by rule and failure policy.",
}, []string{"rule", "failure_policy"})

// DesiredReplicas reports the autoscaler's latest recommendation.
// [workload].
var DesiredReplicas = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "autoscaler",
	Name:      "desired_replicas",
	Help:      "Latest desired replica count per workload.",
}, []string{"workload"})

// AuditDropsTotal counts audit records dropped under backpressure.
var AuditDropsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "audit",
	Name:      "drops_total",
	Help:      "Audit records dropped because the sink buffer was full.",
})

// Handler serves the engine registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
