// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// construction service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring iterative
// construction runs. Metrics include:
//   - Run counters by terminal state
//   - Iterations-per-run histograms
//   - Sandbox and model-port latency histograms
//   - Active run gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for construction run metrics
const forgeSubsystem = "forge"

// RunMetrics holds all Prometheus metrics for construction runs.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring run outcomes
// and step latencies. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - RunsTotal: Counter of completed runs by terminal state
//   - IterationsPerRun: Histogram of executor invocations per run
//   - SandboxDurationSeconds: Histogram of sandbox step duration
//   - PortDurationSeconds: Histogram of model port call duration
//   - ActiveRuns: Gauge of currently executing runs
//   - SafetyRejectionsTotal: Counter of candidates rejected by screening
//
// # Thread Safety
//
// All operations are thread-safe.
type RunMetrics struct {
	// RunsTotal counts completed runs.
	// Labels: state (succeeded, exhausted, failed)
	RunsTotal *prometheus.CounterVec

	// IterationsPerRun measures executor invocations per completed run.
	IterationsPerRun prometheus.Histogram

	// SandboxDurationSeconds measures one build-plus-run cycle.
	// Labels: backend (docker, podman, remote), status (success, failure, fault)
	SandboxDurationSeconds *prometheus.HistogramVec

	// PortDurationSeconds measures model port call latency.
	// Labels: port (generate, validate), status (success, refused, error)
	PortDurationSeconds *prometheus.HistogramVec

	// ActiveRuns tracks runs currently between seeding and a terminal state.
	ActiveRuns prometheus.Gauge

	// SafetyRejectionsTotal counts candidates rejected by screening.
	// Labels: stage (seed, patch)
	SafetyRejectionsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of RunMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RunMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Outputs
//
//   - *RunMetrics: The initialized metrics instance.
func InitMetrics() *RunMetrics {
	if DefaultMetrics != nil {
		return DefaultMetrics
	}
	DefaultMetrics = &RunMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "runs_total",
				Help:      "Completed construction runs by terminal state.",
			},
			[]string{"state"},
		),
		IterationsPerRun: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "iterations_per_run",
				Help:      "Executor invocations per completed run.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 50, 100},
			},
		),
		SandboxDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "sandbox_duration_seconds",
				Help:      "Duration of one sandbox build-plus-run cycle.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend", "status"},
		),
		PortDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "port_duration_seconds",
				Help:      "Duration of model port calls.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"port", "status"},
		),
		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "active_runs",
				Help:      "Runs currently between seeding and a terminal state.",
			},
		),
		SafetyRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "safety_rejections_total",
				Help:      "Candidates rejected by security screening.",
			},
			[]string{"stage"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordRunComplete records a terminal run outcome. Nil-safe so the
// engine can run without metrics in tests.
func (m *RunMetrics) RecordRunComplete(state string, iterations int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.IterationsPerRun.Observe(float64(iterations))
}

// RecordSandboxStep records one sandbox cycle.
func (m *RunMetrics) RecordSandboxStep(backend, status string, seconds float64) {
	if m == nil {
		return
	}
	m.SandboxDurationSeconds.WithLabelValues(backend, status).Observe(seconds)
}

// RecordPortCall records one model port call.
func (m *RunMetrics) RecordPortCall(port, status string, seconds float64) {
	if m == nil {
		return
	}
	m.PortDurationSeconds.WithLabelValues(port, status).Observe(seconds)
}

// RecordSafetyRejection records one screening rejection.
func (m *RunMetrics) RecordSafetyRejection(stage string) {
	if m == nil {
		return
	}
	m.SafetyRejectionsTotal.WithLabelValues(stage).Inc()
}

// RunStarted increments the active-run gauge.
func (m *RunMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active-run gauge.
func (m *RunMetrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
