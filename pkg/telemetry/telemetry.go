/*
Copyright 2025 Jordi Gil.

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

// Package telemetry is the metrics and tracing surface (SPEC_FULL.md
// §4.13): a handful of Prometheus counters/histograms registered against a
// private registry, plus OpenTelemetry spans around each dispatch. Both are
// optional — collaborators that accept a metrics recorder record nothing
// when it is nil, and the default tracer is a no-op unless one is wired in.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metrics holds the private registry and the instruments registered
// against it. The zero value is not usable; construct with New.
type Metrics struct {
	Registry *prometheus.Registry

	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	phaseDuration     *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
}

// New registers the Substrate instrument set against a fresh private
// registry (never the global DefaultRegisterer — the status HTTP surface
// exposes this registry directly, and a private one keeps a second Metrics
// instance in the same process, e.g. in tests, from colliding).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "substrate_dispatch_total",
			Help: "Count of sub-agent dispatches by task type, agent, and outcome status.",
		}, []string{"task_type", "agent", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "substrate_dispatch_duration_seconds",
			Help:    "Sub-agent dispatch wall-clock duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type", "agent"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "substrate_phase_duration_seconds",
			Help:    "Pipeline phase wall-clock duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "substrate_tokens_total",
			Help: "Estimated tokens consumed, by task type and agent.",
		}, []string{"task_type", "agent"}),
	}
	reg.MustRegister(m.dispatchTotal, m.dispatchDuration, m.phaseDuration, m.tokensTotal)
	return m
}

// RecordDispatch records one completed dispatch.
func (m *Metrics) RecordDispatch(taskType, agent, status string, durationSeconds float64) {
	m.dispatchTotal.WithLabelValues(taskType, agent, status).Inc()
	m.dispatchDuration.WithLabelValues(taskType, agent).Observe(durationSeconds)
}

// RecordPhase records one completed phase transition.
func (m *Metrics) RecordPhase(phase string, durationSeconds float64) {
	m.phaseDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordTokens adds count to the running token total for (taskType, agent).
func (m *Metrics) RecordTokens(taskType, agent string, count int) {
	if count <= 0 {
		return
	}
	m.tokensTotal.WithLabelValues(taskType, agent).Add(float64(count))
}

// Tracer returns a no-op trace.Tracer, used unless the caller wires a real
// one via NewConfiguredTracer. Keeping the ambient stack present without
// requiring an external collector (SPEC_FULL.md §4.13).
func Tracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("substrate")
}

// NewConfiguredTracer wraps an externally-configured TracerProvider (e.g.
// one exporting to an OTLP collector) with the "substrate" instrumentation
// name every span in this module is expected to share.
func NewConfiguredTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		return Tracer()
	}
	return provider.Tracer("substrate")
}
