// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// Manager owns the Prometheus registry and the subsystem instruments.
type Manager struct {
	registry *prometheus.Registry

	searchesTotal   *prometheus.CounterVec
	candidatesTotal prometheus.Counter
	decisionsTotal  *prometheus.CounterVec
	grabsTotal      *prometheus.CounterVec
	reconcilesTotal *prometheus.CounterVec
	searchDuration  prometheus.Histogram
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "searches_total",
			Help:      "Total number of release searches by outcome",
		}, []string{"result"}),
		candidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "candidates_total",
			Help:      "Total number of release candidates evaluated",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "decisions_total",
			Help:      "Total number of candidate decisions by result",
		}, []string{"result"}),
		grabsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "grabs_total",
			Help:      "Total number of dispatch attempts by status",
		}, []string{"status"}),
		reconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetcharr",
			Name:      "queue_reconciliations_total",
			Help:      "Total number of queue reconciliation passes by outcome",
		}, []string{"result"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fetcharr",
			Name:      "search_duration_seconds",
			Help:      "Duration of full search pipeline runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}

	registry.MustRegister(
		m.searchesTotal,
		m.candidatesTotal,
		m.decisionsTotal,
		m.grabsTotal,
		m.reconcilesTotal,
		m.searchDuration,
	)

	log.Info().Msg("Metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordSearch records one pipeline run.
func (m *Manager) RecordSearch(result string, seconds float64, candidates, accepted, rejected int) {
	m.searchesTotal.WithLabelValues(result).Inc()
	m.searchDuration.Observe(seconds)
	m.candidatesTotal.Add(float64(candidates))
	m.decisionsTotal.WithLabelValues("accepted").Add(float64(accepted))
	m.decisionsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordGrab records one dispatch attempt.
func (m *Manager) RecordGrab(status string) {
	m.grabsTotal.WithLabelValues(status).Inc()
}

// RecordReconcile records one queue reconciliation pass.
func (m *Manager) RecordReconcile(result string) {
	m.reconcilesTotal.WithLabelValues(result).Inc()
}
