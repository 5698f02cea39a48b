/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package stats

import (
	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/unit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlm_ensemble_units_total",
			Help: "Total number of persisted units by outcome",
		},
		[]string{"experiment", "model", "outcome"},
	)

	disagreementCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlm_ensemble_disagreements_total",
			Help: "Total number of dimensions where the backends disagreed",
		},
		[]string{"experiment", "model", "dimension"},
	)

	skipCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlm_ensemble_enumeration_skips_total",
			Help: "Total number of enumeration candidates skipped by reason",
		},
		[]string{"experiment", "model", "reason"},
	)
)

// MetricsObserver exports run progress as Prometheus counters.
type MetricsObserver struct {
	experiment string
	model      string
}

// NewMetricsObserver returns an observer labelling series with the
// experiment and model.
func NewMetricsObserver(experiment, model string) *MetricsObserver {
	return &MetricsObserver{experiment: experiment, model: model}
}

// Observe counts a persisted record.
func (m *MetricsObserver) Observe(rec *ensemble.Record) {
	if rec == nil {
		return
	}
	unitCounter.WithLabelValues(m.experiment, m.model, string(rec.Outcome)).Inc()
	for name, d := range rec.Dimensions {
		if d.Agreement != nil && !*d.Agreement {
			disagreementCounter.WithLabelValues(m.experiment, m.model, name).Inc()
		}
	}
}

// ObserveSkips counts enumeration skips.
func (m *MetricsObserver) ObserveSkips(s unit.Skips) {
	for reason, n := range s {
		skipCounter.WithLabelValues(m.experiment, m.model, string(reason)).Add(float64(n))
	}
}
