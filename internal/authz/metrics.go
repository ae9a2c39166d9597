// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts authorization decisions by subject kind,
	// action, and outcome. The subject label distinguishes anonymous
	// from authenticated traffic only; usernames would explode
	// cardinality.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"subject_kind", "action", "decision"},
	)

	// DecisionDuration tracks enforcement latency.
	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	// DeniedTotal tracks denials for alerting.
	DeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denied_total",
			Help: "Total number of authorization denials",
		},
		[]string{"subject_kind", "action"},
	)

	// PolicyRules tracks the size of the loaded policy set.
	PolicyRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_policy_rules",
			Help: "Number of policy rules currently loaded",
		},
	)
)

// RecordDecision records one enforcement outcome.
func RecordDecision(subject, action string, allowed bool, duration time.Duration) {
	kind := "authenticated"
	if subject == "" || subject == "anonymous" {
		kind = "anonymous"
	}
	decision := "allow"
	if !allowed {
		decision = "deny"
		DeniedTotal.WithLabelValues(kind, action).Inc()
	}
	DecisionsTotal.WithLabelValues(kind, action, decision).Inc()
	DecisionDuration.Observe(duration.Seconds())
}
