package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_checks_total",
	Help: "Number of prompt checks by outcome",
}, []string{"outcome"})

var violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_violations_total",
	Help: "Number of recorded violations by kind",
}, []string{"kind"})

var enforcementActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_enforcement_actions_total",
	Help: "Number of enforcement actions by tier",
}, []string{"action"})

var failOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_fail_open_total",
	Help: "Number of checks that continued past a failed dependency",
}, []string{"source"})

var sanctionsLifted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_sanctions_lifted_total",
	Help: "Number of expired restrictions lifted",
}, []string{"path"})

var checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "moderation_check_duration_seconds",
	Help:    "Duration of CheckPrompt calls",
	Buckets: prometheus.DefBuckets,
})

var classifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "moderation_classifier_duration_seconds",
	Help:    "Duration of classifier fan-out per check",
	Buckets: prometheus.DefBuckets,
})
