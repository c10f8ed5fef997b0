package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ruleSetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "moderation_rule_set_size",
	Help: "Number of rules in the published rule set",
}, []string{"kind"})

var ruleLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_rule_load_failures_total",
	Help: "Number of failed rule loads from the repository",
})
