package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_events_dropped_total",
		Help: "Violation events dropped because the write buffer was full.",
	})
	eventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_events_written_total",
		Help: "Violation events sent to ClickHouse.",
	})
	flushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_event_flush_failures_total",
		Help: "ClickHouse batch inserts that failed.",
	})
)
