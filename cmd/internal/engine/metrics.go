package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the engine's operational counters. They are registered on
// the registerer passed to New; a nil registerer yields working but
// unregistered counters, which keeps tests quiet.
type metrics struct {
	polls            prometheus.Counter
	pollFailures     prometheus.Counter
	sends            prometheus.Counter
	sendFailures     prometheus.Counter
	messagesMerged   prometheus.Counter
	snapshotFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_polls_total",
			Help: "Forward polls issued against the remote feed.",
		}),
		pollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_poll_failures_total",
			Help: "Forward polls that ended in a transport or status error.",
		}),
		sends: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_sends_total",
			Help: "Messages submitted to the remote feed.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_send_failures_total",
			Help: "Message submissions that failed and were marked locally.",
		}),
		messagesMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_messages_merged_total",
			Help: "Messages added to the local collection by reconciliation.",
		}),
		snapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodle_engine_snapshot_save_failures_total",
			Help: "Best-effort snapshot saves that failed (absorbed).",
		}),
	}
}
