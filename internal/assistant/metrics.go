package assistant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_sessions_started_total",
		Help: "Number of stream sessions opened against the upstream provider.",
	})

	metricSessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_sessions_finished_total",
		Help: "Number of stream sessions by terminal state.",
	}, []string{"state"})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_active_sessions",
		Help: "Number of stream sessions currently consuming upstream bytes.",
	})

	metricDeltasApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_deltas_applied_total",
		Help: "Number of delta fragments applied to placeholder messages.",
	})

	metricDeltaBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_delta_bytes_total",
		Help: "Total size of applied delta fragments in bytes.",
	})
)
