package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the prometheus collectors for the drag service.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec // result=committed|discarded|cancelled
	ActiveSessions  prometheus.Gauge

	SnapHits prometheus.Counter

	ReschedulesApplied *prometheus.CounterVec // scope=occurrence|series
	RescheduleErrors   prometheus.Counter

	FeedRefreshes *prometheus.CounterVec // result=ok|error
}

// NewMetrics constructs all collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drag_sessions_started_total",
			Help: "Total drag sessions started",
		}),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drag_sessions_ended_total",
				Help: "Total drag sessions ended by result",
			},
			[]string{"result"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drag_sessions_active",
			Help: "Drag sessions currently in progress",
		}),
		SnapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drag_snap_hits_total",
			Help: "Pointer moves that resolved to a drop-zone date",
		}),
		ReschedulesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reschedules_applied_total",
				Help: "Committed reschedules applied by scope",
			},
			[]string{"scope"},
		),
		RescheduleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reschedule_errors_total",
			Help: "Committed reschedules that failed to apply",
		}),
		FeedRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_refreshes_total",
				Help: "Feed refresh cycles by result",
			},
			[]string{"result"},
		),
	}
}

// Register attaches all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.SessionsStarted,
		m.SessionsEnded,
		m.ActiveSessions,
		m.SnapHits,
		m.ReschedulesApplied,
		m.RescheduleErrors,
		m.FeedRefreshes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
