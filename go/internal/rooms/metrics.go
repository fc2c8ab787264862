package rooms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "planningpoker_rooms_"

type appMetrics struct {
	roomsCreated  prometheus.Counter
	joins         *prometheus.CounterVec
	votes         prometheus.Counter
	reveals       *prometheus.CounterVec
	rounds        prometheus.Counter
	archived      prometheus.Counter
	kicks         prometheus.Counter
	publishErrors prometheus.Counter
}

// newAppMetrics registers the coordinator metrics on reg. A nil reg yields
// working but unregistered collectors.
func newAppMetrics(reg prometheus.Registerer) *appMetrics {
	promautoFactory := promauto.With(reg)
	return &appMetrics{
		roomsCreated: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "created_total",
			Help: "number of rooms created",
		}),
		joins: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "joins_total",
			Help: "number of room joins by kind",
		}, []string{"kind"}),
		votes: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "votes_total",
			Help: "number of accepted vote submissions",
		}),
		reveals: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "reveals_total",
			Help: "number of reveal transitions by trigger",
		}, []string{"trigger"}),
		rounds: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "rounds_started_total",
			Help: "number of rounds started",
		}),
		archived: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "history_archived_total",
			Help: "number of rounds written to voting history",
		}),
		kicks: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "kicks_total",
			Help: "number of participants removed",
		}),
		publishErrors: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "publish_errors_total",
			Help: "number of room events a publisher rejected",
		}),
	}
}
