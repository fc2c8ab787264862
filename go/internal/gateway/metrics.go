package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "planningpoker_gateway_"

type hubMetrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	broadcasts  prometheus.Counter
	messages    prometheus.Counter
	dropped     *prometheus.CounterVec
	inbound     *prometheus.CounterVec
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	promautoFactory := promauto.With(reg)
	return &hubMetrics{
		connections: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "connections",
			Help: "number of open websocket connections",
		}),
		rooms: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "rooms",
			Help: "number of rooms with at least one bound connection",
		}),
		broadcasts: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "broadcasts_total",
			Help: "number of room events fanned out",
		}),
		messages: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "messages_sent_total",
			Help: "number of frames queued to connections",
		}),
		dropped: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "dropped_total",
			Help: "number of events or connections dropped",
		}, []string{"reason"}),
		inbound: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "inbound_messages_total",
			Help: "number of client messages by type and outcome",
		}, []string{"type", "outcome"}),
	}
}
