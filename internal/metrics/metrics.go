// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the game service and gateway report to.
type Metrics struct {
	registry *prometheus.Registry

	RPCDuration   *prometheus.HistogramVec
	SeatJoins     *prometheus.CounterVec
	Actions       *prometheus.CounterVec
	TurnTimeouts  prometheus.Counter
	TurnDuration  prometheus.Histogram
	HandsStarted  prometheus.Counter
	HandsEnded    *prometheus.CounterVec
	WSConnections prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "homegame",
			Name:      "rpc_duration_seconds",
			Help:      "Latency of game service RPCs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		SeatJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homegame",
			Name:      "seat_joins_total",
			Help:      "Seat join attempts by result.",
		}, []string{"result"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homegame",
			Name:      "actions_total",
			Help:      "Hand actions applied by type.",
		}, []string{"type"}),
		TurnTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "homegame",
			Name:      "turn_timeouts_total",
			Help:      "Turns resolved by the timeout scheduler.",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homegame",
			Name:      "turn_duration_seconds",
			Help:      "Time players take to act.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 60},
		}),
		HandsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "homegame",
			Name:      "hands_started_total",
			Help:      "Hands dealt.",
		}),
		HandsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homegame",
			Name:      "hands_ended_total",
			Help:      "Hands finished by outcome.",
		}, []string{"outcome"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "homegame",
			Name:      "ws_connections",
			Help:      "Open gateway websocket connections.",
		}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRPC records one RPC invocation.
func (m *Metrics) ObserveRPC(method, status string, elapsed time.Duration) {
	m.RPCDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())
}
