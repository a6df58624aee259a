package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_clients",
		Help: "Number of websocket clients currently connected",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total number of store requests processed, by op",
	}, []string{"op"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_request_errors_total",
		Help: "Total number of store requests that failed, by op",
	}, []string{"op"})

	snapshotsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_snapshots_sent_total",
		Help: "Total number of session snapshots pushed to subscribers",
	})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_subscriptions",
		Help: "Number of live session subscriptions across all clients",
	})
)
