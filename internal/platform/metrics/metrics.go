package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	voteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_vote_requests_total",
		Help: "Vote submissions received, labelled by outcome",
	}, []string{"status"})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_broadcasts_total",
		Help: "Events fanned out to rooms, labelled by event name",
	}, []string{"event"})

	tallyRecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crowdpulse_tally_recompute_duration_seconds",
		Help:    "Time to rebuild a question tally from its event log",
		Buckets: prometheus.DefBuckets,
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowdpulse_connected_clients",
		Help: "Websocket clients currently attached to the fan-out hub",
	})
)

func ObserveVoteRequest(status string) {
	voteRequestsTotal.WithLabelValues(status).Inc()
}

func IncBroadcast(event string) {
	broadcastsTotal.WithLabelValues(event).Inc()
}

func ObserveTallyRecompute(seconds float64) {
	tallyRecomputeDuration.Observe(seconds)
}

func IncConnectedClients() {
	connectedClients.Inc()
}

func DecConnectedClients() {
	connectedClients.Dec()
}
