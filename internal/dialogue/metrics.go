package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_streams_started_total",
		Help: "Reply streams started",
	})
	metricStreamsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_streams_finished_total",
		Help: "Reply streams finished by outcome",
	}, []string{"outcome"})
	metricFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_first_token_ms",
		Help:    "Time from commit to the first reply token",
		Buckets: []float64{50, 100, 200, 400, 800, 1600, 3200, 6400},
	})
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialogue_ws_connections",
		Help: "Open interview channel connections",
	})
	metricMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_malformed_messages_total",
		Help: "Client messages that failed to decode",
	})
)
