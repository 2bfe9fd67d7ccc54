package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurnsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turns_opened_total",
		Help: "Turns submitted, by completion reason",
	}, []string{"reason"})

	metricTurnsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turns_closed_total",
		Help: "Turns closed, by final status",
	}, []string{"status"})

	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_utterances_rejected_total",
		Help: "Utterances discarded by the minimum length filter",
	}, []string{"reason"})

	metricStaleMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_stale_messages_total",
		Help: "Inbound messages dropped because their turn id is not active",
	}, []string{"type"})

	metricRecognizerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_recognizer_errors_total",
		Help: "Speech source errors by code",
	}, []string{"code", "fatal"})

	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_state_transitions_total",
		Help: "Turn controller phase transitions",
	}, []string{"from", "to"})

	metricTurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_roundtrip_ms",
		Help:    "Time from commit to the terminal reply of a turn",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 14),
	})
)

func recordNotice(n Notice) {
	switch n.Kind {
	case NoticeStateChanged:
		metricStateTransitions.WithLabelValues(string(n.From), string(n.To)).Inc()
	case NoticeTurnOpened:
		metricTurnsOpened.WithLabelValues(string(n.Reason)).Inc()
	case NoticeTurnClosed:
		if n.Turn == nil {
			return
		}
		metricTurnsClosed.WithLabelValues(string(n.Turn.Status)).Inc()
		if !n.Turn.ClosedAt.IsZero() {
			metricTurnLatency.Observe(float64(n.Turn.ClosedAt.Sub(n.Turn.OpenedAt).Milliseconds()))
		}
	case NoticeUtteranceRejected:
		metricRejected.WithLabelValues(string(n.Reason)).Inc()
	case NoticeStaleMessage:
		metricStaleMessages.WithLabelValues(n.MessageType).Inc()
	case NoticeError:
		if n.Code == "" {
			return
		}
		fatal := "false"
		if n.Fatal {
			fatal = "true"
		}
		metricRecognizerErrors.WithLabelValues(n.Code, fatal).Inc()
	}
}
