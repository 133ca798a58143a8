package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discussion_sessions_active",
		Help: "Sessions currently running",
	})

	metricTurnsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussion_turns_committed_total",
		Help: "Turns appended to transcripts",
	}, []string{"speaker"}) // human | persona

	metricGenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discussion_generation_failures_total",
		Help: "Persona replies that failed to generate",
	})

	metricGenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discussion_generation_latency_ms",
		Help:    "Latency of the reply generation call",
		Buckets: prometheus.ExponentialBuckets(50, 1.8, 12),
	})

	metricSpeakingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discussion_speaking_seconds",
		Help:    "Simulated speaking duration before a reply is committed",
		Buckets: []float64{0.8, 1.2, 2, 3, 4, 5, 6, 7.5},
	})

	metricChainDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussion_chain_decisions_total",
		Help: "Outcome of the chaining decision after each persona turn",
	}, []string{"decision"})

	metricInterruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussion_interruptions_total",
		Help: "Human input while a persona held the floor",
	}, []string{"source"})

	metricPhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discussion_phase_transitions_total",
		Help: "Discussion phase transitions",
	}, []string{"from", "to"})

	metricRoundLimit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discussion_round_limit_total",
		Help: "Sessions that hit the round cap",
	})
)
