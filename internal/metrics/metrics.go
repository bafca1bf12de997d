package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ox_queue_depth",
		Help: "Commands waiting for the model actor",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ox_requests_total",
		Help: "Prompt commands processed, by outcome",
	}, []string{"outcome"})

	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ox_tokens_generated_total",
		Help: "Tokens emitted by the decode loop",
	})

	PromptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ox_prompt_tokens",
		Help:    "Prompt length after context truncation",
		Buckets: []float64{16, 64, 256, 512, 1024, 2048, 4096, 8192},
	})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ox_request_duration_seconds",
		Help:    "Time from dequeue to the end of generation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	QueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ox_queue_wait_seconds",
		Help:    "Time a command spent in the queue before the actor picked it up",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	HTTPRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ox_http_rejected_total",
		Help: "HTTP requests rejected before reaching the actor",
	}, []string{"reason"})
)

// Outcome labels for RequestsTotal.
const (
	OutcomeStop      = "stop"
	OutcomeLength    = "length"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
)

func RecordRequest(outcome string, tokens, promptTokens int, duration time.Duration) {
	RequestsTotal.WithLabelValues(outcome).Inc()
	if tokens > 0 {
		TokensGenerated.Add(float64(tokens))
	}
	if promptTokens > 0 {
		PromptTokens.Observe(float64(promptTokens))
	}
	RequestDuration.Observe(duration.Seconds())
}

func RecordQueueWait(d time.Duration) {
	QueueWait.Observe(d.Seconds())
}

func RecordRejected(reason string) {
	HTTPRejected.WithLabelValues(reason).Inc()
}
