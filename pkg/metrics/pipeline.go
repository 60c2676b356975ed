package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded for each consumed command record.
const (
	OutcomeProcessed      = "processed"
	OutcomeDuplicate      = "duplicate"
	OutcomeDecodeError    = "decode_error"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeUnknownCommand = "unknown_command"
	OutcomeRetry          = "retry"
)

// PipelineMetrics records command processing results.
type PipelineMetrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPipelineMetrics registers the command pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Consumed command records by command name and outcome.",
	}, []string{"command", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "Time spent handling a command record.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
	reg.MustRegister(commands, duration)
	return &PipelineMetrics{
		commands: commands,
		duration: duration,
	}
}

// Observe records one handled record.
func (m *PipelineMetrics) Observe(command, outcome string, elapsed time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	name := normalizeLabel(command)
	m.commands.WithLabelValues(name, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// OutboxMetrics counts confirmation publish attempts.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox publisher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox rows processed by the publisher by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(published)
	return &OutboxMetrics{published: published}
}

// Inc increments the publish counter for the outcome (published, failed, dead_lettered).
func (m *OutboxMetrics) Inc(outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
