// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Generator call outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeCached = "cached"
	OutcomeShared = "shared"
	OutcomeError  = "error"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	GeneratorCalls    *prometheus.CounterVec
	GeneratorLatency  prometheus.Histogram
	Fallbacks         prometheus.Counter
	AnswersEvaluated  *prometheus.CounterVec
	ReviewSuggestions prometheus.Counter
	SessionsCreated   prometheus.Counter
	SessionsFinished  prometheus.Counter
}

// New builds and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GeneratorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "generator_requests_total",
			Help:      "Question generator requests by outcome.",
		}, []string{"outcome"}),
		GeneratorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quiz",
			Name:      "generator_request_seconds",
			Help:      "Latency of upstream question generator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "generator_fallbacks_total",
			Help:      "Questions synthesized locally after the generator failed.",
		}),
		AnswersEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "answers_evaluated_total",
			Help:      "Evaluated answers by question type and correctness.",
		}, []string{"type", "correct"}),
		ReviewSuggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "review_suggestions_total",
			Help:      "Review suggestions raised by wrong-answer streaks.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "sessions_created_total",
			Help:      "Adaptive sessions created.",
		}),
		SessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "sessions_finished_total",
			Help:      "Adaptive sessions transitioned to completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.GeneratorCalls,
			m.GeneratorLatency,
			m.Fallbacks,
			m.AnswersEvaluated,
			m.ReviewSuggestions,
			m.SessionsCreated,
			m.SessionsFinished,
		)
	}
	return m
}

func (m *Metrics) GeneratorCall(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GeneratorCalls.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeError {
		m.GeneratorLatency.Observe(seconds)
	}
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.Fallbacks.Inc()
}

func (m *Metrics) AnswerEvaluated(qType string, correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.AnswersEvaluated.WithLabelValues(qType, label).Inc()
}

func (m *Metrics) ReviewSuggested() {
	if m == nil {
		return
	}
	m.ReviewSuggestions.Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.SessionsFinished.Inc()
}
