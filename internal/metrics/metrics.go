// Package metrics exposes Prometheus collectors for the interview engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interview_engine"

// Metrics holds all collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	interviewsStarted   prometheus.Counter
	interviewsCompleted *prometheus.CounterVec
	interviewsActive    prometheus.Gauge
	questionsAsked      prometheus.Counter
	answersValidated    *prometheus.CounterVec
	guidanceRounds      prometheus.Counter
	submissionsDropped  *prometheus.CounterVec
	aiRequests          *prometheus.CounterVec
	aiRequestDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		interviewsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_started_total",
			Help:      "Total number of interviews started",
		}),
		interviewsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_completed_total",
			Help:      "Total number of interviews finalized",
		}, []string{"evaluation"}), // evaluation: ai, fallback, skipped
		interviewsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interviews_active",
			Help:      "Number of live interviews",
		}),
		questionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_asked_total",
			Help:      "Total number of interview questions asked",
		}),
		answersValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_validated_total",
			Help:      "Total number of validated answers",
		}, []string{"verdict"}), // verdict: correct, incorrect
		guidanceRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guidance_rounds_total",
			Help:      "Total number of guidance turns given",
		}),
		submissionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_dropped_total",
			Help:      "Answer submissions dropped by the idempotency guard",
		}, []string{"reason"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Total number of AI capability calls",
		}, []string{"operation", "outcome"}), // outcome: ok, unavailable, malformed
		aiRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Duration of AI capability calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		m.interviewsStarted,
		m.interviewsCompleted,
		m.interviewsActive,
		m.questionsAsked,
		m.answersValidated,
		m.guidanceRounds,
		m.submissionsDropped,
		m.aiRequests,
		m.aiRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) InterviewStarted() {
	if m == nil {
		return
	}
	m.interviewsStarted.Inc()
	m.interviewsActive.Inc()
}

// InterviewCompleted records a finalized interview. evaluation is one of
// "ai", "fallback" or "skipped".
func (m *Metrics) InterviewCompleted(evaluation string) {
	if m == nil {
		return
	}
	m.interviewsCompleted.WithLabelValues(evaluation).Inc()
}

// InterviewReleased decrements the live gauge once a started interview ends
func (m *Metrics) InterviewReleased() {
	if m == nil {
		return
	}
	m.interviewsActive.Dec()
}

func (m *Metrics) QuestionAsked() {
	if m == nil {
		return
	}
	m.questionsAsked.Inc()
}

func (m *Metrics) AnswerValidated(correct bool) {
	if m == nil {
		return
	}
	verdict := "incorrect"
	if correct {
		verdict = "correct"
	}
	m.answersValidated.WithLabelValues(verdict).Inc()
}

func (m *Metrics) GuidanceGiven() {
	if m == nil {
		return
	}
	m.guidanceRounds.Inc()
}

func (m *Metrics) SubmissionDropped(reason string) {
	if m == nil {
		return
	}
	m.submissionsDropped.WithLabelValues(reason).Inc()
}

// ObserveAI records one AI call
func (m *Metrics) ObserveAI(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiRequests.WithLabelValues(operation, outcome).Inc()
	m.aiRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}
