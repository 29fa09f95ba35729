package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mirai3103/quiz-grader/internal/models"
)

// Metrics owns a private registry so tests and multiple binaries do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	// GradeTotal counts grading calls by language and outcome
	// (passed, failed or the failure kind).
	GradeTotal *prometheus.CounterVec
	// GradeDuration observes wall time of a whole grading call.
	GradeDuration *prometheus.HistogramVec
	// JobsInFlight tracks jobs currently held by the worker.
	JobsInFlight prometheus.Gauge
	// SubmissionTotal counts HTTP submissions by route and result.
	SubmissionTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GradeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_grade_total",
				Help: "Total number of grading calls by language and outcome",
			},
			[]string{"language", "outcome"},
		),
		GradeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quiz_grade_duration_seconds",
				Help:    "Wall time spent grading one submission",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"language"},
		),
		JobsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "quiz_jobs_in_flight",
				Help: "Number of grading jobs currently running",
			},
		),
		SubmissionTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submission_total",
				Help: "Total number of HTTP submissions by route and result",
			},
			[]string{"route", "result"},
		),
	}
}

// ObserveGrade records one finished grading call.
func (m *Metrics) ObserveGrade(lang models.Language, outcome string, elapsed time.Duration) {
	l := string(lang)
	if _, ok := models.ParseLanguage(l); !ok {
		// keep label cardinality bounded
		l = "other"
	}
	m.GradeTotal.WithLabelValues(l, outcome).Inc()
	m.GradeDuration.WithLabelValues(l).Observe(elapsed.Seconds())
}

// RecordSubmission records an HTTP submission with the given result.
func (m *Metrics) RecordSubmission(route, result string) {
	m.SubmissionTotal.WithLabelValues(route, result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
