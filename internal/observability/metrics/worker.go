package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

// WorkerMetrics instruments the NATS question worker.
type WorkerMetrics struct {
	questionsTotal   *prometheus.CounterVec
	questionDuration *prometheus.HistogramVec
	inFlight         prometheus.Gauge
}

func NewWorkerMetrics(service string, registry prometheus.Registerer) *WorkerMetrics {
	questionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_total",
			Help:      "Total questions answered by status.",
		},
		[]string{"service", "status"},
	)
	questionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "question_duration_seconds",
			Help:      "Question answering duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "questions_in_flight",
			Help:      "Number of questions being answered.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(questionsTotal, questionDuration, inFlight)

	return &WorkerMetrics{
		questionsTotal:   questionsTotal,
		questionDuration: questionDuration,
		inFlight:         inFlight,
	}
}

// Instrument wraps svc so every answered question is counted and timed.
func (m *WorkerMetrics) Instrument(service string, svc ports.AnswerService) ports.AnswerService {
	return &instrumentedService{metrics: m, service: service, next: svc}
}

type instrumentedService struct {
	metrics *WorkerMetrics
	service string
	next    ports.AnswerService
}

func (s *instrumentedService) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	s.metrics.inFlight.Inc()
	defer s.metrics.inFlight.Dec()

	start := time.Now()
	result, err := s.next.Answer(ctx, req)

	status := "answered"
	switch {
	case err != nil:
		status = "error"
	case result != nil && result.Outcome.Rejected():
		status = "rejected"
	}
	s.metrics.questionsTotal.WithLabelValues(s.service, status).Inc()
	s.metrics.questionDuration.WithLabelValues(s.service, status).Observe(time.Since(start).Seconds())
	return result, err
}
