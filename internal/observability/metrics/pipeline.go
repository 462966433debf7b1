package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver and records generation token usage.
type PipelineMetrics struct {
	resultsTotal   *prometheus.CounterVec
	rejectionTotal *prometheus.CounterVec
	ursScore       prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	claimsUsed     prometheus.Histogram
	gapsTotal      prometheus.Counter
	hallucinations prometheus.Counter
	tokensTotal    *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registry prometheus.Registerer) *PipelineMetrics {
	labels := prometheus.Labels{"service": service}

	resultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "results_total",
			Help:        "Pipeline runs by final state.",
			ConstLabels: labels,
		},
		[]string{"state"},
	)
	rejectionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "rejections_total",
			Help:        "Rejected runs by stage and reason.",
			ConstLabels: labels,
		},
		[]string{"stage", "reason"},
	)
	ursScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "urs_score",
			Help:        "Reliability score of accepted answers.",
			Buckets:     []float64{10, 25, 40, 55, 70, 80, 85, 90, 95, 100},
			ConstLabels: labels,
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Duration of each pipeline stage.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: labels,
		},
		[]string{"stage"},
	)
	claimsUsed := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "claims_used",
			Help:        "Claims cited by accepted answers.",
			Buckets:     []float64{1, 2, 3, 5, 8, 13, 21},
			ConstLabels: labels,
		},
	)
	gapsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "gaps_total",
			Help:        "Gaps reported in accepted answers.",
			ConstLabels: labels,
		},
	)
	hallucinations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "hallucinations_total",
			Help:        "Unsupported statements found by the fact checker.",
			ConstLabels: labels,
		},
	)
	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "llm",
			Name:        "tokens_total",
			Help:        "Token usage by pipeline stage, direction and model.",
			ConstLabels: labels,
		},
		[]string{"stage", "direction", "model"},
	)

	registry.MustRegister(resultsTotal, rejectionTotal, ursScore, stageDuration, claimsUsed, gapsTotal, hallucinations, tokensTotal)

	return &PipelineMetrics{
		resultsTotal:   resultsTotal,
		rejectionTotal: rejectionTotal,
		ursScore:       ursScore,
		stageDuration:  stageDuration,
		claimsUsed:     claimsUsed,
		gapsTotal:      gapsTotal,
		hallucinations: hallucinations,
		tokensTotal:    tokensTotal,
	}
}

func (m *PipelineMetrics) ObserveStage(state domain.PipelineState, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveResult(result *domain.PipelineResult) {
	if result == nil {
		return
	}
	o := result.Outcome
	m.resultsTotal.WithLabelValues(string(o.State)).Inc()
	if n := max(result.HallucinationsFound, len(o.Hallucinations)); n > 0 {
		m.hallucinations.Add(float64(n))
	}

	if o.Rejected() {
		m.rejectionTotal.WithLabelValues(string(o.RejectedAt), o.Reason).Inc()
		return
	}
	m.ursScore.Observe(float64(result.URSScore))
	m.claimsUsed.Observe(float64(len(result.ClaimsUsed)))
	m.gapsTotal.Add(float64(len(result.GapsDetected)))
}

// RecordUsage matches usecase.UsageRecorder.
func (m *PipelineMetrics) RecordUsage(stage, model string, usage domain.TokenUsage) {
	if model == "" {
		model = "unknown"
	}
	if usage.InputTokens > 0 {
		m.tokensTotal.WithLabelValues(stage, "in", model).Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.tokensTotal.WithLabelValues(stage, "out", model).Add(float64(usage.OutputTokens))
	}
}
