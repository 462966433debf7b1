package ports

import (
	"context"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// TextGenerator is a text-completion backend. Implementations must be safe for concurrent use.
type TextGenerator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (*domain.Generation, error)
}

// Embedder builds the query vector used for evidence retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) (*domain.Embedding, error)
}

// EvidenceStore performs tenant-scoped hybrid search over the document chunk collection.
type EvidenceStore interface {
	SearchVector(ctx context.Context, tenantID string, vector []float32, limit, numCandidates int) ([]domain.StoreHit, error)
	SearchKeyword(ctx context.Context, tenantID, query string, limit int) ([]domain.StoreHit, error)
}

// Reranker reorders merged evidence for a question. It must not drop items.
type Reranker interface {
	Rerank(question string, evidence []domain.Evidence) []domain.Evidence
}

// AnswerAuditLog persists per-request pipeline telemetry.
type AnswerAuditLog interface {
	Record(ctx context.Context, audit domain.AnswerAudit) error
}

// VerdictPublisher emits pipeline verdict events for downstream consumers.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, audit domain.AnswerAudit) error
}

// PipelineObserver receives stage timings and final results for metrics.
type PipelineObserver interface {
	ObserveStage(state domain.PipelineState, elapsed time.Duration)
	ObserveResult(result *domain.PipelineResult)
}
