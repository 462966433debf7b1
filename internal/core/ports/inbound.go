package ports

import (
	"context"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// AnswerService is the inbound contract for evidence-gated question answering.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error)
}
