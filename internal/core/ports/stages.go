package ports

import (
	"context"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// Pipeline stages. The orchestrator depends on these so each stage can be replaced or faked.

type EvidenceRetriever interface {
	Retrieve(ctx context.Context, question, tenantID string, topK int) []domain.Evidence
}

type EvidenceVerifier interface {
	Verify(ctx context.Context, question string, evidence []domain.Evidence) ([]domain.VerifiedEvidence, error)
}

type ClaimExtractor interface {
	Extract(ctx context.Context, evidence []domain.VerifiedEvidence) (domain.ClaimSet, error)
}

type GapDetector interface {
	DetectGaps(ctx context.Context, question string, claims domain.ClaimSet) (domain.GapReport, error)
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, claims domain.ClaimSet, gaps domain.GapReport) (domain.SynthesizedAnswer, error)
}

type FactChecker interface {
	Check(ctx context.Context, answer domain.SynthesizedAnswer, claims domain.ClaimSet) (domain.HallucinationReport, error)
}
