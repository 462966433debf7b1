package usecase

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

type VerifierOptions struct {
	MinSimilarity float64
	Parallelism   int
}

// EvidenceVerifier reuses retrieval similarity as the relevance signal instead of
// issuing a backend call per item. Failing to verify is safe; inflating relevance is not.
type EvidenceVerifier struct {
	opts VerifierOptions
}

func NewEvidenceVerifier(opts VerifierOptions) *EvidenceVerifier {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = 0.45
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	return &EvidenceVerifier{opts: opts}
}

// Verify returns only directly relevant evidence, in input order.
func (v *EvidenceVerifier) Verify(ctx context.Context, _ string, evidence []domain.Evidence) ([]domain.VerifiedEvidence, error) {
	if len(evidence) == 0 {
		return nil, nil
	}

	scored := make([]domain.VerifiedEvidence, len(evidence))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Parallelism)
	for i := range evidence {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scored[i] = v.score(evidence[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.VerifiedEvidence, 0, len(scored))
	for _, item := range scored {
		if item.IsDirectlyRelevant {
			out = append(out, item)
		}
	}
	return out, nil
}

func (v *EvidenceVerifier) score(e domain.Evidence) domain.VerifiedEvidence {
	similarity := e.Similarity
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		similarity = 0
	}
	similarity = clampUnit(similarity)

	return domain.VerifiedEvidence{
		Evidence:           e,
		IsDirectlyRelevant: similarity >= v.opts.MinSimilarity,
		RelevanceScore:     math.Round(similarity*similarityScale*100) / 100,
	}
}
