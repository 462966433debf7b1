package usecase

import (
	"strings"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const (
	RerankScoreSort = "score"
	RerankLexical   = "lexical"
)

// NewReranker returns the reranker registered under name, defaulting to score sort.
func NewReranker(name string) ports.Reranker {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RerankLexical:
		return LexicalReranker{}
	default:
		return ScoreSortReranker{}
	}
}

// ScoreSortReranker orders evidence by retrieval score only.
type ScoreSortReranker struct{}

func (ScoreSortReranker) Rerank(_ string, evidence []domain.Evidence) []domain.Evidence {
	out := make([]domain.Evidence, len(evidence))
	copy(out, evidence)
	sortEvidenceByScore(out)
	return out
}

// LexicalReranker adds query-token overlap and a source-name hit on top of the
// retrieval score. Scores stay on the 0-10 scale with up to 1.5 bonus.
type LexicalReranker struct{}

func (LexicalReranker) Rerank(question string, evidence []domain.Evidence) []domain.Evidence {
	if len(evidence) == 0 {
		return evidence
	}

	out := make([]domain.Evidence, len(evidence))
	copy(out, evidence)
	queryTokens := toTokenSet(question)

	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Content))
		sourceBoost := sourceTokenHit(queryTokens, out[i].Source)
		out[i].Score = out[i].Similarity*similarityScale + 1.0*overlap + 0.5*sourceBoost
	}

	sortEvidenceByScore(out)
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sourceTokenHit(query map[string]struct{}, source string) float64 {
	if len(query) == 0 || source == "" {
		return 0
	}
	source = strings.ToLower(source)
	for token := range query {
		if len([]rune(token)) < 4 {
			continue
		}
		if strings.Contains(source, token) {
			return 1
		}
	}
	return 0
}
