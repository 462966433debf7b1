package usecase

import (
	"fmt"
	"sort"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// similarityScale maps a [0,1] similarity onto the 0-10 ranking scale.
const similarityScale = 10.0

type fusedCandidate struct {
	hit        domain.StoreHit
	similarity float64
}

// mergeHitsMaxScore merges vector and keyword hits by evidence id, keeping the maximum
// similarity on collision. A keyword hit's similarity is its score normalized by the batch
// maximum, damped by the share of question tokens the content actually contains.
func mergeHitsMaxScore(question string, vector, keyword []domain.StoreHit) []domain.Evidence {
	acc := make(map[string]fusedCandidate, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	add := func(hit domain.StoreHit, similarity float64) {
		key := evidenceKey(hit)
		candidate, ok := acc[key]
		if !ok {
			order = append(order, key)
			acc[key] = fusedCandidate{hit: hit, similarity: similarity}
			return
		}
		candidate.hit = preferRicherHit(candidate.hit, hit)
		if similarity > candidate.similarity {
			candidate.similarity = similarity
		}
		acc[key] = candidate
	}

	for _, hit := range vector {
		add(hit, clampUnit(hit.Score))
	}
	maxKeyword := 0.0
	for _, hit := range keyword {
		if hit.Score > maxKeyword {
			maxKeyword = hit.Score
		}
	}
	queryTokens := toTokenSet(question)
	for _, hit := range keyword {
		similarity := 0.0
		if maxKeyword > 0 {
			similarity = hit.Score / maxKeyword
		}
		similarity *= tokenOverlap(queryTokens, toTokenSet(hit.Content))
		add(hit, clampUnit(similarity))
	}

	out := make([]domain.Evidence, 0, len(acc))
	for i, key := range order {
		c := acc[key]
		id := c.hit.ID
		if id == "" {
			id = fmt.Sprintf("evidence-%03d", i+1)
		}
		out = append(out, domain.Evidence{
			ID:         id,
			Content:    c.hit.Content,
			Source:     c.hit.Source,
			Metadata:   c.hit.Metadata,
			Score:      c.similarity * similarityScale,
			Similarity: c.similarity,
		})
	}
	sortEvidenceByScore(out)
	return out
}

func sortEvidenceByScore(evidence []domain.Evidence) {
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].Score != evidence[j].Score {
			return evidence[i].Score > evidence[j].Score
		}
		return evidence[i].ID < evidence[j].ID
	})
}

func trimCandidates(evidence []domain.Evidence, limit int) []domain.Evidence {
	if limit <= 0 || len(evidence) <= limit {
		return evidence
	}
	return evidence[:limit]
}

func filterMinScore(evidence []domain.Evidence, minScore float64) []domain.Evidence {
	out := make([]domain.Evidence, 0, len(evidence))
	for _, e := range evidence {
		if e.Score >= minScore {
			out = append(out, e)
		}
	}
	return out
}

func evidenceKey(hit domain.StoreHit) string {
	if hit.ID != "" {
		return hit.ID
	}
	return hit.Source + "|" + hit.Content
}

func preferRicherHit(current, candidate domain.StoreHit) domain.StoreHit {
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if len(current.Metadata) == 0 && len(candidate.Metadata) > 0 {
		current.Metadata = candidate.Metadata
	}
	if current.ID == "" && candidate.ID != "" {
		current.ID = candidate.ID
	}
	return current
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
