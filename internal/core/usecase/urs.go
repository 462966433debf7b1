package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

const (
	ursBase                 = 100
	ursGapPenalty           = 15
	ursHallucinationPenalty = 30
	ursMissingCitePenalty   = 20
	ursUtilizationBonus     = 5
	ursUtilizationMinClaims = 8
)

// ScoreReliability computes the URS. It is pure: equal inputs give equal results.
func ScoreReliability(
	claimsUsed, totalClaims int,
	gaps []domain.Gap,
	hallucinations []domain.Hallucination,
	citationsPresent bool,
) domain.ReliabilityResult {
	score := ursBase
	parts := make([]string, 0, 5)

	if n := len(gaps); n > 0 {
		score -= ursGapPenalty * n
		parts = append(parts, fmt.Sprintf("-%d per %d lacune", ursGapPenalty*n, n))
	}
	if n := len(hallucinations); n > 0 {
		score -= ursHallucinationPenalty * n
		parts = append(parts, fmt.Sprintf("-%d per %d affermazioni non verificabili", ursHallucinationPenalty*n, n))
	}
	if !citationsPresent && claimsUsed > 0 {
		score -= ursMissingCitePenalty
		parts = append(parts, fmt.Sprintf("-%d per assenza di citazioni", ursMissingCitePenalty))
	}
	if claimsUsed > ursUtilizationMinClaims {
		score += ursUtilizationBonus
		parts = append(parts, fmt.Sprintf("+%d per utilizzo esteso delle affermazioni", ursUtilizationBonus))
	}

	if score < 0 {
		score = 0
	}
	if score > ursBase {
		score = ursBase
	}

	if len(parts) == 0 {
		parts = append(parts, "nessuna penalità")
	}
	explanation := fmt.Sprintf("URS %d/100: %s; affermazioni utilizzate %d su %d.",
		score, strings.Join(parts, ", "), claimsUsed, totalClaims)
	return domain.ReliabilityResult{Score: score, Explanation: explanation}
}
