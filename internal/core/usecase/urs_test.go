package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

func hallucinations(n int) []domain.Hallucination {
	out := make([]domain.Hallucination, n)
	for i := range out {
		out[i] = domain.Hallucination{Statement: "x"}
	}
	return out
}

func TestScoreReliabilityTable(t *testing.T) {
	gap := []domain.Gap{{ID: "GAP_01"}}
	tests := []struct {
		name           string
		used, total    int
		gaps           []domain.Gap
		hallucinations int
		cited          bool
		want           int
	}{
		{name: "clean", used: 1, total: 1, cited: true, want: 100},
		{name: "one gap", used: 2, total: 3, gaps: gap, cited: true, want: 85},
		{name: "one hallucination", used: 2, total: 2, hallucinations: 1, cited: true, want: 70},
		{name: "missing citations", used: 2, total: 2, cited: false, want: 80},
		{name: "no claims used no citation penalty", used: 0, total: 0, cited: false, want: 100},
		{name: "bonus clamped", used: 9, total: 9, cited: true, want: 100},
		{name: "bonus offsets gap", used: 9, total: 10, gaps: gap, cited: true, want: 90},
		{name: "clamped at zero", used: 1, total: 1, hallucinations: 4, cited: false, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreReliability(tc.used, tc.total, tc.gaps, hallucinations(tc.hallucinations), tc.cited)
			if got.Score != tc.want {
				t.Fatalf("score = %d, want %d (%s)", got.Score, tc.want, got.Explanation)
			}
			if got.Explanation == "" {
				t.Fatalf("expected explanation")
			}
		})
	}
}

func TestScoreReliabilityIsDeterministic(t *testing.T) {
	gaps := []domain.Gap{{ID: "GAP_01"}, {ID: "GAP_02"}}
	a := ScoreReliability(3, 5, gaps, hallucinations(1), false)
	b := ScoreReliability(3, 5, gaps, hallucinations(1), false)
	if a != b {
		t.Fatalf("expected identical results, got %+v and %+v", a, b)
	}
	for _, part := range []string{"-30 per 2 lacune", "-30 per 1 affermazioni", "-20 per assenza di citazioni", "3 su 5"} {
		if !strings.Contains(a.Explanation, part) {
			t.Fatalf("explanation %q missing %q", a.Explanation, part)
		}
	}
}

func TestScoreReliabilityMonotonicInHallucinations(t *testing.T) {
	for _, cited := range []bool{true, false} {
		for used := 0; used <= 10; used++ {
			prev := ScoreReliability(used, 10, nil, nil, cited).Score
			for n := 1; n <= 5; n++ {
				score := ScoreReliability(used, 10, nil, hallucinations(n), cited).Score
				if score > prev {
					t.Fatalf("score increased from %d to %d at %d hallucinations", prev, score, n)
				}
				prev = score
			}
		}
	}
}
