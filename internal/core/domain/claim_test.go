package domain

import (
	"errors"
	"testing"
)

func TestCitedClaimIDsDistinctInOrder(t *testing.T) {
	got := CitedClaimIDs("a (CLAIM_002). b (CLAIM_001; CLAIM_002). c CLAIM_003 senza parentesi.")
	if len(got) != 2 || got[0] != "CLAIM_002" || got[1] != "CLAIM_001" {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestRewriteCitationsDropsEmptyGroups(t *testing.T) {
	keep := func(id string) bool { return id == "CLAIM_001" }
	got := RewriteCitations("uno (CLAIM_001, CLAIM_004). due (CLAIM_004).", keep)
	if got != "uno (CLAIM_001). due." {
		t.Fatalf("unexpected rewrite %q", got)
	}
}

func TestFindingsPresentEmptyIsAbsent(t *testing.T) {
	if !Present([]Claim{}).IsAbsent() {
		t.Fatalf("expected empty present to be absent")
	}
	items := []Claim{{ID: "CLAIM_001"}}
	set := Present(items)
	items[0].ID = "mutated"
	if set.Items()[0].ID != "CLAIM_001" {
		t.Fatalf("expected Present to copy its input")
	}
}

func TestSourcedClaimsDropsInferences(t *testing.T) {
	set := SourcedClaims(Present([]Claim{
		{ID: "CLAIM_001", SourceIDs: []string{"e"}},
		{ID: "CLAIM_002"},
	}))
	if set.Len() != 1 || set.Items()[0].ID != "CLAIM_001" {
		t.Fatalf("unexpected sourced claims %+v", set.Items())
	}
}

func TestErrorKinds(t *testing.T) {
	err := WrapError(ErrRateLimited, "openai.generate", errors.New("429"))
	if !IsRetryable(err) || IsFatalBackend(err) {
		t.Fatalf("rate limit must be retryable and not fatal")
	}
	quota := WrapError(ErrBackendQuota, "openai.generate", errors.New("insufficient_quota"))
	if IsRetryable(quota) || !IsFatalBackend(quota) {
		t.Fatalf("quota must be fatal and not retryable")
	}
	if UserMessage(quota) == quota.Error() {
		t.Fatalf("user message must not expose internal error")
	}
}

func TestRewriteCitationsNormalizesStrayReferences(t *testing.T) {
	keep := func(id string) bool { return id == "CLAIM_001" || id == "CLAIM_002" }
	got := RewriteCitations("a [CLAIM_002]. b CLAIM_001 e (CLAIM_07). c [CLAIM_0011; CLAIM_009].", keep)
	if got != "a (CLAIM_002). b (CLAIM_001) e. c." {
		t.Fatalf("unexpected rewrite %q", got)
	}
}
