package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Claim is an atomic factual statement. Empty SourceIDs marks an inference,
// which must never reach a shown answer.
type Claim struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	SourceIDs []string `json:"sourceIds"`
}

func (c Claim) String() string {
	return fmt.Sprintf("[%s] %s", c.ID, c.Text)
}

func (c Claim) IsInference() bool {
	return len(c.SourceIDs) == 0
}

type ClaimSet = Findings[Claim]

func ClaimID(n int) string {
	return fmt.Sprintf("CLAIM_%03d", n)
}

// SourcedClaims keeps only claims backed by at least one evidence id.
func SourcedClaims(set ClaimSet) ClaimSet {
	items := set.Items()
	out := make([]Claim, 0, len(items))
	for _, c := range items {
		if !c.IsInference() {
			out = append(out, c)
		}
	}
	return Present(out)
}

var (
	citationGroupPattern  = regexp.MustCompile(`\(\s*(CLAIM_\d{3}(?:\s*[,;]\s*CLAIM_\d{3})*)\s*\)`)
	claimIDPattern        = regexp.MustCompile(`CLAIM_\d{3}`)
	// Any claim reference a model may emit: bracketed, parenthesized or bare,
	// with any digit count.
	claimReferencePattern = regexp.MustCompile(`(\s*)(?:[\[(]\s*(CLAIM_\d+(?:\s*[,;]\s*CLAIM_\d+)*)\s*[\])]|(CLAIM_\d+))`)
	anyClaimIDPattern     = regexp.MustCompile(`CLAIM_\d+`)
)

// CitedClaimIDs returns the distinct claim ids cited as (CLAIM_NNN) in text,
// in order of first appearance.
func CitedClaimIDs(text string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, group := range citationGroupPattern.FindAllStringSubmatch(text, -1) {
		for _, id := range claimIDPattern.FindAllString(group[1], -1) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func HasCitation(text string) bool {
	return citationGroupPattern.MatchString(text)
}

// RewriteCitations rewrites every claim reference in text into a (CLAIM_NNN)
// group holding the ids for which keep returns true. Bracketed, bare and
// malformed references are normalized the same way. A reference left without
// ids is removed together with its leading whitespace, so no claim id survives
// outside a citation group.
func RewriteCitations(text string, keep func(id string) bool) string {
	return claimReferencePattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := claimReferencePattern.FindStringSubmatch(match)
		ids := parts[2]
		if ids == "" {
			ids = parts[3]
		}
		seen := make(map[string]struct{}, 2)
		kept := make([]string, 0, 2)
		for _, id := range anyClaimIDPattern.FindAllString(ids, -1) {
			if _, dup := seen[id]; dup || len(id) != len("CLAIM_000") || !keep(id) {
				continue
			}
			seen[id] = struct{}{}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			return ""
		}
		return parts[1] + "(" + strings.Join(kept, ", ") + ")"
	})
}
