package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const stageExtraction = "extraction"

type ExtractorOptions struct {
	MinRelevance        float64
	MaxEvidence         int
	MaxEvidenceChars    int
	GroundingMinOverlap float64
	MaxTokens           int
	Timeout             time.Duration
	Usage               UsageRecorder
}

type ClaimExtractor struct {
	generator ports.TextGenerator
	opts      ExtractorOptions
}

var (
	claimLinePattern   = regexp.MustCompile(`^\s*(?:[-*•]\s*)?\[\s*CLAIM_\d+\s*\]\s*(.+?)\s*(?:\{([^{}]*)\})?\s*$`)
	evidenceRefPattern = regexp.MustCompile(`EVID_(\d+)`)
)

func NewClaimExtractor(generator ports.TextGenerator, opts ExtractorOptions) *ClaimExtractor {
	if opts.MinRelevance <= 0 {
		opts.MinRelevance = 5.0
	}
	if opts.MaxEvidence <= 0 {
		opts.MaxEvidence = 10
	}
	if opts.MaxEvidenceChars <= 0 {
		opts.MaxEvidenceChars = 1500
	}
	if opts.GroundingMinOverlap <= 0 || opts.GroundingMinOverlap > 1 {
		opts.GroundingMinOverlap = 0.8
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &ClaimExtractor{generator: generator, opts: opts}
}

// Extract returns an absent set without calling the backend when no evidence
// clears the relevance threshold.
func (e *ClaimExtractor) Extract(ctx context.Context, evidence []domain.VerifiedEvidence) (domain.ClaimSet, error) {
	usable := make([]domain.VerifiedEvidence, 0, len(evidence))
	for _, item := range evidence {
		if item.IsDirectlyRelevant && item.RelevanceScore >= e.opts.MinRelevance {
			usable = append(usable, item)
		}
	}
	if len(usable) == 0 {
		return domain.Absent[domain.Claim](), nil
	}
	if len(usable) > e.opts.MaxEvidence {
		usable = usable[:e.opts.MaxEvidence]
	}

	raw, err := generateWithTimeout(ctx, e.generator, e.opts.Timeout, stageExtraction,
		buildClaimExtractionMessages(usable, e.opts.MaxEvidenceChars),
		domain.GenerateOptions{Temperature: 0, MaxTokens: e.opts.MaxTokens},
		e.opts.Usage,
	)
	if err != nil {
		return domain.Absent[domain.Claim](), err
	}

	claims := parseClaimLines(raw)
	if len(claims) == 0 {
		if !strings.Contains(raw, noClaimsSentinel) && strings.TrimSpace(raw) != "" {
			slog.Warn("claim_output_unparsed", "stage", stageExtraction, "chars", len(raw))
		}
		return domain.Absent[domain.Claim](), nil
	}

	for i := range claims {
		claims[i].SourceIDs = e.ground(claims[i], usable)
	}
	return domain.Present(claims), nil
}

type parsedClaim struct {
	text string
	refs []int
}

// parseClaimLines keeps tagged lines only, de-duplicates them and renumbers
// them sequentially. Declared evidence refs are carried for grounding.
func parseClaimLines(raw string) []domain.Claim {
	seen := make(map[string]struct{})
	parsed := make([]parsedClaim, 0, 8)
	for _, line := range strings.Split(raw, "\n") {
		m := claimLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])
		if text == "" || text == noClaimsSentinel {
			continue
		}
		key := normalizeStatement(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		var refs []int
		for _, ref := range evidenceRefPattern.FindAllStringSubmatch(m[2], -1) {
			if n, err := strconv.Atoi(ref[1]); err == nil && n > 0 {
				refs = append(refs, n)
			}
		}
		parsed = append(parsed, parsedClaim{text: text, refs: refs})
	}

	out := make([]domain.Claim, 0, len(parsed))
	for i, p := range parsed {
		out = append(out, domain.Claim{
			ID:        domain.ClaimID(i + 1),
			Text:      p.text,
			SourceIDs: refsToLabels(p.refs),
		})
	}
	return out
}

// refsToLabels temporarily stores declared refs as EVID labels until ground resolves them.
func refsToLabels(refs []int) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, n := range refs {
		out = append(out, evidenceLabel(n))
	}
	return out
}

// ground resolves the evidence ids that support a claim near-verbatim. Declared
// refs win when they support the claim; otherwise every evidence item is tried.
func (e *ClaimExtractor) ground(claim domain.Claim, evidence []domain.VerifiedEvidence) []string {
	declared := make(map[int]struct{}, len(claim.SourceIDs))
	for _, label := range claim.SourceIDs {
		if m := evidenceRefPattern.FindStringSubmatch(label); m != nil {
			n, _ := strconv.Atoi(m[1])
			declared[n-1] = struct{}{}
		}
	}

	var fromDeclared, fromAny []string
	for idx, item := range evidence {
		if !supports(claim.Text, item.Content, e.opts.GroundingMinOverlap) {
			continue
		}
		fromAny = append(fromAny, item.ID)
		if _, ok := declared[idx]; ok {
			fromDeclared = append(fromDeclared, item.ID)
		}
	}
	if len(fromDeclared) > 0 {
		return fromDeclared
	}
	return fromAny
}

// supports reports whether content contains at least minOverlap of the claim's
// tokens and every numeric token of the claim.
func supports(claim, content string, minOverlap float64) bool {
	claimTokens := splitWordsLower(claim)
	if len(claimTokens) == 0 {
		return false
	}
	contentTokens := toTokenSet(content)

	matched := 0
	for _, token := range claimTokens {
		_, ok := contentTokens[token]
		if ok {
			matched++
			continue
		}
		if isNumericToken(token) {
			return false
		}
	}
	return float64(matched)/float64(len(claimTokens)) >= minOverlap
}
