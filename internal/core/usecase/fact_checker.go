package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const stageFactCheck = "fact_check"

// boilerplateMaxExtraWords is how many words a statement may carry beyond an
// allow-listed phrase and still count as boilerplate.
const boilerplateMaxExtraWords = 2

// DefaultBoilerplate lists formal phrases that carry no facts.
var DefaultBoilerplate = []string{
	"in riferimento alla domanda",
	"in riferimento alla sua richiesta",
	"in merito alla richiesta",
	"si comunica quanto segue",
	"si precisa quanto segue",
	"si resta a disposizione per ulteriori chiarimenti",
	"cordiali saluti",
	"distinti saluti",
	domain.GapSentence,
	domain.InsufficientInformationMessage,
}

var hallucinationLinePattern = regexp.MustCompile(`(?i)^\s*(?:[-*•]|\d+[.)])?\s*HALLUCINATION\s*:\s*(.+?)\s*$`)

type FactCheckerOptions struct {
	Boilerplate []string
	MaxTokens   int
	Timeout     time.Duration
	Usage       UsageRecorder
}

type FactChecker struct {
	generator   ports.TextGenerator
	opts        FactCheckerOptions
	boilerplate []string
}

func NewFactChecker(generator ports.TextGenerator, opts FactCheckerOptions) *FactChecker {
	if opts.Boilerplate == nil {
		opts.Boilerplate = DefaultBoilerplate
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 768
	}

	phrases := make([]string, 0, len(opts.Boilerplate))
	for _, phrase := range opts.Boilerplate {
		if p := normalizeStatement(phrase); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &FactChecker{generator: generator, opts: opts, boilerplate: phrases}
}

// Check asks an adversarial backend for untraceable statements, then drops
// flagged statements that carry a citation or are only boilerplate.
func (c *FactChecker) Check(ctx context.Context, answer domain.SynthesizedAnswer, claims domain.ClaimSet) (domain.HallucinationReport, error) {
	if strings.TrimSpace(answer.Text) == "" {
		return domain.Absent[domain.Hallucination](), nil
	}

	raw, err := generateWithTimeout(ctx, c.generator, c.opts.Timeout, stageFactCheck,
		buildHostileCheckMessages(answer.Text, claims.Items()),
		domain.GenerateOptions{Temperature: 0, MaxTokens: c.opts.MaxTokens},
		c.opts.Usage,
	)
	if err != nil {
		return domain.Absent[domain.Hallucination](), err
	}

	flagged := parseHallucinationLines(raw)
	if len(flagged) == 0 && !strings.Contains(raw, noHallucinationsSentinel) && strings.TrimSpace(raw) != "" {
		slog.Warn("factcheck_output_unparsed", "stage", stageFactCheck, "chars", len(raw))
	}
	return domain.Present(c.filter(flagged)), nil
}

func parseHallucinationLines(raw string) []string {
	out := make([]string, 0, 4)
	for _, line := range strings.Split(raw, "\n") {
		m := hallucinationLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		statement := strings.Trim(strings.TrimSpace(m[1]), `"«»`)
		if statement == "" || statement == noHallucinationsSentinel {
			continue
		}
		out = append(out, statement)
	}
	return out
}

func (c *FactChecker) filter(statements []string) []domain.Hallucination {
	seen := make(map[string]struct{}, len(statements))
	out := make([]domain.Hallucination, 0, len(statements))
	for _, statement := range statements {
		if domain.HasCitation(statement) || c.isBoilerplate(statement) {
			continue
		}
		key := normalizeStatement(statement)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.Hallucination{Statement: statement})
	}
	return out
}

func (c *FactChecker) isBoilerplate(statement string) bool {
	normalized := normalizeStatement(statement)
	if normalized == "" {
		return true
	}
	matched := false
	for _, phrase := range c.boilerplate {
		if strings.Contains(normalized, phrase) {
			normalized = strings.ReplaceAll(normalized, phrase, " ")
			matched = true
		}
	}
	return matched && len(splitWordsLower(normalized)) <= boilerplateMaxExtraWords
}
