package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const stageSynthesis = "synthesis"

type SynthesizerOptions struct {
	MaxWords    int
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Usage       UsageRecorder
}

type Synthesizer struct {
	generator ports.TextGenerator
	opts      SynthesizerOptions
}

func NewSynthesizer(generator ports.TextGenerator, opts SynthesizerOptions) *Synthesizer {
	if opts.MaxWords <= 0 {
		opts.MaxWords = defaultSynthesisWordLimit
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1200
	}
	if opts.Temperature < 0 {
		opts.Temperature = 0
	}
	return &Synthesizer{generator: generator, opts: opts}
}

// Synthesize writes prose that cites only the supplied sourced claims.
// Citations to unknown ids are stripped; an uncited answer gets the first claim appended.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, claims domain.ClaimSet, gaps domain.GapReport) (domain.SynthesizedAnswer, error) {
	sourced := domain.SourcedClaims(claims)
	if sourced.IsAbsent() {
		return domain.SynthesizedAnswer{Text: domain.InsufficientInformationMessage}, nil
	}
	items := sourced.Items()

	raw, err := generateWithTimeout(ctx, s.generator, s.opts.Timeout, stageSynthesis,
		buildSynthesisMessages(question, items, gaps.Items(), s.opts.MaxWords),
		domain.GenerateOptions{Temperature: s.opts.Temperature, MaxTokens: s.opts.MaxTokens},
		s.opts.Usage,
	)
	if err != nil {
		return domain.SynthesizedAnswer{}, err
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.SynthesizedAnswer{}, domain.WrapError(domain.ErrUpstreamUnavailable, stageSynthesis, errors.New("empty answer"))
	}

	return closeCitations(text, items), nil
}

func closeCitations(text string, claims []domain.Claim) domain.SynthesizedAnswer {
	known := make(map[string]struct{}, len(claims))
	for _, c := range claims {
		known[c.ID] = struct{}{}
	}
	text = domain.RewriteCitations(text, func(id string) bool {
		_, ok := known[id]
		return ok
	})

	cited := domain.CitedClaimIDs(text)
	if len(cited) == 0 {
		text = strings.TrimSpace(text) + " (" + claims[0].ID + ")"
		cited = []string{claims[0].ID}
	}
	return domain.SynthesizedAnswer{Text: text, CitedClaimIDs: cited}
}
