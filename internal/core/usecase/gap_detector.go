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

const stageGaps = "gap_detection"

const genericGapDescription = "Non è stato possibile verificare la copertura completa della domanda."

var gapLinePattern = regexp.MustCompile(`^\s*(?:[-*•]\s*)?\[\s*GAP_\d+\s*\]\s*(.+?)\s*$`)

type GapDetectorOptions struct {
	MaxTokens int
	Timeout   time.Duration
	Usage     UsageRecorder
}

type GapDetector struct {
	generator ports.TextGenerator
	opts      GapDetectorOptions
}

func NewGapDetector(generator ports.TextGenerator, opts GapDetectorOptions) *GapDetector {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	return &GapDetector{generator: generator, opts: opts}
}

// DetectGaps never reports full coverage unless the backend says so explicitly.
func (d *GapDetector) DetectGaps(ctx context.Context, question string, claims domain.ClaimSet) (domain.GapReport, error) {
	if claims.IsAbsent() {
		return domain.Present([]domain.Gap{domain.WholeQuestionGap(question)}), nil
	}

	raw, err := generateWithTimeout(ctx, d.generator, d.opts.Timeout, stageGaps,
		buildGapDetectionMessages(question, claims.Items()),
		domain.GenerateOptions{Temperature: 0, MaxTokens: d.opts.MaxTokens},
		d.opts.Usage,
	)
	if err != nil {
		return domain.Absent[domain.Gap](), err
	}
	return parseGapReport(raw), nil
}

func parseGapReport(raw string) domain.GapReport {
	gaps := make([]domain.Gap, 0, 4)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		m := gapLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := normalizeStatement(m[1])
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		gaps = append(gaps, domain.Gap{ID: domain.GapID(len(gaps) + 1), Description: strings.TrimSpace(m[1])})
	}
	if len(gaps) > 0 {
		return domain.Present(gaps)
	}
	if strings.Contains(raw, fullCoverageSentinel) {
		return domain.Absent[domain.Gap]()
	}

	slog.Warn("gap_output_unparsed", "stage", stageGaps, "chars", len(raw))
	return domain.Present([]domain.Gap{{ID: domain.GapID(1), Description: genericGapDescription}})
}
