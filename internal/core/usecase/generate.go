package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const defaultGenerationTimeout = 60 * time.Second

// UsageRecorder receives token usage per pipeline stage.
type UsageRecorder func(stage, model string, usage domain.TokenUsage)

func generateWithTimeout(
	ctx context.Context,
	gen ports.TextGenerator,
	timeout time.Duration,
	stage string,
	messages []domain.ChatMessage,
	opts domain.GenerateOptions,
	record UsageRecorder,
) (string, error) {
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	// timeout bounds each attempt, so a hung first attempt still leaves room
	// for the retry. The caller's deadline bounds the stage as a whole.
	out, err := gen.Generate(domain.WithCallTimeout(ctx, timeout), messages, opts)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsKind(err, domain.ErrTimeout) {
			err = domain.WrapError(domain.ErrTimeout, stage, err)
		}
		return "", fmt.Errorf("%s generate: %w", stage, err)
	}
	if out == nil {
		return "", nil
	}
	if record != nil {
		record(stage, out.Model, out.Usage)
	}
	return out.Content, nil
}
