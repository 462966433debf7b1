package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

// maxErrorBody caps how much of a failed response ends up in error messages.
const maxErrorBody = 2048

// call posts payload to path and decodes the reply into out. Transport failures
// are tagged with domain kinds, so the executor retries a transient failure
// once and repeated failures open the circuit for this operation.
func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	op := "ollama." + operation
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	attempt := func(ctx context.Context) error {
		return resilience.MapTransportError(op, c.roundTrip(ctx, operation, path, body, out))
	}
	if c.executor == nil {
		return attempt(ctx)
	}
	return c.executor.Execute(ctx, op, attempt, resilience.ClassifyDomainError)
}

// roundTrip is one HTTP exchange; the body is re-read on every attempt.
func (c *Client) roundTrip(ctx context.Context, operation, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &resilience.HTTPStatusError{
			Service:    "ollama",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(snippet),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ollama %s reply: %w", operation, err)
	}
	return nil
}
