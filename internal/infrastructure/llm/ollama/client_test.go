package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.RetryOnce(time.Millisecond))
}

func TestGeneratorSendsChatRequest(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":" [CLAIM_001] x \n"},"prompt_eval_count":12,"eval_count":4}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "embed"))
	out, err := gen.Generate(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "rules"},
		{Role: domain.RoleUser, Content: "evidence"},
	}, domain.GenerateOptions{Temperature: 0, MaxTokens: 256})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Content != "[CLAIM_001] x" || out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 4 {
		t.Fatalf("unexpected generation %+v", out)
	}
	if captured.Stream || len(captured.Messages) != 2 || captured.Options.NumPredict != 256 {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Options.Temperature != 0 || captured.Options.Seed != deterministicSeed {
		t.Fatalf("expected pinned deterministic options, got %+v", captured.Options)
	}
}

func TestGeneratorRetriesServerErrorOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"NO_CLAIMS"}}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "embed", WithExecutor(fastExecutor())))
	out, err := gen.Generate(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}}, domain.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Content != "NO_CLAIMS" || out.Model != "llama3" || calls.Load() != 2 {
		t.Fatalf("unexpected result %+v after %d calls", out, calls.Load())
	}
}

func TestGeneratorMissingModelIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model 'x' not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "x", "embed", WithExecutor(fastExecutor())))
	_, err := gen.Generate(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}}, domain.GenerateOptions{})
	if !domain.IsKind(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected model unavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestEmbedReturnsFirstVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]],"prompt_eval_count":5}`))
	}))
	defer server.Close()

	out, err := NewEmbedder(New(server.URL, "gen", "bge-m3")).Embed(context.Background(), "importo stanziato")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(out.Vector) != 3 || out.Tokens != 5 {
		t.Fatalf("unexpected embedding %+v", out)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed")).Embed(context.Background(), "hello")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
