package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (*domain.Embedding, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &domain.Embedding{Vector: []float32{float32(len(text)), 1}, Tokens: 3}, nil
}

func TestCachedEmbedderReusesVector(t *testing.T) {
	inner := &countingEmbedder{}
	emb := NewCachedEmbedder(inner, "nomic-embed-text", time.Minute, 0)

	first, err := emb.Embed(context.Background(), "importo delibera")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	first.Vector[0] = 99

	second, err := emb.Embed(context.Background(), " importo delibera ")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", inner.calls)
	}
	if second.Vector[0] == 99 {
		t.Fatalf("cached vector must not be shared with callers")
	}
	if emb.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", emb.Len())
	}
}

func TestCachedEmbedderKeysByModel(t *testing.T) {
	a := NewCachedEmbedder(&countingEmbedder{}, "model-a", time.Minute, 0)
	b := NewCachedEmbedder(&countingEmbedder{}, "model-b", time.Minute, 0)
	if a.key("testo") == b.key("testo") {
		t.Fatalf("expected model to be part of the cache key")
	}
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	emb := NewCachedEmbedder(inner, "m", time.Minute, 0)

	for i := 0; i < 2; i++ {
		if _, err := emb.Embed(context.Background(), "q"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected failures to reach the backend each time, got %d calls", inner.calls)
	}
}

// gatedEmbedder blocks every call until release is closed.
type gatedEmbedder struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (e *gatedEmbedder) Embed(ctx context.Context, _ string) (*domain.Embedding, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()
	if first {
		close(e.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.release:
		return &domain.Embedding{Vector: []float32{1, 2}}, nil
	}
}

func TestCachedEmbedderSurvivesFirstWaiterCancel(t *testing.T) {
	inner := &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	emb := NewCachedEmbedder(inner, "m", time.Minute, 0)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := emb.Embed(firstCtx, "importo")
		firstErr <- err
	}()
	<-inner.started

	type result struct {
		emb *domain.Embedding
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := emb.Embed(context.Background(), "importo")
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first waiter canceled, got %v", err)
	}
	close(inner.release)

	res := <-second
	if res.err != nil || res.emb == nil || len(res.emb.Vector) != 2 {
		t.Fatalf("expected second waiter to get the shared vector, got %+v %v", res.emb, res.err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected one shared backend call, got %d", inner.calls)
	}
}
