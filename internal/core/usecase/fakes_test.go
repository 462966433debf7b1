package usecase

import (
	"context"
	"sync"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// generatorFake replies with scripted outputs in order; the last reply repeats.
type generatorFake struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]domain.ChatMessage
	opts     []domain.GenerateOptions
}

func (f *generatorFake) Generate(_ context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (*domain.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	f.messages = append(f.messages, messages)
	f.opts = append(f.opts, opts)

	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if len(f.replies) == 0 {
		return &domain.Generation{Model: "fake"}, nil
	}
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	return &domain.Generation{
		Content: f.replies[idx],
		Model:   "fake",
		Usage:   domain.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (f *generatorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *generatorFake) lastUserMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	msgs := f.messages[len(f.messages)-1]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

type embedderFake struct {
	texts []string
	err   error
}

func (f *embedderFake) Embed(_ context.Context, text string) (*domain.Embedding, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Embedding{Vector: []float32{0.1, 0.2, 0.3}, Tokens: 3}, nil
}

type storeFake struct {
	vectorHits    []domain.StoreHit
	keywordHits   []domain.StoreHit
	vectorErr     error
	keywordErr    error
	vectorCalls   int
	keywordCalls  int
	tenant        string
	limit         int
	numCandidates int
}

func (f *storeFake) SearchVector(_ context.Context, tenantID string, _ []float32, limit, numCandidates int) ([]domain.StoreHit, error) {
	f.vectorCalls++
	f.tenant = tenantID
	f.limit = limit
	f.numCandidates = numCandidates
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.vectorHits, nil
}

func (f *storeFake) SearchKeyword(_ context.Context, tenantID, _ string, _ int) ([]domain.StoreHit, error) {
	f.keywordCalls++
	f.tenant = tenantID
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	return f.keywordHits, nil
}

func verifiedItem(id, content string, similarity float64) domain.VerifiedEvidence {
	return domain.VerifiedEvidence{
		Evidence: domain.Evidence{
			ID:         id,
			Content:    content,
			Source:     id + ".pdf",
			Score:      similarity * similarityScale,
			Similarity: similarity,
		},
		IsDirectlyRelevant: similarity >= 0.45,
		RelevanceScore:     similarity * similarityScale,
	}
}
