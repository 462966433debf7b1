package httpadapter

import (
	"context"
	"net/http"
	"sync"

	"github.com/kirillkom/verified-rag/internal/config"
	"github.com/kirillkom/verified-rag/internal/core/domain"
)

type fakeAnswerService struct {
	mu     sync.Mutex
	result *domain.PipelineResult
	err    error
	got    []domain.AnswerRequest
}

func (f *fakeAnswerService) Answer(_ context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return acceptedResult(), nil
}

func (f *fakeAnswerService) last() domain.AnswerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.got) == 0 {
		return domain.AnswerRequest{}
	}
	return f.got[len(f.got)-1]
}

func acceptedResult() *domain.PipelineResult {
	return &domain.PipelineResult{
		Answer:         "Il termine di presentazione è il 30 giugno [CLAIM_01].",
		URSScore:       95,
		URSExplanation: "Nessuna lacuna rilevata.",
		ClaimsUsed:     []domain.Claim{{ID: "CLAIM_01", Text: "Il termine è il 30 giugno.", SourceIDs: []string{"doc-1"}}},
		Sources:        []domain.Source{{ID: "doc-1", Source: "bando.pdf", Score: 8.5}},
		GapsDetected:   []domain.Gap{},
	}
}

type fakeAuditReader struct {
	rows     []domain.AnswerAudit
	err      error
	tenantID string
	limit    int
}

func (f *fakeAuditReader) Recent(_ context.Context, tenantID string, limit int) ([]domain.AnswerAudit, error) {
	f.tenantID = tenantID
	f.limit = limit
	return f.rows, f.err
}

func testConfig() config.Config {
	return config.Config{
		OpenAICompatModelID: "verified-rag-v1",
		StreamChunkChars:    16,
	}
}

func newTestHandler(cfg config.Config, answers *fakeAnswerService) http.Handler {
	return NewRouter(cfg, answers, nil, nil).Handler()
}
