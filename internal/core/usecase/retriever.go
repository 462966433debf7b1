package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

type RetrieverOptions struct {
	CandidateFactor int
	MinScore        float64
	KeywordTriggers []string
	Timeout         time.Duration
}

// DefaultKeywordTriggers are administrative terms for which a keyword query is worth issuing.
var DefaultKeywordTriggers = []string{
	"delibera", "determina", "decreto", "ordinanza", "bando", "importo", "scadenza",
	"protocollo", "articolo", "art", "regolamento", "cig", "cup", "euro",
}

type Retriever struct {
	embedder ports.Embedder
	store    ports.EvidenceStore
	reranker ports.Reranker
	opts     RetrieverOptions
	triggers map[string]struct{}
}

func NewRetriever(embedder ports.Embedder, store ports.EvidenceStore, reranker ports.Reranker, opts RetrieverOptions) *Retriever {
	if opts.CandidateFactor <= 0 {
		opts.CandidateFactor = 2
	}
	if opts.MinScore < 0 {
		opts.MinScore = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.KeywordTriggers == nil {
		opts.KeywordTriggers = DefaultKeywordTriggers
	}
	if reranker == nil {
		reranker = ScoreSortReranker{}
	}

	triggers := make(map[string]struct{}, len(opts.KeywordTriggers))
	for _, keyword := range opts.KeywordTriggers {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
			triggers[keyword] = struct{}{}
		}
	}

	return &Retriever{
		embedder: embedder,
		store:    store,
		reranker: reranker,
		opts:     opts,
		triggers: triggers,
	}
}

// Retrieve never fails: store or embedding unavailability yields an empty list.
func (r *Retriever) Retrieve(ctx context.Context, question, tenantID string, topK int) []domain.Evidence {
	if topK <= 0 {
		topK = 5
	}
	if strings.TrimSpace(question) == "" {
		return nil
	}

	ctx = domain.WithCallTimeout(ctx, r.opts.Timeout)

	numCandidates := topK * r.opts.CandidateFactor
	vectorHits, err := r.searchVector(ctx, question, tenantID, numCandidates)
	if err != nil {
		slog.Warn("retrieval_vector_failed", "tenant_id", tenantID, "error", err)
		vectorHits = nil
	}

	var keywordHits []domain.StoreHit
	if r.wantsKeywordSearch(question) {
		keywordHits, err = r.store.SearchKeyword(ctx, tenantID, question, numCandidates)
		if err != nil {
			slog.Warn("retrieval_keyword_failed", "tenant_id", tenantID, "error", err)
			keywordHits = nil
		}
	}

	merged := mergeHitsMaxScore(question, vectorHits, keywordHits)
	ranked := r.reranker.Rerank(question, merged)
	kept := trimCandidates(filterMinScore(ranked, r.opts.MinScore), topK)

	slog.Debug("retrieval_completed",
		"tenant_id", tenantID,
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"merged", len(merged),
		"kept", len(kept),
	)
	return kept
}

func (r *Retriever) searchVector(ctx context.Context, question, tenantID string, numCandidates int) ([]domain.StoreHit, error) {
	embedding, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding == nil || len(embedding.Vector) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding")
	}

	hits, err := r.store.SearchVector(ctx, tenantID, embedding.Vector, numCandidates, numCandidates)
	if err != nil {
		return nil, fmt.Errorf("search vector store: %w", err)
	}
	return hits, nil
}

func (r *Retriever) wantsKeywordSearch(question string) bool {
	if containsDigit(question) {
		return true
	}
	for _, token := range splitWordsLower(question) {
		if _, ok := r.triggers[token]; ok {
			return true
		}
	}
	return false
}
