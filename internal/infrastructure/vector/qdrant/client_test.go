package qdrant

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

func TestSearchVectorFiltersTenantAndSetsHNSWEf(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/evidence/points/search" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("expected api-key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":[{"id":"5c56c793-69f3-4fbf-87e6-c4bf54c28c26","score":0.93,"payload":{"tenant_id":"comune-1","text":"L'importo stanziato è di 50.000 euro","filename":"delibera-12.pdf","chunk_index":3}}]}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "evidence", APIKey: "secret"}, nil)
	hits, err := client.SearchVector(context.Background(), "comune-1", []float32{0.1, 0.2}, 5, 10)
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "5c56c793-69f3-4fbf-87e6-c4bf54c28c26" || hits[0].Source != "delibera-12.pdf" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits[0].Metadata["chunk_index"] != "3" {
		t.Fatalf("expected metadata to carry chunk_index, got %v", hits[0].Metadata)
	}
	if _, leaked := hits[0].Metadata["tenant_id"]; leaked {
		t.Fatalf("tenant id must not be copied into metadata")
	}

	params := captured["params"].(map[string]any)
	if params["hnsw_ef"].(float64) != 10 {
		t.Fatalf("expected hnsw_ef=10, got %v", params["hnsw_ef"])
	}
	raw, _ := json.Marshal(captured["filter"])
	if !strings.Contains(string(raw), `"key":"tenant_id"`) || !strings.Contains(string(raw), `"value":"comune-1"`) {
		t.Fatalf("expected tenant filter, got %s", raw)
	}
}

func TestSearchKeywordUsesSparseVector(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/evidence/points/query" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"result":{"points":[{"id":7,"score":4.2,"payload":{"text":"bando 2024","filename":"bando.pdf","chunk_id":"bando-1"}}]}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Collection: "evidence"}, nil)
	hits, err := client.SearchKeyword(context.Background(), "comune-1", "bando 2024", 4)
	if err != nil {
		t.Fatalf("SearchKeyword() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "bando-1" || hits[0].Score != 4.2 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if captured["using"] != "text-sparse" {
		t.Fatalf("expected sparse vector name, got %v", captured["using"])
	}
}

func TestSearchKeywordSkipsEmptyQuery(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1", Collection: "evidence"}, nil)
	hits, err := client.SearchKeyword(context.Background(), "t", "?!", 4)
	if err != nil || hits != nil {
		t.Fatalf("expected no request for empty sparse query, got %v %v", hits, err)
	}
}

func TestSearchVectorRetriesUnavailableOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.RetryOnce(time.Millisecond))
	client := New(Config{BaseURL: server.URL, Collection: "evidence"}, exec)
	_, err := client.SearchVector(context.Background(), "t", []float32{0.1}, 5, 10)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected body in error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
