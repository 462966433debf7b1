package weaviate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

func newGraphQLServer(t *testing.T, status int, body string, captured *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/meta":
			_, _ = w.Write([]byte(`{"version":"1.25.0"}`))
		case "/v1/graphql":
			var req struct {
				Query string `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if captured != nil {
				*captured = req.Query
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearchVectorFiltersTenant(t *testing.T) {
	var query string
	server := newGraphQLServer(t, http.StatusOK,
		`{"data":{"Get":{"Evidence":[{"text":"L'importo stanziato è di 50.000 euro","filename":"delibera-12.pdf","chunk_id":"delibera-12-3","_additional":{"id":"5c56c793-69f3-4fbf-87e6-c4bf54c28c26","certainty":0.91}}]}}}`,
		&query)

	store, err := New(Config{URL: server.URL, ClassName: "Evidence"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hits, err := store.SearchVector(context.Background(), "comune-1", []float32{0.1, 0.2}, 5, 10)
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "delibera-12-3" || hits[0].Source != "delibera-12.pdf" || hits[0].Score != 0.91 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	for _, want := range []string{"nearVector", "tenant_id", "comune-1", "limit:5"} {
		if !strings.Contains(strings.ReplaceAll(query, " ", ""), strings.ReplaceAll(want, " ", "")) {
			t.Fatalf("expected %q in query %s", want, query)
		}
	}
}

func TestSearchKeywordParsesStringScores(t *testing.T) {
	var query string
	server := newGraphQLServer(t, http.StatusOK,
		`{"data":{"Get":{"Evidence":[{"text":"bando 2024","filename":"bando.pdf","_additional":{"id":"b-1","score":"4.2"}}]}}}`,
		&query)

	store, err := New(Config{URL: server.URL, ClassName: "Evidence"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hits, err := store.SearchKeyword(context.Background(), "comune-1", "bando 2024", 4)
	if err != nil {
		t.Fatalf("SearchKeyword() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "b-1" || hits[0].Score != 4.2 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if !strings.Contains(query, "bm25") {
		t.Fatalf("expected bm25 query, got %s", query)
	}
}

func TestSearchKeywordBlankQuerySkipsBackend(t *testing.T) {
	store, err := New(Config{URL: "http://127.0.0.1:1", ClassName: "Evidence"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hits, err := store.SearchKeyword(context.Background(), "comune-1", "  ", 4)
	if err != nil || hits != nil {
		t.Fatalf("expected no hits and no error, got %v %v", hits, err)
	}
}

func TestSearchVectorMapsServerErrors(t *testing.T) {
	server := newGraphQLServer(t, http.StatusServiceUnavailable, `{"error":[{"message":"shutting down"}]}`, nil)

	store, err := New(Config{URL: server.URL, ClassName: "Evidence"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.SearchVector(context.Background(), "comune-1", []float32{0.1}, 5, 5)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestNewRequiresClassName(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:8080"}, nil); err == nil {
		t.Fatalf("expected error for missing class name")
	}
}

func TestSplitURL(t *testing.T) {
	scheme, host := splitURL("https://weaviate.internal:8443/")
	if scheme != "https" || host != "weaviate.internal:8443" {
		t.Fatalf("unexpected split %s %s", scheme, host)
	}
	scheme, host = splitURL("localhost:8080")
	if scheme != "http" || host != "localhost:8080" {
		t.Fatalf("unexpected split %s %s", scheme, host)
	}
}
