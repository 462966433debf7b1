package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

// Property names of indexed evidence chunks. They mirror the Qdrant payload keys.
const (
	propTenant  = "tenant_id"
	propText    = "text"
	propSource  = "filename"
	propChunkID = "chunk_id"
)

type Config struct {
	URL       string
	ClassName string
	APIKey    string
	Timeout   time.Duration
}

// Store is a tenant-scoped, read-only EvidenceStore over a Weaviate class.
type Store struct {
	client    *weaviate.Client
	className string
	executor  *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Store, error) {
	if strings.TrimSpace(cfg.ClassName) == "" {
		return nil, fmt.Errorf("weaviate class name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	scheme, host := splitURL(cfg.URL)
	wcfg := weaviate.Config{
		Host:             host,
		Scheme:           scheme,
		ConnectionClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Store{client: client, className: cfg.ClassName, executor: executor}, nil
}

// SearchVector runs nearVector. Weaviate sizes its HNSW candidate list server-side,
// so numCandidates is not forwarded.
func (s *Store) SearchVector(ctx context.Context, tenantID string, vector []float32, limit, _ int) ([]domain.StoreHit, error) {
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "weaviate.search_vector", fmt.Errorf("empty query vector"))
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	return s.get(ctx, "search_vector", limit, tenantID, "_additional { id certainty }", func(b *graphql.GetBuilder) *graphql.GetBuilder {
		return b.WithNearVector(nearVector)
	})
}

func (s *Store) SearchKeyword(ctx context.Context, tenantID, query string, limit int) ([]domain.StoreHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	bm25 := s.client.GraphQL().Bm25ArgBuilder().WithQuery(query).WithProperties(propText)

	return s.get(ctx, "search_keyword", limit, tenantID, "_additional { id score }", func(b *graphql.GetBuilder) *graphql.GetBuilder {
		return b.WithBM25(bm25)
	})
}

// Ping reports whether the Weaviate node is ready.
func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return mapError("weaviate.ping", err)
	}
	if !ready {
		return domain.WrapError(domain.ErrTemporary, "weaviate.ping", fmt.Errorf("node not ready"))
	}
	return nil
}

func (s *Store) get(
	ctx context.Context,
	operation string,
	limit int,
	tenantID string,
	additional string,
	search func(*graphql.GetBuilder) *graphql.GetBuilder,
) ([]domain.StoreHit, error) {
	op := "weaviate." + operation
	fields := []graphql.Field{
		{Name: propText},
		{Name: propSource},
		{Name: propChunkID},
		{Name: additional},
	}
	where := filters.Where().
		WithPath([]string{propTenant}).
		WithOperator(filters.Equal).
		WithValueString(tenantID)

	return resilience.Do(ctx, s.executor, op, func(ctx context.Context) ([]domain.StoreHit, error) {
		builder := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithFields(fields...).
			WithWhere(where).
			WithLimit(limit)

		result, err := search(builder).Do(ctx)
		if err != nil {
			return nil, mapError(op, err)
		}
		if len(result.Errors) > 0 {
			return nil, domain.WrapError(domain.ErrTemporary, op, fmt.Errorf("graphql: %s", result.Errors[0].Message))
		}

		data, ok := result.Data["Get"].(map[string]interface{})
		if !ok {
			return nil, nil
		}
		objects, _ := data[s.className].([]interface{})
		return toHits(objects), nil
	}, resilience.ClassifyDomainError)
}

func toHits(objects []interface{}) []domain.StoreHit {
	out := make([]domain.StoreHit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		additional, _ := m["_additional"].(map[string]interface{})

		id := getString(m, propChunkID)
		if id == "" {
			id = getString(additional, "id")
		}
		score := getFloat(additional, "certainty")
		if _, ok := additional["score"]; ok {
			score = getFloat(additional, "score")
		}

		out = append(out, domain.StoreHit{
			ID:      id,
			Content: getString(m, propText),
			Source:  getString(m, propSource),
			Score:   score,
		})
	}
	return out
}

func mapError(operation string, err error) error {
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) {
		if clientErr.StatusCode > 0 {
			return domain.WrapError(resilience.KindForHTTPStatus(clientErr.StatusCode), operation, err)
		}
		if clientErr.DerivedFromError != nil {
			return resilience.MapTransportError(operation, clientErr.DerivedFromError)
		}
	}
	return resilience.MapTransportError(operation, err)
}

func splitURL(raw string) (scheme, host string) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "https", strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "http", strings.TrimPrefix(raw, "http://")
	default:
		return "http", raw
	}
}

func getString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// getFloat accepts numbers and numeric strings; BM25 scores come back as strings.
func getFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
