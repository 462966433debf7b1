package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

// Payload keys of indexed evidence chunks.
const (
	payloadTenant  = "tenant_id"
	payloadText    = "text"
	payloadSource  = "filename"
	payloadChunkID = "chunk_id"
)

type Config struct {
	BaseURL    string
	Collection string
	APIKey     string
	// DenseVector and SparseVector name the collection's vector fields.
	// An empty DenseVector targets the collection's default vector.
	DenseVector  string
	SparseVector string
	Timeout      time.Duration
}

// Client is a tenant-scoped, read-only EvidenceStore over a Qdrant collection.
type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SparseVector == "" {
		cfg.SparseVector = "text-sparse"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
	}
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) SearchVector(ctx context.Context, tenantID string, vector []float32, limit, numCandidates int) ([]domain.StoreHit, error) {
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant.search_vector", fmt.Errorf("empty query vector"))
	}
	if numCandidates < limit {
		numCandidates = limit
	}

	var query any = vector
	if c.cfg.DenseVector != "" {
		query = map[string]any{"name": c.cfg.DenseVector, "vector": vector}
	}
	reqBody := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
		"filter":       tenantFilter(tenantID),
		"params":       map[string]any{"hnsw_ef": numCandidates},
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := c.call(ctx, "search_vector", "/points/search", reqBody, &resp); err != nil {
		return nil, err
	}
	return toHits(resp.Result), nil
}

// SearchKeyword runs a sparse BM25-style query against the collection's sparse vector.
func (c *Client) SearchKeyword(ctx context.Context, tenantID, query string, limit int) ([]domain.StoreHit, error) {
	sparse := encodeSparseQuery(query)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"query":        sparse,
		"using":        c.cfg.SparseVector,
		"limit":        limit,
		"with_payload": true,
		"filter":       tenantFilter(tenantID),
	}

	var resp struct {
		Result struct {
			Points []scoredPoint `json:"points"`
		} `json:"result"`
	}
	if err := c.call(ctx, "search_keyword", "/points/query", reqBody, &resp); err != nil {
		return nil, err
	}
	return toHits(resp.Result.Points), nil
}

// Ping reports whether the collection is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(""), nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.MapTransportError("qdrant.ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.MapTransportError("qdrant.ping", statusError("ping", resp))
	}
	return nil
}

func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	op := "qdrant." + operation
	do := func(ctx context.Context) error {
		return resilience.MapTransportError(op, c.postJSON(ctx, operation, path, payload, out))
	}
	if c.executor == nil {
		return do(ctx)
	}
	return c.executor.Execute(ctx, op, do, resilience.ClassifyDomainError)
}

func (c *Client) postJSON(ctx context.Context, operation, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectionURL(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) collectionURL(path string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.cfg.BaseURL, c.cfg.Collection, path)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &resilience.HTTPStatusError{
		Service:    "qdrant",
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

func tenantFilter(tenantID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": payloadTenant, "match": map[string]any{"value": tenantID}},
		},
	}
}

func toHits(points []scoredPoint) []domain.StoreHit {
	out := make([]domain.StoreHit, 0, len(points))
	for _, p := range points {
		id := getStringPayload(p.Payload, payloadChunkID)
		if id == "" && p.ID != nil {
			id = fmt.Sprintf("%v", p.ID)
		}
		metadata := make(map[string]string, len(p.Payload))
		for k := range p.Payload {
			switch k {
			case payloadText, payloadSource, payloadTenant:
				continue
			}
			metadata[k] = getStringPayload(p.Payload, k)
		}
		out = append(out, domain.StoreHit{
			ID:       id,
			Content:  getStringPayload(p.Payload, payloadText),
			Source:   getStringPayload(p.Payload, payloadSource),
			Metadata: metadata,
			Score:    p.Score,
		})
	}
	return out
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
