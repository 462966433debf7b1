package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/config"
	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
	"github.com/kirillkom/verified-rag/internal/observability/metrics"
)

const (
	tenantHeader    = "X-Tenant-Id"
	maxRequestBytes = 1 << 20
)

// AuditReader lists recent audit rows for a tenant.
type AuditReader interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]domain.AnswerAudit, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

type Router struct {
	answers     ports.AnswerService
	audit       AuditReader
	checks      []HealthCheck
	httpMetrics *metrics.HTTPServerMetrics

	bearerToken      string
	defaultTenantID  string
	modelID          string
	streamChunkChars int
	answerTimeout    time.Duration
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
}

func NewRouter(
	cfg config.Config,
	answers ports.AnswerService,
	audit AuditReader,
	httpMetrics *metrics.HTTPServerMetrics,
	checks ...HealthCheck,
) *Router {
	modelID := strings.TrimSpace(cfg.OpenAICompatModelID)
	if modelID == "" {
		modelID = "verified-rag-v1"
	}
	return &Router{
		answers:          answers,
		audit:            audit,
		checks:           checks,
		httpMetrics:      httpMetrics,
		bearerToken:      strings.TrimSpace(cfg.APIBearerToken),
		defaultTenantID:  strings.TrimSpace(cfg.DefaultTenantID),
		modelID:          modelID,
		streamChunkChars: cfg.StreamChunkChars,
		answerTimeout:    cfg.AnswerTimeout,
		rateLimitRPS:     cfg.RateLimitRPS,
		rateLimitBurst:   cfg.RateLimitBurst,
		maxInFlight:      cfg.MaxInFlight,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/answer", rt.answer)
	mux.HandleFunc("/v1/audit", rt.listAudit)
	mux.HandleFunc("/v1/models", rt.listModels)
	mux.HandleFunc("/v1/chat/completions", rt.chatCompletions)
	if rt.httpMetrics != nil {
		mux.Handle("/metrics", rt.httpMetrics.Handler())
	}

	var observe middleware
	if rt.httpMetrics != nil {
		observe = rt.httpMetrics.Middleware
	}
	return chain(mux,
		withRequestID,
		withAccessLog,
		observe,
		rateLimit(rt.rateLimitRPS, rt.rateLimitBurst, rt.onRateLimited),
		shedLoad(rt.maxInFlight, 50*time.Millisecond, rt.onShed),
		requireBearer(rt.bearerToken),
	)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for _, check := range rt.checks {
		if err := check.Check(ctx); err != nil {
			healthy = false
			status[check.Name] = "unavailable"
			slog.Warn("health_check_failed", "dependency", check.Name, "error", err)
			continue
		}
		status[check.Name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "dependencies": status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dependencies": status})
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.AnswerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.TenantID = rt.tenantFor(r, req.TenantID)
	req.RequestID = requestIDFromContext(r.Context())

	result, err := rt.runAnswer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.audit == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit log is disabled"})
		return
	}
	tenantID := rt.tenantFor(r, "")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant id is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := rt.audit.Recent(r.Context(), tenantID, limit)
	if err != nil {
		slog.Error("audit_list_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": domain.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": rows})
}

func (rt *Router) runAnswer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	if rt.answerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.answerTimeout)
		defer cancel()
	}
	return rt.answers.Answer(ctx, req)
}

// tenantFor prefers the header, then the body, then the configured default.
func (rt *Router) tenantFor(r *http.Request, bodyTenant string) string {
	if v := strings.TrimSpace(r.Header.Get(tenantHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(bodyTenant); v != "" {
		return v
	}
	return rt.defaultTenantID
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordRateLimited(r.URL.Path)
	}
}

func (rt *Router) onShed(r *http.Request) {
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordShed(r.URL.Path)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
