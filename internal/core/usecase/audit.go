package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const auditWriteTimeout = 3 * time.Second

// AuditingAnswerService records a telemetry row and a verdict event for every
// answered request. Telemetry failures never change the answer.
type AuditingAnswerService struct {
	next      ports.AnswerService
	log       ports.AnswerAuditLog
	publisher ports.VerdictPublisher
	now       func() time.Time
}

func NewAuditingAnswerService(next ports.AnswerService, log ports.AnswerAuditLog, publisher ports.VerdictPublisher) *AuditingAnswerService {
	return &AuditingAnswerService{
		next:      next,
		log:       log,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *AuditingAnswerService) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	result, err := s.next.Answer(ctx, req)
	if err != nil || result == nil {
		return result, err
	}

	audit := buildAudit(req, result, s.now().UTC())
	// The caller may already be gone; telemetry gets its own short deadline.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if s.log != nil {
		if err := s.log.Record(auditCtx, audit); err != nil {
			slog.Warn("answer_audit_failed", "request_id", req.RequestID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishVerdict(auditCtx, audit); err != nil {
			slog.Warn("answer_verdict_publish_failed", "request_id", req.RequestID, "error", err)
		}
	}
	return result, nil
}

func buildAudit(req domain.AnswerRequest, result *domain.PipelineResult, now time.Time) domain.AnswerAudit {
	o := result.Outcome
	return domain.AnswerAudit{
		ID:             uuid.NewString(),
		RequestID:      req.RequestID,
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		QuestionHash:   QuestionHash(req.Question),
		State:          o.State,
		RejectedAt:     o.RejectedAt,
		Reason:         o.Reason,
		URSScore:       result.URSScore,
		ClaimsTotal:    o.ClaimsTotal,
		ClaimsUsed:     len(result.ClaimsUsed),
		Gaps:           len(result.GapsDetected),
		Hallucinations: max(result.HallucinationsFound, len(o.Hallucinations)),
		DurationMS:     o.Duration.Milliseconds(),
		CreatedAt:      now,
	}
}

// QuestionHash identifies a question in telemetry without storing its text.
func QuestionHash(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(sum[:])
}
