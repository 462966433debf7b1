package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

type answerServiceFake struct {
	result *domain.PipelineResult
	err    error
	req    domain.AnswerRequest
}

func (f *answerServiceFake) Answer(_ context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	f.req = req
	return f.result, f.err
}

type auditLogFake struct {
	records []domain.AnswerAudit
	err     error
}

func (f *auditLogFake) Record(_ context.Context, audit domain.AnswerAudit) error {
	f.records = append(f.records, audit)
	return f.err
}

type verdictPublisherFake struct {
	events []domain.AnswerAudit
	err    error
}

func (f *verdictPublisherFake) PublishVerdict(_ context.Context, audit domain.AnswerAudit) error {
	f.events = append(f.events, audit)
	return f.err
}

func TestAuditingAnswerServiceRecordsRejection(t *testing.T) {
	next := &answerServiceFake{result: domain.RejectedResult("q", domain.Outcome{
		State:          domain.StateScoring,
		RejectedAt:     domain.StateScoring,
		Reason:         domain.RejectLowReliability,
		ClaimsTotal:    2,
		Hallucinations: []string{"a", "b"},
	})}
	log := &auditLogFake{}
	pub := &verdictPublisherFake{}
	svc := NewAuditingAnswerService(next, log, pub)

	result, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "Qual è l'importo?", TenantID: "t"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if result.Answer != domain.InsufficientInformationMessage {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if next.req.RequestID == "" {
		t.Fatalf("expected generated request id")
	}
	if len(log.records) != 1 || len(pub.events) != 1 {
		t.Fatalf("expected one audit and one event, got %d / %d", len(log.records), len(pub.events))
	}
	audit := log.records[0]
	if audit.State != domain.StateRejected || audit.Reason != domain.RejectLowReliability || audit.Hallucinations != 2 {
		t.Fatalf("unexpected audit %+v", audit)
	}
	if audit.QuestionHash != QuestionHash(" qual è l'importo? ") {
		t.Fatalf("expected normalized question hash")
	}
}

func TestAuditingAnswerServiceIgnoresTelemetryFailures(t *testing.T) {
	next := &answerServiceFake{result: &domain.PipelineResult{Answer: "ok", Outcome: domain.Outcome{State: domain.StateDone}}}
	svc := NewAuditingAnswerService(next, &auditLogFake{err: errors.New("db down")}, &verdictPublisherFake{err: errors.New("nats down")})

	result, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "q", TenantID: "t", RequestID: "r-1"})
	if err != nil || result.Answer != "ok" {
		t.Fatalf("expected answer despite telemetry failure, got %v %v", result, err)
	}
	if next.req.RequestID != "r-1" {
		t.Fatalf("expected caller request id preserved")
	}
}

func TestAuditingAnswerServiceSkipsAuditOnError(t *testing.T) {
	log := &auditLogFake{}
	svc := NewAuditingAnswerService(&answerServiceFake{err: domain.ErrBackendAuth}, log, nil)

	if _, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "q", TenantID: "t"}); !errors.Is(err, domain.ErrBackendAuth) {
		t.Fatalf("expected backend auth error, got %v", err)
	}
	if len(log.records) != 0 {
		t.Fatalf("expected no audit on error")
	}
}
