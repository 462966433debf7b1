package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

var tracer = otel.Tracer("verified-rag/pipeline")

type PipelineStages struct {
	Retriever   ports.EvidenceRetriever
	Verifier    ports.EvidenceVerifier
	Extractor   ports.ClaimExtractor
	Gaps        ports.GapDetector
	Synthesizer ports.AnswerSynthesizer
	FactChecker ports.FactChecker
}

type PipelineOptions struct {
	TopK              int
	AcceptThreshold   int
	FollowupMaxTokens int
	Observer          ports.PipelineObserver
}

// Pipeline sequences the answering stages and is the only component that
// decides whether an answer is accepted or rejected.
type Pipeline struct {
	stages PipelineStages
	opts   PipelineOptions
}

func NewPipeline(stages PipelineStages, opts PipelineOptions) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.AcceptThreshold <= 0 {
		opts.AcceptThreshold = 90
	}
	if opts.FollowupMaxTokens <= 0 {
		opts.FollowupMaxTokens = 6
	}
	return &Pipeline{stages: stages, opts: opts}
}

// run carries per-request state through the stages.
type run struct {
	req     domain.AnswerRequest
	outcome domain.Outcome
	started time.Time
}

func (p *Pipeline) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, error) {
	req.Question = strings.TrimSpace(req.Question)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.Question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("question is required"))
	}
	if req.TenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("tenant id is required"))
	}

	ctx, span := tracer.Start(ctx, "pipeline.Answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("pipeline.tenant_id", req.TenantID),
		attribute.String("pipeline.request_id", req.RequestID),
	)

	r := &run{req: req, started: time.Now()}
	result, err := p.answer(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("pipeline_failed",
			"request_id", req.RequestID,
			"tenant_id", req.TenantID,
			"stage", string(r.outcome.State),
			"error", err,
		)
		return nil, err
	}

	result.Outcome.Duration = time.Since(r.started)
	span.SetAttributes(
		attribute.String("pipeline.state", string(result.Outcome.State)),
		attribute.Int("pipeline.urs_score", result.URSScore),
	)
	span.SetStatus(codes.Ok, "")
	p.report(r, result)
	return result, nil
}

func (p *Pipeline) answer(ctx context.Context, r *run) (*domain.PipelineResult, error) {
	question := r.req.Question

	var evidence []domain.Evidence
	_ = p.stage(ctx, r, domain.StateRetrieving, func(ctx context.Context) error {
		evidence = p.stages.Retriever.Retrieve(ctx, p.retrievalQuery(r.req), r.req.TenantID, p.opts.TopK)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("answer %s: %w", domain.StateRetrieving, err)
	}
	r.outcome.EvidenceCount = len(evidence)
	if len(evidence) == 0 {
		return p.reject(r, domain.RejectNoEvidence), nil
	}

	var verified []domain.VerifiedEvidence
	if err := p.stage(ctx, r, domain.StateVerifying, func(ctx context.Context) (err error) {
		verified, err = p.stages.Verifier.Verify(ctx, question, evidence)
		return err
	}); err != nil {
		return p.stageFailed(ctx, r, err)
	}
	r.outcome.VerifiedCount = len(verified)
	if len(verified) == 0 {
		return p.reject(r, domain.RejectNoRelevantEvidence), nil
	}

	var claims domain.ClaimSet
	if err := p.stage(ctx, r, domain.StateExtracting, func(ctx context.Context) (err error) {
		claims, err = p.stages.Extractor.Extract(ctx, verified)
		return err
	}); err != nil {
		return p.stageFailed(ctx, r, err)
	}
	r.outcome.ClaimsTotal = claims.Len()
	sourced := domain.SourcedClaims(claims)
	if sourced.IsAbsent() {
		return p.reject(r, domain.RejectNoFactualClaims), nil
	}

	var gaps domain.GapReport
	if err := p.stage(ctx, r, domain.StateGapChecking, func(ctx context.Context) (err error) {
		gaps, err = p.stages.Gaps.DetectGaps(ctx, question, sourced)
		return err
	}); err != nil {
		return p.stageFailed(ctx, r, err)
	}

	var answer domain.SynthesizedAnswer
	if err := p.stage(ctx, r, domain.StateSynthesizing, func(ctx context.Context) (err error) {
		answer, err = p.stages.Synthesizer.Synthesize(ctx, question, sourced, gaps)
		return err
	}); err != nil {
		return p.stageFailed(ctx, r, err)
	}

	var hallucinations domain.HallucinationReport
	if err := p.stage(ctx, r, domain.StateFactChecking, func(ctx context.Context) (err error) {
		hallucinations, err = p.stages.FactChecker.Check(ctx, answer, sourced)
		return err
	}); err != nil {
		return p.stageFailed(ctx, r, err)
	}

	var (
		used []domain.Claim
		urs  domain.ReliabilityResult
	)
	_ = p.stage(ctx, r, domain.StateScoring, func(context.Context) error {
		used = usedClaims(sourced.Items(), answer.CitedClaimIDs)
		urs = ScoreReliability(len(used), sourced.Len(), gaps.Items(), hallucinations.Items(), len(used) > 0)
		return nil
	})

	if !hallucinations.IsAbsent() && urs.Score < p.opts.AcceptThreshold {
		for _, h := range hallucinations.Items() {
			r.outcome.Hallucinations = append(r.outcome.Hallucinations, h.Statement)
		}
		return p.reject(r, domain.RejectLowReliability), nil
	}

	r.outcome.State = domain.StateDone
	gapList := gaps.Items()
	if gapList == nil {
		gapList = []domain.Gap{}
	}
	return &domain.PipelineResult{
		Answer:              answer.Text,
		URSScore:            urs.Score,
		URSExplanation:      urs.Explanation,
		ClaimsUsed:          used,
		Sources:             sourcesFor(used, verified),
		HallucinationsFound: hallucinations.Len(),
		GapsDetected:        gapList,
		Outcome:             r.outcome,
	}, nil
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, r *run, state domain.PipelineState, fn func(context.Context) error) error {
	r.outcome.State = state
	ctx, span := tracer.Start(ctx, "pipeline."+strings.ToLower(string(state)))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveStage(state, time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// stageFailed maps a stage error to the caller-facing outcome: cancellation and
// fatal backend errors are returned; everything else becomes a rejection.
func (p *Pipeline) stageFailed(ctx context.Context, r *run, err error) (*domain.PipelineResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("answer %s: %w", r.outcome.State, ctxErr)
	}
	if domain.IsFatalBackend(err) {
		return nil, fmt.Errorf("answer %s: %w", r.outcome.State, err)
	}
	slog.Warn("pipeline_stage_unavailable",
		"request_id", r.req.RequestID,
		"tenant_id", r.req.TenantID,
		"stage", string(r.outcome.State),
		"error", err,
	)
	return p.reject(r, domain.RejectUpstreamUnavailable), nil
}

func (p *Pipeline) reject(r *run, reason string) *domain.PipelineResult {
	r.outcome.RejectedAt = r.outcome.State
	r.outcome.Reason = reason
	return domain.RejectedResult(r.req.Question, r.outcome)
}

func (p *Pipeline) report(r *run, result *domain.PipelineResult) {
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveResult(result)
	}

	o := result.Outcome
	if o.Rejected() {
		slog.Info("pipeline_rejected",
			"request_id", r.req.RequestID,
			"tenant_id", r.req.TenantID,
			"stage", string(o.RejectedAt),
			"reason", o.Reason,
			"evidence", o.EvidenceCount,
			"verified", o.VerifiedCount,
			"claims", o.ClaimsTotal,
			"hallucinations", len(o.Hallucinations),
			"duration_ms", o.Duration.Milliseconds(),
		)
		if len(o.Hallucinations) > 0 {
			slog.Debug("pipeline_rejected_statements", "request_id", r.req.RequestID, "statements", o.Hallucinations)
		}
		return
	}

	slog.Info("pipeline_completed",
		"request_id", r.req.RequestID,
		"tenant_id", r.req.TenantID,
		"urs_score", result.URSScore,
		"claims", len(result.ClaimsUsed),
		"gaps", len(result.GapsDetected),
		"hallucinations", result.HallucinationsFound,
		"duration_ms", o.Duration.Milliseconds(),
	)
}

// retrievalQuery prepends the previous user turn to short follow-up questions.
// Generation stages always see the bare question.
func (p *Pipeline) retrievalQuery(req domain.AnswerRequest) string {
	if len(req.History) == 0 || len(splitWordsLower(req.Question)) >= p.opts.FollowupMaxTokens {
		return req.Question
	}
	for i := len(req.History) - 1; i >= 0; i-- {
		turn := req.History[i]
		content := strings.TrimSpace(turn.Content)
		if turn.Role != domain.RoleUser || content == "" || content == req.Question {
			continue
		}
		return content + " " + req.Question
	}
	return req.Question
}

// usedClaims returns the sourced claims cited in the answer, in citation order.
func usedClaims(sourced []domain.Claim, cited []string) []domain.Claim {
	byID := make(map[string]domain.Claim, len(sourced))
	for _, c := range sourced {
		byID[c.ID] = c
	}
	out := make([]domain.Claim, 0, len(cited))
	for _, id := range cited {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func sourcesFor(claims []domain.Claim, verified []domain.VerifiedEvidence) []domain.Source {
	wanted := make(map[string]struct{})
	for _, c := range claims {
		for _, id := range c.SourceIDs {
			wanted[id] = struct{}{}
		}
	}
	out := make([]domain.Source, 0, len(wanted))
	for _, item := range verified {
		if _, ok := wanted[item.ID]; !ok {
			continue
		}
		delete(wanted, item.ID)
		out = append(out, domain.Source{
			ID:       item.ID,
			Source:   item.Source,
			Score:    item.Score,
			Metadata: item.Metadata,
		})
	}
	return out
}
