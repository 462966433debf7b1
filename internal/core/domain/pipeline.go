package domain

import "time"

type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnswerRequest struct {
	Question  string             `json:"question"`
	TenantID  string             `json:"tenantId"`
	UserID    string             `json:"userId,omitempty"`
	History   []ConversationTurn `json:"conversationHistory,omitempty"`
	RequestID string             `json:"-"`
}

type PipelineState string

const (
	StateRetrieving   PipelineState = "RETRIEVING"
	StateVerifying    PipelineState = "VERIFYING"
	StateExtracting   PipelineState = "EXTRACTING"
	StateGapChecking  PipelineState = "GAP_CHECKING"
	StateSynthesizing PipelineState = "SYNTHESIZING"
	StateFactChecking PipelineState = "FACT_CHECKING"
	StateScoring      PipelineState = "SCORING"
	StateDone         PipelineState = "DONE"
	StateRejected     PipelineState = "REJECTED"
)

const (
	RejectNoEvidence          = "no evidence"
	RejectNoRelevantEvidence  = "no relevant evidence"
	RejectNoFactualClaims     = "no factual claims"
	RejectLowReliability      = "reliability below threshold"
	RejectUpstreamUnavailable = "upstream unavailable"
)

// Outcome is internal telemetry. It is never serialized to callers because
// reasons may reference unverified content.
type Outcome struct {
	State          PipelineState `json:"state"`
	RejectedAt     PipelineState `json:"rejected_at,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	EvidenceCount  int           `json:"evidence_count"`
	VerifiedCount  int           `json:"verified_count"`
	ClaimsTotal    int           `json:"claims_total"`
	Hallucinations []string      `json:"-"`
	Duration       time.Duration `json:"duration"`
}

func (o Outcome) Rejected() bool {
	return o.State == StateRejected
}

// PipelineResult is the only externally visible contract of the answering pipeline.
type PipelineResult struct {
	Answer              string   `json:"answer"`
	URSScore            int      `json:"ursScore"`
	URSExplanation      string   `json:"ursExplanation"`
	ClaimsUsed          []Claim  `json:"claimsUsed"`
	Sources             []Source `json:"sources"`
	HallucinationsFound int      `json:"hallucinationsFound"`
	GapsDetected        []Gap    `json:"gapsDetected"`

	Outcome Outcome `json:"-"`
}

// RejectedResult builds the fixed, content-free result returned for every rejection.
func RejectedResult(question string, outcome Outcome) *PipelineResult {
	outcome.State = StateRejected
	return &PipelineResult{
		Answer:         InsufficientInformationMessage,
		URSScore:       0,
		URSExplanation: "",
		ClaimsUsed:     []Claim{},
		Sources:        []Source{},
		GapsDetected:   []Gap{WholeQuestionGap(question)},
		Outcome:        outcome,
	}
}

// AnswerAudit is the telemetry record written after each pipeline run.
type AnswerAudit struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id"`
	TenantID       string        `json:"tenant_id"`
	UserID         string        `json:"user_id,omitempty"`
	QuestionHash   string        `json:"question_hash"`
	State          PipelineState `json:"state"`
	RejectedAt     PipelineState `json:"rejected_at,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	URSScore       int           `json:"urs_score"`
	ClaimsTotal    int           `json:"claims_total"`
	ClaimsUsed     int           `json:"claims_used"`
	Gaps           int           `json:"gaps"`
	Hallucinations int           `json:"hallucinations"`
	DurationMS     int64         `json:"duration_ms"`
	CreatedAt      time.Time     `json:"created_at"`
}
