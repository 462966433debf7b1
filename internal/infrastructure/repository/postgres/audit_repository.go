package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// AuditRepository stores one row per answered request. Question text is never stored.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS answer_audit (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	user_id TEXT,
	question_hash TEXT NOT NULL,
	state TEXT NOT NULL,
	rejected_at TEXT,
	reason TEXT,
	urs_score INTEGER NOT NULL DEFAULT 0,
	claims_total INTEGER NOT NULL DEFAULT 0,
	claims_used INTEGER NOT NULL DEFAULT 0,
	gaps INTEGER NOT NULL DEFAULT 0,
	hallucinations INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_audit_tenant_created ON answer_audit(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_answer_audit_question_hash ON answer_audit(question_hash);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, audit domain.AnswerAudit) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO answer_audit (
	id, request_id, tenant_id, user_id, question_hash, state, rejected_at, reason,
	urs_score, claims_total, claims_used, gaps, hallucinations, duration_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING
`,
		audit.ID, audit.RequestID, audit.TenantID, audit.UserID, audit.QuestionHash,
		string(audit.State), string(audit.RejectedAt), audit.Reason,
		audit.URSScore, audit.ClaimsTotal, audit.ClaimsUsed, audit.Gaps, audit.Hallucinations,
		audit.DurationMS, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert answer audit: %w", err)
	}
	return nil
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// Recent lists a tenant's latest audit rows, newest first.
func (r *AuditRepository) Recent(ctx context.Context, tenantID string, limit int) ([]domain.AnswerAudit, error) {
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, request_id, tenant_id, COALESCE(user_id, ''), question_hash, state, COALESCE(rejected_at, ''),
	COALESCE(reason, ''), urs_score, claims_total, claims_used, gaps, hallucinations, duration_ms, created_at
FROM answer_audit
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2
`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query answer audit: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnswerAudit, 0, limit)
	for rows.Next() {
		var a domain.AnswerAudit
		var state, rejectedAt string
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.TenantID, &a.UserID, &a.QuestionHash, &state, &rejectedAt,
			&a.Reason, &a.URSScore, &a.ClaimsTotal, &a.ClaimsUsed, &a.Gaps, &a.Hallucinations,
			&a.DurationMS, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan answer audit: %w", err)
		}
		a.State = domain.PipelineState(state)
		a.RejectedAt = domain.PipelineState(rejectedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer audit: %w", err)
	}
	return out, nil
}
