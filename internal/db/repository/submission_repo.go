package repository

import (
	"context"
	"fmt"
	"time"
)

// SubmissionRecord is one normalized durable submission document.
// Token-only references from the execution service keep their token in
// ExternalRef with the remaining fields zero-valued.
type SubmissionRecord struct {
	SubmissionID string
	MatchID      string
	UserID       string
	ProblemID    string
	Language     string
	SourceCode   string
	Passed       bool
	TestResults  []byte // JSON array of per-test outcomes
	RuntimeMS    int
	MemoryKB     int
	ComplexityOK bool
	ExternalRef  string
	CreatedAt    time.Time
}

// SubmissionRepository persists durable submission records.
type SubmissionRepository struct {
	db DBTX
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db DBTX) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Upsert writes the record keyed by submission_id; repeating the same ID is
// a no-op overwrite.
func (r *SubmissionRepository) Upsert(ctx context.Context, rec SubmissionRecord) error {
	const q = `
		INSERT INTO submissions (
			submission_id, match_id, user_id, problem_id, language, source_code,
			passed, test_results, runtime_ms, memory_kb, complexity_ok,
			external_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (submission_id) DO UPDATE SET
			passed        = EXCLUDED.passed,
			test_results  = EXCLUDED.test_results,
			runtime_ms    = EXCLUDED.runtime_ms,
			memory_kb     = EXCLUDED.memory_kb,
			complexity_ok = EXCLUDED.complexity_ok`

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, q,
		rec.SubmissionID, rec.MatchID, rec.UserID, rec.ProblemID, rec.Language,
		rec.SourceCode, rec.Passed, rec.TestResults, rec.RuntimeMS, rec.MemoryKB,
		rec.ComplexityOK, rec.ExternalRef, created)
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", rec.SubmissionID, err)
	}
	return nil
}
