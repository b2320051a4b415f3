package repository

import (
	"context"
	"fmt"
	"time"
)

// MatchRecord is the durable form of a finished match, upserted by match ID
// so a retried finalize is idempotent.
type MatchRecord struct {
	MatchID       string
	PlayerIDs     []string
	ProblemID     string
	Status        string
	WinnerID      *string
	IsDraw        bool
	StartedAt     time.Time
	EndedAt       time.Time
	EndReason     *string
	SubmissionIDs []string
}

// MatchRepository persists durable match records.
type MatchRepository struct {
	db DBTX
}

// NewMatchRepository constructs a match repository.
func NewMatchRepository(db DBTX) *MatchRepository {
	return &MatchRepository{db: db}
}

// Upsert writes the record keyed by match_id, replacing any previous
// attempt's fields. rating_applied is intentionally left untouched.
func (r *MatchRepository) Upsert(ctx context.Context, rec MatchRecord) error {
	const q = `
		INSERT INTO matches (
			match_id, player_ids, problem_id, status, winner_id, is_draw,
			started_at, ended_at, end_reason, submission_ids, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (match_id) DO UPDATE SET
			player_ids     = EXCLUDED.player_ids,
			problem_id     = EXCLUDED.problem_id,
			status         = EXCLUDED.status,
			winner_id      = EXCLUDED.winner_id,
			is_draw        = EXCLUDED.is_draw,
			started_at     = EXCLUDED.started_at,
			ended_at       = EXCLUDED.ended_at,
			end_reason     = EXCLUDED.end_reason,
			submission_ids = EXCLUDED.submission_ids,
			updated_at     = now()`

	_, err := r.db.Exec(ctx, q,
		rec.MatchID, rec.PlayerIDs, rec.ProblemID, rec.Status, rec.WinnerID,
		rec.IsDraw, rec.StartedAt, rec.EndedAt, rec.EndReason, rec.SubmissionIDs)
	if err != nil {
		return fmt.Errorf("upsert match %s: %w", rec.MatchID, err)
	}
	return nil
}

// ClaimRatingApplied flips the rating_applied marker via compare-and-swap.
// It returns true when this caller won the claim and must apply the rating
// increments; false means a previous finalize already applied them.
func (r *MatchRepository) ClaimRatingApplied(ctx context.Context, matchID string) (bool, error) {
	const q = `UPDATE matches SET rating_applied = TRUE, updated_at = now()
		WHERE match_id = $1 AND NOT rating_applied`

	tag, err := r.db.Exec(ctx, q, matchID)
	if err != nil {
		return false, fmt.Errorf("claim rating_applied for %s: %w", matchID, err)
	}
	return tag.RowsAffected() == 1, nil
}
