package repository

import (
	"context"
	"fmt"
)

// Match outcomes from a single player's perspective.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)

// PlayerStatsRecord embeds a player's lifetime aggregates.
// Invariant: Wins+Losses+Draws == TotalMatches.
type PlayerStatsRecord struct {
	UserID       string
	Rating       int
	TotalMatches int
	Wins         int
	Losses       int
	Draws        int
}

// PlayerRepository mutates player stats via seed-then-increment only, so
// concurrent finalizes for different matches of the same player compose.
type PlayerRepository struct {
	db DBTX
}

// NewPlayerRepository constructs a player repository.
func NewPlayerRepository(db DBTX) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// EnsurePlayer seeds a stats row with defaults if absent.
func (r *PlayerRepository) EnsurePlayer(ctx context.Context, userID string, defaultRating int) error {
	const q = `INSERT INTO players (user_id, rating) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, q, userID, defaultRating); err != nil {
		return fmt.Errorf("ensure player %s: %w", userID, err)
	}
	return nil
}

// GetRating returns the player's current rating.
func (r *PlayerRepository) GetRating(ctx context.Context, userID string) (int, error) {
	var rating int
	err := r.db.QueryRow(ctx, `SELECT rating FROM players WHERE user_id = $1`, userID).Scan(&rating)
	if err != nil {
		return 0, fmt.Errorf("get rating for %s: %w", userID, err)
	}
	return rating, nil
}

// ApplyResult atomically increments the outcome counter, total matches and
// rating. Never a full-row replace.
func (r *PlayerRepository) ApplyResult(ctx context.Context, userID, outcome string, ratingDelta int) error {
	var column string
	switch outcome {
	case OutcomeWin:
		column = "wins"
	case OutcomeLoss:
		column = "losses"
	case OutcomeDraw:
		column = "draws"
	default:
		return fmt.Errorf("apply result for %s: unknown outcome %q", userID, outcome)
	}

	q := fmt.Sprintf(`UPDATE players SET
			%s = %s + 1,
			total_matches = total_matches + 1,
			rating = rating + $2,
			updated_at = now()
		WHERE user_id = $1`, column, column)

	tag, err := r.db.Exec(ctx, q, userID, ratingDelta)
	if err != nil {
		return fmt.Errorf("apply %s result for %s: %w", outcome, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply %s result for %s: player row missing", outcome, userID)
	}
	return nil
}

// GetStats returns the full aggregate row.
func (r *PlayerRepository) GetStats(ctx context.Context, userID string) (*PlayerStatsRecord, error) {
	const q = `SELECT user_id, rating, total_matches, wins, losses, draws
		FROM players WHERE user_id = $1`

	rec := &PlayerStatsRecord{}
	err := r.db.QueryRow(ctx, q, userID).Scan(
		&rec.UserID, &rec.Rating, &rec.TotalMatches, &rec.Wins, &rec.Losses, &rec.Draws)
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", userID, err)
	}
	return rec, nil
}
