package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"codearena/internal/db/repository"
	"codearena/internal/rating"
)

// Narrow views of the finalizer's collaborators.
type (
	stateStore interface {
		Get(ctx context.Context, matchID string) (*MatchState, error)
		Delete(ctx context.Context, matchID string, players []string) error
	}

	matchWriter interface {
		Upsert(ctx context.Context, rec repository.MatchRecord) error
		ClaimRatingApplied(ctx context.Context, matchID string) (bool, error)
	}

	submissionWriter interface {
		Upsert(ctx context.Context, rec repository.SubmissionRecord) error
	}

	playerStatsStore interface {
		EnsurePlayer(ctx context.Context, userID string, defaultRating int) error
		GetRating(ctx context.Context, userID string) (int, error)
		ApplyResult(ctx context.Context, userID, outcome string, ratingDelta int) error
	}

	statsInvalidator interface {
		Invalidate(ctx context.Context, userID string) error
	}

	reservationCleaner interface {
		Delete(ctx context.Context, userID string) error
	}
)

var finalizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "codearena_finalizations_total",
	Help: "Matches committed from the ephemeral store to the durable store.",
})

// Finalizer commits a finished match from the ephemeral store into the
// durable store exactly once, applying rating outcomes along the way.
// Safe to invoke concurrently for distinct matches and safe to retry for
// the same match: a missing ephemeral record is a no-op, durable writes
// are idempotent upserts, and rating increments are guarded by a
// compare-and-swap marker on the durable match row.
type Finalizer struct {
	state         stateStore
	matches       matchWriter
	submissions   submissionWriter
	players       playerStatsStore
	stats         statsInvalidator
	reservations  reservationCleaner
	defaultRating int
	logger        zerolog.Logger
}

// NewFinalizer creates a match finalizer.
func NewFinalizer(
	state stateStore,
	matches matchWriter,
	submissions submissionWriter,
	players playerStatsStore,
	stats statsInvalidator,
	reservations reservationCleaner,
	defaultRating int,
	logger zerolog.Logger,
) *Finalizer {
	if defaultRating <= 0 {
		defaultRating = 1200
	}
	return &Finalizer{
		state:         state,
		matches:       matches,
		submissions:   submissions,
		players:       players,
		stats:         stats,
		reservations:  reservations,
		defaultRating: defaultRating,
		logger:        logger.With().Str("component", "finalizer").Logger(),
	}
}

// Finalize commits matchID. Durable-write failures are returned before any
// ephemeral cleanup, so a retry sees the record intact and re-attempts.
func (f *Finalizer) Finalize(ctx context.Context, matchID string) error {
	state, err := f.state.Get(ctx, matchID)
	if errors.Is(err, ErrMatchNotFound) {
		f.logger.Debug().Str("match_id", matchID).Msg("no ephemeral state, already finalized or never existed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match state: %w", err)
	}

	submissionIDs, err := f.persistSubmissions(ctx, state)
	if err != nil {
		return err
	}

	endedAt := time.Now().UTC()
	if state.EndedAt != nil {
		endedAt = *state.EndedAt
	}
	isDraw := state.IsDraw || (state.WinnerID == "" && state.EndReason == EndReasonTimeout)

	rec := repository.MatchRecord{
		MatchID:       matchID,
		PlayerIDs:     state.Players,
		ProblemID:     state.ProblemID,
		Status:        StatusFinished,
		IsDraw:        isDraw,
		StartedAt:     state.StartedAt,
		EndedAt:       endedAt,
		SubmissionIDs: submissionIDs,
	}
	if state.WinnerID != "" {
		rec.WinnerID = &state.WinnerID
	}
	if state.EndReason != "" {
		rec.EndReason = &state.EndReason
	}
	if err := f.matches.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist match: %w", err)
	}

	f.applyRatings(ctx, state, isDraw)

	for _, userID := range state.Players {
		if err := f.stats.Invalidate(ctx, userID); err != nil {
			f.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate stats cache")
		}
	}

	if err := f.state.Delete(ctx, matchID, state.Players); err != nil {
		f.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to delete ephemeral state")
	}
	for _, userID := range state.Players {
		if err := f.reservations.Delete(ctx, userID); err != nil {
			f.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to delete reservation")
		}
	}

	finalizationsTotal.Inc()
	f.logger.Info().
		Str("match_id", matchID).
		Str("winner_id", state.WinnerID).
		Bool("is_draw", isDraw).
		Int("submissions", len(submissionIDs)).
		Msg("match finalized")
	return nil
}

// persistSubmissions upserts one normalized durable document per raw
// submission entry, each under a freshly generated ID.
func (f *Finalizer) persistSubmissions(ctx context.Context, state *MatchState) ([]string, error) {
	ids := make([]string, 0, len(state.Submissions))
	for _, ref := range state.Submissions {
		rec := repository.SubmissionRecord{
			SubmissionID: uuid.New().String(),
			MatchID:      state.MatchID,
			ProblemID:    state.ProblemID,
		}
		switch ref.Kind {
		case RefKindDetail:
			d := ref.Detail
			if d == nil {
				continue
			}
			results, err := json.Marshal(d.TestResults)
			if err != nil {
				return nil, fmt.Errorf("marshal test results: %w", err)
			}
			rec.UserID = d.UserID
			rec.Language = d.Language
			rec.SourceCode = d.SourceCode
			rec.Passed = d.Passed
			rec.TestResults = results
			rec.RuntimeMS = d.RuntimeMS
			rec.MemoryKB = d.MemoryKB
			rec.ComplexityOK = d.ComplexityOK
			if !d.SubmittedAt.IsZero() {
				rec.CreatedAt = d.SubmittedAt
			}
		default:
			rec.ExternalRef = ref.Token
		}

		if err := f.submissions.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist submission: %w", err)
		}
		ids = append(ids, rec.SubmissionID)
	}
	return ids, nil
}

// applyRatings runs step 5: exactly-two-player matches get rating and
// outcome-counter increments, guarded by the rating_applied CAS so a
// retried finalize never double-counts. Errors past the claim are logged,
// not returned: the claim cannot be handed back, and the retry path would
// skip this step anyway.
func (f *Finalizer) applyRatings(ctx context.Context, state *MatchState, isDraw bool) {
	if len(state.Players) != 2 {
		f.logger.Warn().
			Str("match_id", state.MatchID).
			Int("player_count", len(state.Players)).
			Msg("unexpected player count, skipping rating update")
		return
	}

	claimed, err := f.matches.ClaimRatingApplied(ctx, state.MatchID)
	if err != nil {
		f.logger.Error().Err(err).Str("match_id", state.MatchID).Msg("failed to claim rating marker")
		return
	}
	if !claimed {
		f.logger.Debug().Str("match_id", state.MatchID).Msg("rating already applied")
		return
	}

	a, b := state.Players[0], state.Players[1]
	for _, userID := range state.Players {
		if err := f.players.EnsurePlayer(ctx, userID, f.defaultRating); err != nil {
			f.logger.Error().Err(err).Str("user_id", userID).Msg("failed to seed player stats")
			return
		}
	}

	deltas := map[string]int{}
	if ca, okA := state.RatingChanges[a]; okA {
		if cb, okB := state.RatingChanges[b]; okB {
			// Pre-computed by the execution service, difficulty adjustments
			// included.
			deltas[a], deltas[b] = ca.Delta, cb.Delta
		}
	}
	if len(deltas) == 0 {
		ra, err := f.players.GetRating(ctx, a)
		if err != nil {
			f.logger.Error().Err(err).Str("user_id", a).Msg("failed to read rating")
			return
		}
		rb, err := f.players.GetRating(ctx, b)
		if err != nil {
			f.logger.Error().Err(err).Str("user_id", b).Msg("failed to read rating")
			return
		}
		switch {
		case isDraw:
			deltas[a], deltas[b] = rating.DrawDeltas(ra, rb)
		case state.WinnerID == a:
			deltas[a], deltas[b] = rating.WinLoseDeltas(ra, rb)
		case state.WinnerID == b:
			deltas[b], deltas[a] = rating.WinLoseDeltas(rb, ra)
		default:
			f.logger.Warn().
				Str("match_id", state.MatchID).
				Str("winner_id", state.WinnerID).
				Msg("winner is not a match participant, skipping rating update")
			return
		}
	}

	for _, userID := range state.Players {
		outcome := repository.OutcomeDraw
		if !isDraw {
			if userID == state.WinnerID {
				outcome = repository.OutcomeWin
			} else {
				outcome = repository.OutcomeLoss
			}
		}
		if err := f.players.ApplyResult(ctx, userID, outcome, deltas[userID]); err != nil {
			f.logger.Error().Err(err).
				Str("user_id", userID).
				Str("match_id", state.MatchID).
				Msg("failed to apply rating result")
		}
	}
}
