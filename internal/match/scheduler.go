package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"codearena/internal/problem"
)

// Narrow views of the scheduler's collaborators, so ticks are testable
// without Redis or the room service.
type (
	waitingStore interface {
		Peek(ctx context.Context, limit int) ([]QueueEntry, error)
		ClaimPair(ctx context.Context, userA, userB string) (bool, error)
		Restore(ctx context.Context, entries ...QueueEntry) error
	}

	problemPicker interface {
		SelectForMatch(ctx context.Context, ratingA, ratingB int) (*problem.Problem, error)
	}

	matchCreator interface {
		CreateMatch(ctx context.Context, players []string, problemID string) (string, error)
	}

	stateIniter interface {
		Init(ctx context.Context, matchID, roomID, problemID string, players []string, startedAt time.Time) error
	}

	reservationWriter interface {
		Create(ctx context.Context, r Reservation) error
	}
)

var (
	pairingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codearena_pairings_total",
		Help: "Successfully materialized matchmaking pairings.",
	})
	pairingFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codearena_pairing_failures_total",
		Help: "Pairing attempts that failed after claiming a pair.",
	})
)

// Scheduler periodically pairs the two closest-rated waiting players and
// materializes a match for them. Multiple instances may run concurrently;
// the atomic pair claim in the waiting store is the sole correctness
// boundary preventing double-booking.
type Scheduler struct {
	queue        waitingStore
	selector     problemPicker
	exec         matchCreator
	state        stateIniter
	reservations reservationWriter
	interval     time.Duration
	scanLimit    int
	logger       zerolog.Logger
}

// NewScheduler creates a pairing scheduler.
func NewScheduler(
	queue waitingStore,
	selector problemPicker,
	exec matchCreator,
	state stateIniter,
	reservations reservationWriter,
	interval time.Duration,
	scanLimit int,
	logger zerolog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if scanLimit <= 0 {
		scanLimit = 20
	}
	return &Scheduler{
		queue:        queue,
		selector:     selector,
		exec:         exec,
		state:        state,
		reservations: reservations,
		interval:     interval,
		scanLimit:    scanLimit,
		logger:       logger.With().Str("component", "pairing_scheduler").Logger(),
	}
}

// Run blocks until context cancellation, pairing on a fixed interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("pairing tick failed")
			}
		}
	}
}

// tick runs one pairing attempt. A tick that finds fewer than two waiting
// players, or loses the claim race to another scheduler, is a clean no-op.
func (s *Scheduler) tick(ctx context.Context) error {
	entries, err := s.queue.Peek(ctx, s.scanLimit)
	if err != nil {
		return err
	}
	if len(entries) < 2 {
		return nil
	}

	a, b := choosePair(entries)

	claimed, err := s.queue.ClaimPair(ctx, a.UserID, b.UserID)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug().
			Str("user_a", a.UserID).
			Str("user_b", b.UserID).
			Msg("pair already claimed by another scheduler")
		return nil
	}

	if err := s.materialize(ctx, a, b); err != nil {
		pairingFailuresTotal.Inc()
		// Compensate: both players go back at their original ratings.
		if restoreErr := s.queue.Restore(ctx, a, b); restoreErr != nil {
			s.logger.Error().Err(restoreErr).
				Str("user_a", a.UserID).
				Str("user_b", b.UserID).
				Msg("failed to restore claimed pair after pairing failure")
		}
		return err
	}

	pairingsTotal.Inc()
	return nil
}

// choosePair sorts candidates ascending by rating and scans adjacent pairs
// only, selecting the minimum rating gap. Ties go to the first pair found
// in scan order.
func choosePair(entries []QueueEntry) (QueueEntry, QueueEntry) {
	sorted := make([]QueueEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rating < sorted[j].Rating })

	bestIdx := 0
	bestGap := sorted[1].Rating - sorted[0].Rating
	for i := 1; i < len(sorted)-1; i++ {
		if gap := sorted[i+1].Rating - sorted[i].Rating; gap < bestGap {
			bestGap = gap
			bestIdx = i
		}
	}
	return sorted[bestIdx], sorted[bestIdx+1]
}

func (s *Scheduler) materialize(ctx context.Context, a, b QueueEntry) error {
	prob, err := s.selector.SelectForMatch(ctx, a.Rating, b.Rating)
	if err != nil {
		if errors.Is(err, problem.ErrNoProblemFound) {
			s.logger.Warn().
				Int("rating_a", a.Rating).
				Int("rating_b", b.Rating).
				Msg("no problem available for pairing")
		}
		return err
	}

	matchID := uuid.New().String()
	players := []string{a.UserID, b.UserID}

	roomID, err := s.exec.CreateMatch(ctx, players, prob.ID)
	if err != nil {
		return err
	}

	// Past this point the room exists, so the pair is never re-queued:
	// a failed state write only means finalize will later no-op.
	startedAt := time.Now().UTC()
	if err := s.state.Init(ctx, matchID, roomID, prob.ID, players, startedAt); err != nil {
		s.logger.Error().Err(err).Str("match_id", matchID).Msg("failed to init match state")
	}

	for _, userID := range players {
		resv := Reservation{
			Token:     uuid.New().String(),
			UserID:    userID,
			MatchID:   matchID,
			RoomID:    roomID,
			ProblemID: prob.ID,
		}
		if err := s.reservations.Create(ctx, resv); err != nil {
			s.logger.Warn().Err(err).
				Str("user_id", userID).
				Str("match_id", matchID).
				Msg("failed to store reservation")
		}
	}

	s.logger.Info().
		Str("match_id", matchID).
		Str("room_id", roomID).
		Str("problem_id", prob.ID).
		Str("user_a", a.UserID).
		Str("user_b", b.UserID).
		Int("rating_gap", absInt(a.Rating-b.Rating)).
		Msg("pair matched")
	return nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
