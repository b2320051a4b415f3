package problem

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Repository supplies verified problems from the durable store.
type Repository interface {
	// RandomVerified returns one verified problem of the given difficulty
	// sampled uniformly at random, or nil when the pool is empty.
	RandomVerified(ctx context.Context, difficulty string) (*Problem, error)
}

// SelectorOptions configures selector behavior.
type SelectorOptions struct {
	// Rand overrides the randomness source (tests).
	Rand *rand.Rand
}

// Selector picks a problem for a freshly paired match based on the players'
// average rating.
type Selector struct {
	repo   Repository
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a problem selector.
func NewSelector(repo Repository, logger zerolog.Logger, opts SelectorOptions) *Selector {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		repo:   repo,
		logger: logger.With().Str("component", "problem_selector").Logger(),
		rng:    rng,
	}
}

// ChooseDifficulty maps the average rating of the two players to a
// difficulty band, with a random spread inside each band so matches at the
// same rating do not always get the same tier.
func (s *Selector) ChooseDifficulty(ratingA, ratingB int) string {
	avg := float64(ratingA+ratingB) / 2

	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()

	switch {
	case avg < 1000:
		if r < 0.8 {
			return DifficultyEasy
		}
		return DifficultyMedium
	case avg < 1500:
		if r < 0.15 {
			return DifficultyEasy
		}
		if r > 0.85 {
			return DifficultyHard
		}
		return DifficultyMedium
	default:
		if r < 0.8 {
			return DifficultyHard
		}
		return DifficultyMedium
	}
}

// SelectRandomProblem samples one verified problem of the given difficulty.
// An empty pool yields ErrNoProblemFound.
func (s *Selector) SelectRandomProblem(ctx context.Context, difficulty string) (*Problem, error) {
	p, err := s.repo.RandomVerified(ctx, difficulty)
	if err != nil {
		return nil, fmt.Errorf("sample problem: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("difficulty %s: %w", difficulty, ErrNoProblemFound)
	}
	return p, nil
}

// SelectForMatch chooses a difficulty for the pairing and samples a problem
// from it.
func (s *Selector) SelectForMatch(ctx context.Context, ratingA, ratingB int) (*Problem, error) {
	difficulty := s.ChooseDifficulty(ratingA, ratingB)
	p, err := s.SelectRandomProblem(ctx, difficulty)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("difficulty", difficulty).
		Str("problem_id", p.ID).
		Int("rating_a", ratingA).
		Int("rating_b", ratingB).
		Msg("problem selected")
	return p, nil
}
