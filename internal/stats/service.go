package stats

import (
	"context"

	"github.com/rs/zerolog"

	"codearena/internal/db/repository"
)

type statsRepo interface {
	GetStats(ctx context.Context, userID string) (*repository.PlayerStatsRecord, error)
}

type statsCache interface {
	Get(ctx context.Context, userID string) (*PlayerStats, error)
	Set(ctx context.Context, s PlayerStats) error
}

// Service reads player aggregates through the cache, falling back to the
// durable store on a miss. Cache errors degrade to a durable read.
type Service struct {
	cache  statsCache
	repo   statsRepo
	logger zerolog.Logger
}

// NewService creates a stats service.
func NewService(cache statsCache, repo statsRepo, logger zerolog.Logger) *Service {
	return &Service{
		cache:  cache,
		repo:   repo,
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// PlayerStats returns the aggregate view for a player.
func (s *Service) PlayerStats(ctx context.Context, userID string) (*PlayerStats, error) {
	cached, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("stats cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	rec, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := PlayerStats{
		UserID:       rec.UserID,
		Rating:       rec.Rating,
		TotalMatches: rec.TotalMatches,
		Wins:         rec.Wins,
		Losses:       rec.Losses,
		Draws:        rec.Draws,
	}
	if err := s.cache.Set(ctx, out); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("stats cache write failed")
	}
	return &out, nil
}
