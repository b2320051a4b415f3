// Package queue holds the rating-sorted waiting set for matchmaking.
// The set lives in a Redis sorted set so multiple scheduler instances can
// race safely: the only correctness boundary is the atomic pair claim.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"codearena/internal/match"
)

const waitingKey = "mm:queue"

// ErrNotQueued is returned when removing a user who is not waiting.
var ErrNotQueued = errors.New("user not queued")

// claimScript removes both members only when both are still present.
// A partial removal would strand one player, so the claim is all-or-nothing.
const claimScript = `
if redis.call("ZSCORE", KEYS[1], ARGV[1]) and redis.call("ZSCORE", KEYS[1], ARGV[2]) then
	return redis.call("ZREM", KEYS[1], ARGV[1], ARGV[2])
end
return 0
`

// Store is the Redis-backed waiting structure, ordered by rating.
type Store struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewStore creates a queue store.
func NewStore(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{
		redis:  client,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue adds a waiting player. Members are unique per user ID; a repeat
// enqueue only refreshes the rating score.
func (s *Store) Enqueue(ctx context.Context, entry match.QueueEntry) error {
	err := s.redis.ZAdd(ctx, waitingKey, redis.Z{
		Score:  float64(entry.Rating),
		Member: entry.UserID,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.UserID, err)
	}
	s.logger.Info().Str("user_id", entry.UserID).Int("rating", entry.Rating).Msg("player enqueued")
	return nil
}

// Dequeue removes a waiting player.
func (s *Store) Dequeue(ctx context.Context, userID string) error {
	removed, err := s.redis.ZRem(ctx, waitingKey, userID).Result()
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", userID, err)
	}
	if removed == 0 {
		return ErrNotQueued
	}
	s.logger.Info().Str("user_id", userID).Msg("player dequeued")
	return nil
}

// Peek returns up to limit waiting players ordered by ascending rating.
func (s *Store) Peek(ctx context.Context, limit int) ([]match.QueueEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	members, err := s.redis.ZRangeWithScores(ctx, waitingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}

	entries := make([]match.QueueEntry, 0, len(members))
	for _, z := range members {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, match.QueueEntry{UserID: id, Rating: int(z.Score)})
	}
	return entries, nil
}

// ClaimPair atomically removes both users from the waiting set. It returns
// false without side effects when either one is already gone, which is how
// concurrent schedulers lose the race cleanly.
func (s *Store) ClaimPair(ctx context.Context, userA, userB string) (bool, error) {
	res, err := s.redis.Eval(ctx, claimScript, []string{waitingKey}, userA, userB).Int64()
	if err != nil {
		return false, fmt.Errorf("claim pair: %w", err)
	}
	return res == 2, nil
}

// Restore re-inserts entries at their original ratings, compensating a
// pairing whose downstream call failed.
func (s *Store) Restore(ctx context.Context, entries ...match.QueueEntry) error {
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		members = append(members, redis.Z{Score: float64(e.Rating), Member: e.UserID})
	}
	if len(members) == 0 {
		return nil
	}
	if err := s.redis.ZAdd(ctx, waitingKey, members...).Err(); err != nil {
		return fmt.Errorf("restore entries: %w", err)
	}
	return nil
}
