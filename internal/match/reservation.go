package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrReservationNotFound signals no reservation for the user or token.
var ErrReservationNotFound = errors.New("reservation not found")

// ReservationStore keeps short-lived match-discovery tokens in Redis,
// indexed by both user (discovery) and token (consume).
type ReservationStore struct {
	redis  *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
}

// NewReservationStore creates a reservation store.
func NewReservationStore(client *redis.Client, logger zerolog.Logger, ttl time.Duration) *ReservationStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ReservationStore{
		redis:  client,
		logger: logger.With().Str("component", "reservations").Logger(),
		ttl:    ttl,
	}
}

func reservationUserKey(userID string) string { return "mm:resv:user:" + userID }

func reservationTokenKey(token string) string { return "mm:resv:token:" + token }

// Create stores the reservation under both indexes.
func (s *ReservationStore) Create(ctx context.Context, r Reservation) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, reservationUserKey(r.UserID), data, s.ttl)
	pipe.Set(ctx, reservationTokenKey(r.Token), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store reservation for %s: %w", r.UserID, err)
	}
	return nil
}

// TokenFor returns the reservation token for a waiting-or-paired user.
func (s *ReservationStore) TokenFor(ctx context.Context, userID string) (string, error) {
	data, err := s.redis.Get(ctx, reservationUserKey(userID)).Bytes()
	if err == redis.Nil {
		return "", ErrReservationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get reservation for %s: %w", userID, err)
	}

	var r Reservation
	if err := json.Unmarshal(data, &r); err != nil {
		return "", fmt.Errorf("decode reservation for %s: %w", userID, err)
	}
	return r.Token, nil
}

// Consume redeems a token at most once: the token index entry is deleted
// atomically with the read. The user index entry remains until finalize
// cleanup so reconnects can re-discover the token.
func (s *ReservationStore) Consume(ctx context.Context, token string) (*Reservation, error) {
	data, err := s.redis.GetDel(ctx, reservationTokenKey(token)).Bytes()
	if err == redis.Nil {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume reservation token: %w", err)
	}

	var r Reservation
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode reservation: %w", err)
	}
	s.logger.Info().Str("user_id", r.UserID).Str("match_id", r.MatchID).Msg("reservation consumed")
	return &r, nil
}

// Delete removes a user's reservation from both indexes. Used by queue
// clearing and as the finalize safety net.
func (s *ReservationStore) Delete(ctx context.Context, userID string) error {
	data, err := s.redis.Get(ctx, reservationUserKey(userID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reservation for cleanup %s: %w", userID, err)
	}

	keys := []string{reservationUserKey(userID)}
	var r Reservation
	if err := json.Unmarshal(data, &r); err == nil && r.Token != "" {
		keys = append(keys, reservationTokenKey(r.Token))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete reservation for %s: %w", userID, err)
	}
	return nil
}
