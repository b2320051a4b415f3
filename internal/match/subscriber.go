package match

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"codearena/internal/identity"
)

// Event types published by the execution service.
const (
	EventCodeUpdate    = "code_update"
	EventSubmission    = "submission"
	EventMatchFinished = "match_finished"
)

// Event is the wire form of an execution-service event.
type Event struct {
	Type          string                  `json:"type"`
	MatchID       string                  `json:"match_id"`
	UserID        string                  `json:"user_id,omitempty"`
	Language      string                  `json:"language,omitempty"`
	Code          string                  `json:"code,omitempty"`
	Submission    json.RawMessage         `json:"submission,omitempty"`
	WinnerID      string                  `json:"winner_id,omitempty"`
	IsDraw        bool                    `json:"is_draw,omitempty"`
	EndReason     string                  `json:"end_reason,omitempty"`
	RatingChanges map[string]RatingChange `json:"rating_changes,omitempty"`
}

type matchFinalizer interface {
	Finalize(ctx context.Context, matchID string) error
}

// EventSubscriber consumes execution-service events over Redis Pub/Sub and
// routes them into the match state cache, triggering finalization when a
// match finishes.
type EventSubscriber struct {
	redis     *redis.Client
	cache     *StateCache
	finalizer matchFinalizer
	channel   string
	logger    zerolog.Logger
}

// NewEventSubscriber creates the event subscriber worker.
func NewEventSubscriber(client *redis.Client, cache *StateCache, finalizer matchFinalizer, channel string, logger zerolog.Logger) *EventSubscriber {
	if channel == "" {
		channel = "arena:events"
	}
	return &EventSubscriber{
		redis:     client,
		cache:     cache,
		finalizer: finalizer,
		channel:   channel,
		logger:    logger.With().Str("component", "event_subscriber").Logger(),
	}
}

// Run subscribes to the event channel and blocks until the context is
// cancelled.
func (s *EventSubscriber) Run(ctx context.Context) error {
	sub := s.redis.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *EventSubscriber) handle(ctx context.Context, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode event payload")
		return
	}
	if evt.MatchID == "" {
		s.logger.Warn().Str("type", evt.Type).Msg("event without match id")
		return
	}

	switch evt.Type {
	case EventCodeUpdate:
		userID := identity.Normalize(evt.UserID)
		if err := s.cache.AppendCode(ctx, evt.MatchID, userID, evt.Language, evt.Code); err != nil {
			s.logger.Warn().Err(err).Str("match_id", evt.MatchID).Msg("failed to append code")
		}

	case EventSubmission:
		ref := NormalizeSubmissionRef(evt.Submission)
		if ref.Kind == RefKindDetail && ref.Detail != nil {
			ref.Detail.UserID = identity.Normalize(ref.Detail.UserID)
		}
		if err := s.cache.AppendSubmission(ctx, evt.MatchID, ref); err != nil {
			s.logger.Warn().Err(err).Str("match_id", evt.MatchID).Msg("failed to append submission")
		}

	case EventMatchFinished:
		params := FinishParams{
			WinnerID:      identity.Normalize(evt.WinnerID),
			IsDraw:        evt.IsDraw,
			EndReason:     evt.EndReason,
			RatingChanges: evt.RatingChanges,
		}
		if err := s.cache.Finish(ctx, evt.MatchID, params); err != nil {
			s.logger.Warn().Err(err).Str("match_id", evt.MatchID).Msg("failed to mark match finished")
		}
		if err := s.finalizer.Finalize(ctx, evt.MatchID); err != nil {
			s.logger.Error().Err(err).Str("match_id", evt.MatchID).Msg("finalize failed, ephemeral state kept for retry")
		}

	default:
		s.logger.Warn().Str("type", evt.Type).Msg("unknown event type")
	}
}
