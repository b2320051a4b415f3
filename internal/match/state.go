package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const activeMatchesKey = "matches:active"

// StateCache holds the ephemeral per-match document in Redis. Hot fields
// use native structures (list append, hash-field set) instead of
// whole-document overwrite, so independent writers on the same match
// cannot lose each other's updates.
type StateCache struct {
	redis  *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
}

// NewStateCache creates a match state cache.
func NewStateCache(client *redis.Client, logger zerolog.Logger, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &StateCache{
		redis:  client,
		logger: logger.With().Str("component", "match_state").Logger(),
		ttl:    ttl,
	}
}

func matchKey(matchID string) string       { return "match:" + matchID }
func submissionsKey(matchID string) string { return "match:" + matchID + ":submissions" }
func linesKey(matchID string) string       { return "match:" + matchID + ":lines" }

// codeKey holds one language→code hash per (match,user) so code survives
// client reconnects.
func codeKey(matchID, userID string) string { return "match:" + matchID + ":code:" + userID }

// Init creates the ephemeral record with status ongoing and registers the
// match in the active set.
func (c *StateCache) Init(ctx context.Context, matchID, roomID, problemID string, players []string, startedAt time.Time) error {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	playersJSON, err := json.Marshal(players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}

	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, matchKey(matchID), map[string]interface{}{
		"room_id":    roomID,
		"problem_id": problemID,
		"status":     StatusOngoing,
		"players":    playersJSON,
		"started_at": startedAt.Format(time.RFC3339Nano),
		"is_draw":    "0",
	})
	pipe.Expire(ctx, matchKey(matchID), c.ttl)
	pipe.SAdd(ctx, activeMatchesKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init match %s: %w", matchID, err)
	}

	c.logger.Info().
		Str("match_id", matchID).
		Str("problem_id", problemID).
		Strs("players", players).
		Msg("match state initialized")
	return nil
}

// AppendCode merges one language's code for a player and recomputes that
// player's line count from the newline count.
func (c *StateCache) AppendCode(ctx context.Context, matchID, userID, lang, code string) error {
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, codeKey(matchID, userID), lang, code)
	pipe.Expire(ctx, codeKey(matchID, userID), c.ttl)
	pipe.HSet(ctx, linesKey(matchID), userID, countLines(code))
	pipe.Expire(ctx, linesKey(matchID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append code for %s/%s: %w", matchID, userID, err)
	}
	return nil
}

// AppendSubmission appends one normalized submission reference.
func (c *StateCache) AppendSubmission(ctx context.Context, matchID string, ref SubmissionRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal submission ref: %w", err)
	}

	pipe := c.redis.TxPipeline()
	pipe.RPush(ctx, submissionsKey(matchID), data)
	pipe.Expire(ctx, submissionsKey(matchID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append submission for %s: %w", matchID, err)
	}
	return nil
}

// FinishParams carries the terminal fields of a match.
type FinishParams struct {
	WinnerID      string
	IsDraw        bool
	EndReason     string
	RatingChanges map[string]RatingChange
}

// Finish marks the match finished and removes it from the active set.
func (c *StateCache) Finish(ctx context.Context, matchID string, params FinishParams) error {
	fields := map[string]interface{}{
		"status":   StatusFinished,
		"ended_at": time.Now().UTC().Format(time.RFC3339Nano),
		"is_draw":  boolField(params.IsDraw),
	}
	if params.WinnerID != "" {
		fields["winner_id"] = params.WinnerID
	}
	if params.EndReason != "" {
		fields["end_reason"] = params.EndReason
	}
	if len(params.RatingChanges) > 0 {
		changes, err := json.Marshal(params.RatingChanges)
		if err != nil {
			return fmt.Errorf("marshal rating changes: %w", err)
		}
		fields["rating_changes"] = changes
	}

	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, matchKey(matchID), fields)
	pipe.SRem(ctx, activeMatchesKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish match %s: %w", matchID, err)
	}
	return nil
}

// Get assembles the full ephemeral document. A missing match hash yields
// ErrMatchNotFound; read failures on the store surface the same way to the
// caller's idempotent paths.
func (c *StateCache) Get(ctx context.Context, matchID string) (*MatchState, error) {
	fields, err := c.redis.HGetAll(ctx, matchKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", matchID, err)
	}
	if len(fields) == 0 {
		return nil, ErrMatchNotFound
	}

	state := &MatchState{
		MatchID:   matchID,
		RoomID:    fields["room_id"],
		ProblemID: fields["problem_id"],
		Status:    fields["status"],
		WinnerID:  fields["winner_id"],
		EndReason: fields["end_reason"],
		IsDraw:    fields["is_draw"] == "1",
	}
	if raw := fields["players"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Players); err != nil {
			return nil, fmt.Errorf("decode players for %s: %w", matchID, err)
		}
	}
	if raw := fields["started_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.StartedAt = t
		}
	}
	if raw := fields["ended_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.EndedAt = &t
		}
	}
	if raw := fields["rating_changes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.RatingChanges); err != nil {
			c.logger.Warn().Err(err).Str("match_id", matchID).Msg("skip malformed rating changes")
		}
	}

	rawSubs, err := c.redis.LRange(ctx, submissionsKey(matchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get submissions for %s: %w", matchID, err)
	}
	for _, raw := range rawSubs {
		var ref SubmissionRef
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			c.logger.Warn().Err(err).Str("match_id", matchID).Msg("skip malformed submission entry")
			continue
		}
		state.Submissions = append(state.Submissions, ref)
	}

	lines, err := c.redis.HGetAll(ctx, linesKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get line counts for %s: %w", matchID, err)
	}
	state.LinesWritten = make(map[string]int, len(lines))
	for userID, raw := range lines {
		if n, err := strconv.Atoi(raw); err == nil {
			state.LinesWritten[userID] = n
		}
	}

	state.PlayersCode = make(map[string]map[string]string, len(state.Players))
	for _, userID := range state.Players {
		code, err := c.redis.HGetAll(ctx, codeKey(matchID, userID)).Result()
		if err != nil {
			return nil, fmt.Errorf("get code for %s/%s: %w", matchID, userID, err)
		}
		if len(code) > 0 {
			state.PlayersCode[userID] = code
		}
	}

	return state, nil
}

// Delete removes every key belonging to the match and deregisters it from
// the active set. Called exactly once per match by the finalizer.
func (c *StateCache) Delete(ctx context.Context, matchID string, players []string) error {
	keys := []string{matchKey(matchID), submissionsKey(matchID), linesKey(matchID)}
	for _, userID := range players {
		keys = append(keys, codeKey(matchID, userID))
	}

	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, activeMatchesKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	return nil
}

// ActiveMatches lists currently tracked match IDs.
func (c *StateCache) ActiveMatches(ctx context.Context) ([]string, error) {
	ids, err := c.redis.SMembers(ctx, activeMatchesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active matches: %w", err)
	}
	return ids, nil
}

func countLines(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
