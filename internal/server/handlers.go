package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"codearena/internal/auth"
	"codearena/internal/identity"
	"codearena/internal/match"
	"codearena/internal/match/queue"
	"codearena/internal/problem"
	"codearena/internal/stats"
	httperrors "codearena/pkg/http/errors"
)

// Narrow views of the handler dependencies.
type (
	queueStore interface {
		Enqueue(ctx context.Context, entry match.QueueEntry) error
		Dequeue(ctx context.Context, userID string) error
	}

	reservationStore interface {
		Create(ctx context.Context, r match.Reservation) error
		TokenFor(ctx context.Context, userID string) (string, error)
		Consume(ctx context.Context, token string) (*match.Reservation, error)
		Delete(ctx context.Context, userID string) error
	}

	stateCache interface {
		Init(ctx context.Context, matchID, roomID, problemID string, players []string, startedAt time.Time) error
	}

	problemPicker interface {
		SelectForMatch(ctx context.Context, ratingA, ratingB int) (*problem.Problem, error)
	}

	matchCreator interface {
		CreateMatch(ctx context.Context, players []string, problemID string) (string, error)
	}

	statsReader interface {
		PlayerStats(ctx context.Context, userID string) (*stats.PlayerStats, error)
	}
)

// Handlers carries the HTTP surface for matchmaking, reservations and
// player stats.
type Handlers struct {
	queue         queueStore
	reservations  reservationStore
	state         stateCache
	selector      problemPicker
	exec          matchCreator
	stats         statsReader
	defaultRating int
	logger        zerolog.Logger
}

// NewHandlers wires the matchmaking HTTP handlers.
func NewHandlers(
	q queueStore,
	reservations reservationStore,
	state stateCache,
	selector problemPicker,
	exec matchCreator,
	statsSvc statsReader,
	defaultRating int,
	logger zerolog.Logger,
) *Handlers {
	if defaultRating <= 0 {
		defaultRating = 1200
	}
	return &Handlers{
		queue:         q,
		reservations:  reservations,
		state:         state,
		selector:      selector,
		exec:          exec,
		stats:         statsSvc,
		defaultRating: defaultRating,
		logger:        logger.With().Str("component", "http_handlers").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON body")
		return false
	}
	return true
}

// resolveUserID prefers the explicit body/query value, falling back to the
// authenticated identity.
func resolveUserID(r *http.Request, explicit string) string {
	if explicit != "" {
		return identity.Normalize(explicit)
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}

type enqueueRequest struct {
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
}

// Enqueue adds a player to the waiting queue. A repeat call refreshes the
// stored rating rather than duplicating the entry.
func (h *Handlers) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := resolveUserID(r, req.UserID)
	if userID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "userId is required")
		return
	}
	rating := req.Rating
	if rating <= 0 {
		rating = h.defaultRating
	}

	if err := h.queue.Enqueue(r.Context(), match.QueueEntry{UserID: userID, Rating: rating}); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("enqueue failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeEnqueueFailed, "Failed to join queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "userId": userID, "rating": rating})
}

type dequeueRequest struct {
	UserID string `json:"userId"`
}

// Dequeue removes a waiting player.
func (h *Handlers) Dequeue(w http.ResponseWriter, r *http.Request) {
	var req dequeueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := resolveUserID(r, req.UserID)
	if userID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "userId is required")
		return
	}

	err := h.queue.Dequeue(r.Context(), userID)
	if errors.Is(err, queue.ErrNotQueued) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotQueued, "User is not in the queue")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("dequeue failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeDequeueFailed, "Failed to leave queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "dequeued", "userId": userID})
}

// Reservation returns the discovery token for a paired user, if any.
func (h *Handlers) Reservation(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, r.URL.Query().Get("userId"))
	if userID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "userId is required")
		return
	}

	token, err := h.reservations.TokenFor(r.Context(), userID)
	if errors.Is(err, match.ErrReservationNotFound) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeReservationNotFound, "No reservation for user")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("reservation lookup failed")
		httperrors.RespondInternalError(w, "Failed to look up reservation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type consumeRequest struct {
	Token string `json:"token"`
}

// Consume redeems a reservation token. Tokens are single use: the second
// redemption of the same token sees not-found.
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "token is required")
		return
	}

	resv, err := h.reservations.Consume(r.Context(), req.Token)
	if errors.Is(err, match.ErrReservationNotFound) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeReservationNotFound, "Reservation not found or already consumed")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("reservation consume failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeReservationConsumeFail, "Failed to consume reservation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":    resv.UserID,
		"matchId":   resv.MatchID,
		"roomId":    resv.RoomID,
		"problemId": resv.ProblemID,
	})
}

type clearRequest struct {
	UserID string `json:"userId"`
}

// Clear removes both the queue entry and any reservation for a user, so a
// client can fully reset its matchmaking state.
func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := resolveUserID(r, req.UserID)
	if userID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "userId is required")
		return
	}

	if err := h.queue.Dequeue(r.Context(), userID); err != nil && !errors.Is(err, queue.ErrNotQueued) {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("queue clear failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeDequeueFailed, "Failed to clear queue entry")
		return
	}
	if err := h.reservations.Delete(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("reservation clear failed")
		httperrors.RespondInternalError(w, "Failed to clear reservation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "userId": userID})
}

type createMatchRequest struct {
	Players   []string `json:"players"`
	ProblemID string   `json:"problemId"`
}

// CreateMatch materializes a match for an explicit pair, bypassing the
// queue. Admin only. Without an explicit problem a verified one is chosen
// at the default difficulty band.
func (h *Handlers) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Players) != 2 {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Exactly two players are required")
		return
	}
	players := []string{identity.Normalize(req.Players[0]), identity.Normalize(req.Players[1])}
	if players[0] == "" || players[1] == "" || players[0] == players[1] {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Players must be two distinct ids")
		return
	}

	problemID := req.ProblemID
	if problemID == "" {
		prob, err := h.selector.SelectForMatch(r.Context(), h.defaultRating, h.defaultRating)
		if errors.Is(err, problem.ErrNoProblemFound) {
			httperrors.RespondNotFound(w, httperrors.ErrCodeNoProblemFound, "No verified problem available")
			return
		}
		if err != nil {
			h.logger.Error().Err(err).Msg("problem selection failed")
			httperrors.RespondInternalError(w, "Failed to select a problem")
			return
		}
		problemID = prob.ID
	}

	matchID := uuid.New().String()
	roomID, err := h.exec.CreateMatch(r.Context(), players, problemID)
	if err != nil {
		h.logger.Error().Err(err).Msg("room creation failed")
		httperrors.RespondError(w, http.StatusBadGateway, httperrors.ErrCodeMatchCreationFailed, "Room service unavailable")
		return
	}

	if err := h.state.Init(r.Context(), matchID, roomID, problemID, players, time.Now().UTC()); err != nil {
		h.logger.Error().Err(err).Str("match_id", matchID).Msg("failed to init match state")
	}
	for _, userID := range players {
		resv := match.Reservation{
			Token:     uuid.New().String(),
			UserID:    userID,
			MatchID:   matchID,
			RoomID:    roomID,
			ProblemID: problemID,
		}
		if err := h.reservations.Create(r.Context(), resv); err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to store reservation")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"matchId":   matchID,
		"roomId":    roomID,
		"problemId": problemID,
	})
}

// PlayerStats serves a player's lifetime aggregates.
func (h *Handlers) PlayerStats(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, r.URL.Query().Get("userId"))
	if userID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "userId is required")
		return
	}

	s, err := h.stats.PlayerStats(r.Context(), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("stats lookup failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeStatsFetchFailed, "Failed to load player stats")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
