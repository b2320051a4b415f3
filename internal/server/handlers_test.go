package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/match"
	"codearena/internal/match/queue"
	"codearena/internal/problem"
	"codearena/internal/stats"
)

type fakeQueueStore struct {
	enqueued   []match.QueueEntry
	dequeued   []string
	dequeueErr error
}

func (f *fakeQueueStore) Enqueue(ctx context.Context, entry match.QueueEntry) error {
	f.enqueued = append(f.enqueued, entry)
	return nil
}

func (f *fakeQueueStore) Dequeue(ctx context.Context, userID string) error {
	f.dequeued = append(f.dequeued, userID)
	return f.dequeueErr
}

type fakeReservations struct {
	byUser  map[string]match.Reservation
	byToken map[string]match.Reservation
	created []match.Reservation
	deleted []string
}

func (f *fakeReservations) Create(ctx context.Context, r match.Reservation) error {
	f.created = append(f.created, r)
	return nil
}

func (f *fakeReservations) TokenFor(ctx context.Context, userID string) (string, error) {
	r, ok := f.byUser[userID]
	if !ok {
		return "", match.ErrReservationNotFound
	}
	return r.Token, nil
}

func (f *fakeReservations) Consume(ctx context.Context, token string) (*match.Reservation, error) {
	r, ok := f.byToken[token]
	if !ok {
		return nil, match.ErrReservationNotFound
	}
	delete(f.byToken, token)
	return &r, nil
}

func (f *fakeReservations) Delete(ctx context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeState struct {
	inits int
}

func (f *fakeState) Init(ctx context.Context, matchID, roomID, problemID string, players []string, startedAt time.Time) error {
	f.inits++
	return nil
}

type fakeSelector struct {
	prob *problem.Problem
	err  error
}

func (f *fakeSelector) SelectForMatch(ctx context.Context, ratingA, ratingB int) (*problem.Problem, error) {
	return f.prob, f.err
}

type fakeExec struct {
	roomID string
	err    error
}

func (f *fakeExec) CreateMatch(ctx context.Context, players []string, problemID string) (string, error) {
	return f.roomID, f.err
}

type fakeStats struct {
	stats *stats.PlayerStats
	err   error
}

func (f *fakeStats) PlayerStats(ctx context.Context, userID string) (*stats.PlayerStats, error) {
	return f.stats, f.err
}

type handlerFixture struct {
	queue    *fakeQueueStore
	resv     *fakeReservations
	state    *fakeState
	selector *fakeSelector
	exec     *fakeExec
	stats    *fakeStats
	handlers *Handlers
}

func newHandlerFixture() *handlerFixture {
	fx := &handlerFixture{
		queue: &fakeQueueStore{},
		resv: &fakeReservations{
			byUser:  map[string]match.Reservation{},
			byToken: map[string]match.Reservation{},
		},
		state:    &fakeState{},
		selector: &fakeSelector{prob: &problem.Problem{ID: "prob-1"}},
		exec:     &fakeExec{roomID: "room-1"},
		stats:    &fakeStats{},
	}
	fx.handlers = NewHandlers(
		fx.queue, fx.resv, fx.state, fx.selector, fx.exec, fx.stats,
		1200, zerolog.Nop())
	return fx
}

func postJSON(handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestEnqueueAddsPlayer(t *testing.T) {
	fx := newHandlerFixture()

	rec := postJSON(fx.handlers.Enqueue, "/queue/enqueue", `{"userId":"alice","rating":1350}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fx.queue.enqueued, 1)
	assert.Equal(t, match.QueueEntry{UserID: "alice", Rating: 1350}, fx.queue.enqueued[0])
}

func TestEnqueueDefaultsRating(t *testing.T) {
	fx := newHandlerFixture()

	rec := postJSON(fx.handlers.Enqueue, "/queue/enqueue", `{"userId":"alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fx.queue.enqueued, 1)
	assert.Equal(t, 1200, fx.queue.enqueued[0].Rating)
}

func TestEnqueueRejectsMissingUser(t *testing.T) {
	fx := newHandlerFixture()

	rec := postJSON(fx.handlers.Enqueue, "/queue/enqueue", `{"rating":1350}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.queue.enqueued)
}

func TestDequeueNotQueuedIs404(t *testing.T) {
	fx := newHandlerFixture()
	fx.queue.dequeueErr = queue.ErrNotQueued

	rec := postJSON(fx.handlers.Dequeue, "/queue/dequeue", `{"userId":"alice"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservationLookup(t *testing.T) {
	fx := newHandlerFixture()
	fx.resv.byUser["alice"] = match.Reservation{Token: "tok-1", UserID: "alice"}

	req := httptest.NewRequest(http.MethodGet, "/queue/reservation?userId=alice", nil)
	rec := httptest.NewRecorder()
	fx.handlers.Reservation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tok-1", body["token"])
}

func TestReservationMissingIs404(t *testing.T) {
	fx := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/queue/reservation?userId=ghost", nil)
	rec := httptest.NewRecorder()
	fx.handlers.Reservation(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsumeIsSingleUse(t *testing.T) {
	fx := newHandlerFixture()
	fx.resv.byToken["tok-1"] = match.Reservation{
		Token: "tok-1", UserID: "alice", MatchID: "match-1", RoomID: "room-1", ProblemID: "prob-1",
	}

	first := postJSON(fx.handlers.Consume, "/reserve/consume", `{"token":"tok-1"}`)
	require.Equal(t, http.StatusOK, first.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &body))
	assert.Equal(t, "match-1", body["matchId"])
	assert.Equal(t, "room-1", body["roomId"])

	second := postJSON(fx.handlers.Consume, "/reserve/consume", `{"token":"tok-1"}`)
	assert.Equal(t, http.StatusNotFound, second.Code)
}

func TestClearRemovesQueueEntryAndReservation(t *testing.T) {
	fx := newHandlerFixture()
	fx.queue.dequeueErr = queue.ErrNotQueued

	rec := postJSON(fx.handlers.Clear, "/queue/clear", `{"userId":"alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice"}, fx.queue.dequeued)
	assert.Equal(t, []string{"alice"}, fx.resv.deleted)
}

func TestCreateMatchMaterializesPair(t *testing.T) {
	fx := newHandlerFixture()

	rec := postJSON(fx.handlers.CreateMatch, "/admin/create-match",
		`{"players":["alice","bob"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "room-1", body["roomId"])
	assert.Equal(t, "prob-1", body["problemId"])
	assert.NotEmpty(t, body["matchId"])

	assert.Equal(t, 1, fx.state.inits)
	assert.Len(t, fx.resv.created, 2)
}

func TestCreateMatchRejectsBadPlayerList(t *testing.T) {
	fx := newHandlerFixture()

	for _, body := range []string{
		`{"players":["alice"]}`,
		`{"players":["alice","alice"]}`,
		`{"players":[]}`,
	} {
		rec := postJSON(fx.handlers.CreateMatch, "/admin/create-match", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateMatchNoProblemIs404(t *testing.T) {
	fx := newHandlerFixture()
	fx.selector.err = problem.ErrNoProblemFound

	rec := postJSON(fx.handlers.CreateMatch, "/admin/create-match",
		`{"players":["alice","bob"]}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMatchRoomFailureIs502(t *testing.T) {
	fx := newHandlerFixture()
	fx.exec.err = errors.New("room service down")

	rec := postJSON(fx.handlers.CreateMatch, "/admin/create-match",
		`{"players":["alice","bob"]}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Zero(t, fx.state.inits)
}

func TestPlayerStatsServesAggregates(t *testing.T) {
	fx := newHandlerFixture()
	fx.stats.stats = &stats.PlayerStats{UserID: "alice", Rating: 1250, Wins: 3}

	req := httptest.NewRequest(http.MethodGet, "/v1/players/stats?userId=alice", nil)
	rec := httptest.NewRecorder()
	fx.handlers.PlayerStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body stats.PlayerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1250, body.Rating)
}
