package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/db/repository"
)

type fakeStateStore struct {
	state   *MatchState
	getErr  error
	deleted []string
}

func (f *fakeStateStore) Get(ctx context.Context, matchID string) (*MatchState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.state == nil {
		return nil, ErrMatchNotFound
	}
	return f.state, nil
}

func (f *fakeStateStore) Delete(ctx context.Context, matchID string, players []string) error {
	f.deleted = append(f.deleted, matchID)
	f.state = nil
	return nil
}

type fakeMatchWriter struct {
	upserts    []repository.MatchRecord
	upsertErr  error
	claimed    map[string]bool
	claimErr   error
}

func (f *fakeMatchWriter) Upsert(ctx context.Context, rec repository.MatchRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeMatchWriter) ClaimRatingApplied(ctx context.Context, matchID string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[matchID] {
		return false, nil
	}
	f.claimed[matchID] = true
	return true, nil
}

type fakeSubmissionWriter struct {
	upserts []repository.SubmissionRecord
	err     error
}

func (f *fakeSubmissionWriter) Upsert(ctx context.Context, rec repository.SubmissionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

type appliedResult struct {
	outcome string
	delta   int
}

type fakePlayerStore struct {
	ratings map[string]int
	ensured []string
	applied map[string]appliedResult
	getErr  error
}

func (f *fakePlayerStore) EnsurePlayer(ctx context.Context, userID string, defaultRating int) error {
	f.ensured = append(f.ensured, userID)
	if _, ok := f.ratings[userID]; !ok {
		if f.ratings == nil {
			f.ratings = map[string]int{}
		}
		f.ratings[userID] = defaultRating
	}
	return nil
}

func (f *fakePlayerStore) GetRating(ctx context.Context, userID string) (int, error) {
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.ratings[userID], nil
}

func (f *fakePlayerStore) ApplyResult(ctx context.Context, userID, outcome string, ratingDelta int) error {
	if f.applied == nil {
		f.applied = map[string]appliedResult{}
	}
	f.applied[userID] = appliedResult{outcome: outcome, delta: ratingDelta}
	return nil
}

type fakeInvalidator struct {
	invalidated []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

type fakeResvCleaner struct {
	deleted []string
}

func (f *fakeResvCleaner) Delete(ctx context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

type finalizerFixture struct {
	state       *fakeStateStore
	matches     *fakeMatchWriter
	submissions *fakeSubmissionWriter
	players     *fakePlayerStore
	stats       *fakeInvalidator
	resv        *fakeResvCleaner
	finalizer   *Finalizer
}

func newFinalizerFixture(state *MatchState, ratings map[string]int) *finalizerFixture {
	f := &finalizerFixture{
		state:       &fakeStateStore{state: state},
		matches:     &fakeMatchWriter{},
		submissions: &fakeSubmissionWriter{},
		players:     &fakePlayerStore{ratings: ratings},
		stats:       &fakeInvalidator{},
		resv:        &fakeResvCleaner{},
	}
	f.finalizer = NewFinalizer(
		f.state, f.matches, f.submissions, f.players, f.stats, f.resv,
		1200, zerolog.Nop())
	return f
}

func finishedState(winnerID string) *MatchState {
	ended := time.Now().UTC()
	return &MatchState{
		MatchID:   "match-1",
		RoomID:    "room-1",
		ProblemID: "prob-1",
		Status:    StatusFinished,
		Players:   []string{"alice", "bob"},
		StartedAt: ended.Add(-10 * time.Minute),
		EndedAt:   &ended,
		WinnerID:  winnerID,
		EndReason: EndReasonCompleted,
	}
}

func TestFinalizeMissingStateIsNoOp(t *testing.T) {
	fx := newFinalizerFixture(nil, nil)

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "ghost"))

	assert.Empty(t, fx.matches.upserts)
	assert.Empty(t, fx.players.applied)
	assert.Empty(t, fx.state.deleted)
}

func TestFinalizeWinnerAppliesExpectedDeltas(t *testing.T) {
	state := finishedState("alice")
	state.Submissions = []SubmissionRef{
		{Kind: RefKindDetail, Detail: &SubmissionDetail{
			UserID:     "alice",
			Language:   "go",
			SourceCode: "package main",
			Passed:     true,
			RuntimeMS:  42,
		}},
		{Kind: RefKindToken, Token: "sub-external-1"},
	}
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	require.Len(t, fx.matches.upserts, 1)
	rec := fx.matches.upserts[0]
	assert.Equal(t, StatusFinished, rec.Status)
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, "alice", *rec.WinnerID)
	assert.False(t, rec.IsDraw)
	assert.Len(t, rec.SubmissionIDs, 2)

	require.Len(t, fx.submissions.upserts, 2)
	assert.Equal(t, "alice", fx.submissions.upserts[0].UserID)
	assert.True(t, fx.submissions.upserts[0].Passed)
	assert.Equal(t, "sub-external-1", fx.submissions.upserts[1].ExternalRef)

	require.Len(t, fx.players.applied, 2)
	assert.Equal(t, appliedResult{outcome: repository.OutcomeWin, delta: 15}, fx.players.applied["alice"])
	assert.Equal(t, appliedResult{outcome: repository.OutcomeLoss, delta: -15}, fx.players.applied["bob"])

	assert.ElementsMatch(t, []string{"alice", "bob"}, fx.stats.invalidated)
	assert.Equal(t, []string{"match-1"}, fx.state.deleted)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fx.resv.deleted)
}

func TestFinalizeUpsetWinnerGetsLargerDelta(t *testing.T) {
	state := finishedState("bob")
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Equal(t, appliedResult{outcome: repository.OutcomeWin, delta: 17}, fx.players.applied["bob"])
	assert.Equal(t, appliedResult{outcome: repository.OutcomeLoss, delta: -17}, fx.players.applied["alice"])
}

func TestFinalizeTimeoutWithoutWinnerIsDraw(t *testing.T) {
	state := finishedState("")
	state.EndReason = EndReasonTimeout
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	require.Len(t, fx.matches.upserts, 1)
	assert.True(t, fx.matches.upserts[0].IsDraw)
	assert.Nil(t, fx.matches.upserts[0].WinnerID)

	assert.Equal(t, repository.OutcomeDraw, fx.players.applied["alice"].outcome)
	assert.Equal(t, repository.OutcomeDraw, fx.players.applied["bob"].outcome)
	// The lower-rated player gains slightly from drawing upward.
	assert.Equal(t, -fx.players.applied["bob"].delta, fx.players.applied["alice"].delta)
}

func TestFinalizePrefersPrecomputedRatingChanges(t *testing.T) {
	state := finishedState("alice")
	state.RatingChanges = map[string]RatingChange{
		"alice": {Old: 1200, New: 1222, Delta: 22},
		"bob":   {Old: 1180, New: 1158, Delta: -22},
	}
	players := &fakePlayerStore{
		ratings: map[string]int{"alice": 1200, "bob": 1180},
		getErr:  errors.New("GetRating must not be called"),
	}
	fx := newFinalizerFixture(state, nil)
	fx.players = players
	fx.finalizer = NewFinalizer(
		fx.state, fx.matches, fx.submissions, players, fx.stats, fx.resv,
		1200, zerolog.Nop())

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Equal(t, appliedResult{outcome: repository.OutcomeWin, delta: 22}, players.applied["alice"])
	assert.Equal(t, appliedResult{outcome: repository.OutcomeLoss, delta: -22}, players.applied["bob"])
}

func TestFinalizeSkipsRatingsWhenClaimLost(t *testing.T) {
	state := finishedState("alice")
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})
	// Simulate an earlier finalize having claimed the marker.
	fx.matches.claimed = map[string]bool{"match-1": true}

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Empty(t, fx.players.applied)
	// Everything else still runs: match row, cache cleanup.
	assert.Len(t, fx.matches.upserts, 1)
	assert.Equal(t, []string{"match-1"}, fx.state.deleted)
}

func TestFinalizeSkipsRatingsOnPlayerCountAnomaly(t *testing.T) {
	state := finishedState("alice")
	state.Players = []string{"alice"}
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Empty(t, fx.players.applied)
	assert.Len(t, fx.matches.upserts, 1)
}

func TestFinalizeSkipsRatingsWhenWinnerNotParticipant(t *testing.T) {
	state := finishedState("mallory")
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Empty(t, fx.players.applied)
}

func TestFinalizeDurableFailureKeepsEphemeralState(t *testing.T) {
	state := finishedState("alice")
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})
	fx.matches.upsertErr = errors.New("postgres down")

	require.Error(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Empty(t, fx.state.deleted)
	assert.Empty(t, fx.players.applied)
	assert.NotNil(t, fx.state.state)
}

func TestFinalizeTwiceIsIdempotent(t *testing.T) {
	state := finishedState("alice")
	fx := newFinalizerFixture(state, map[string]int{"alice": 1200, "bob": 1180})

	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))
	require.NoError(t, fx.finalizer.Finalize(context.Background(), "match-1"))

	assert.Len(t, fx.matches.upserts, 1)
	assert.Len(t, fx.players.applied, 2)
	assert.Len(t, fx.state.deleted, 1)
}
