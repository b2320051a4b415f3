package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/db/repository"
)

type fakeCache struct {
	entries map[string]*PlayerStats
	getErr  error
	setErr  error
	sets    int
}

func (f *fakeCache) Get(ctx context.Context, userID string) (*PlayerStats, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[userID], nil
}

func (f *fakeCache) Set(ctx context.Context, s PlayerStats) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.entries == nil {
		f.entries = map[string]*PlayerStats{}
	}
	f.entries[s.UserID] = &s
	f.sets++
	return nil
}

type fakeRepo struct {
	rec   *repository.PlayerStatsRecord
	err   error
	calls int
}

func (f *fakeRepo) GetStats(ctx context.Context, userID string) (*repository.PlayerStatsRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func TestPlayerStatsCacheHitSkipsRepo(t *testing.T) {
	cache := &fakeCache{entries: map[string]*PlayerStats{
		"alice": {UserID: "alice", Rating: 1250, Wins: 3},
	}}
	repo := &fakeRepo{}
	svc := NewService(cache, repo, zerolog.Nop())

	got, err := svc.PlayerStats(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 1250, got.Rating)
	assert.Zero(t, repo.calls)
}

func TestPlayerStatsMissReadsThroughAndCaches(t *testing.T) {
	cache := &fakeCache{}
	repo := &fakeRepo{rec: &repository.PlayerStatsRecord{
		UserID: "bob", Rating: 1180, TotalMatches: 10, Wins: 4, Losses: 5, Draws: 1,
	}}
	svc := NewService(cache, repo, zerolog.Nop())

	got, err := svc.PlayerStats(context.Background(), "bob")
	require.NoError(t, err)

	assert.Equal(t, 1180, got.Rating)
	assert.Equal(t, 10, got.TotalMatches)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, 1, cache.sets)
}

func TestPlayerStatsCacheErrorDegradesToRepo(t *testing.T) {
	cache := &fakeCache{getErr: errors.New("redis down")}
	repo := &fakeRepo{rec: &repository.PlayerStatsRecord{UserID: "bob", Rating: 1180}}
	svc := NewService(cache, repo, zerolog.Nop())

	got, err := svc.PlayerStats(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 1180, got.Rating)
}

func TestPlayerStatsRepoErrorPropagates(t *testing.T) {
	cache := &fakeCache{}
	repo := &fakeRepo{err: errors.New("no rows")}
	svc := NewService(cache, repo, zerolog.Nop())

	_, err := svc.PlayerStats(context.Background(), "ghost")
	require.Error(t, err)
}
