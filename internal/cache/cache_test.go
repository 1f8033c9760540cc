package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
)

type payload struct {
	AthleteID string  `json:"athlete_id"`
	NILValue  float64 `json:"nil_value"`
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "athlete:athlete_baseball_001", AthleteKey("athlete_baseball_001"))
	assert.Equal(t, "leaderboard:100", LeaderboardKey(100))
}

func TestClient_GetHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewWithClient(db, 15*time.Minute, nil)

	mock.ExpectGet("athlete:a1").SetVal(`{"athlete_id":"a1","nil_value":42500}`)

	var got payload
	found, err := c.Get(context.Background(), "athlete:a1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{AthleteID: "a1", NILValue: 42500}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_GetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewWithClient(db, 15*time.Minute, nil)

	mock.ExpectGet("leaderboard:10").RedisNil()

	var got payload
	found, err := c.Get(context.Background(), "leaderboard:10", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_GetDecodeError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewWithClient(db, time.Minute, nil)

	mock.ExpectGet("athlete:a1").SetVal(`not json`)

	var got payload
	_, err := c.Get(context.Background(), "athlete:a1", &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: decode athlete:a1")
}

func TestClient_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewWithClient(db, 900*time.Second, nil)

	mock.ExpectSet("athlete:a1", []byte(`{"athlete_id":"a1","nil_value":17825}`), 900*time.Second).SetVal("OK")

	err := c.Set(context.Background(), "athlete:a1", payload{AthleteID: "a1", NILValue: 17825})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_FallsBackOnRedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := metrics.New()
	c := NewWithClient(db, time.Minute, m)
	ctx := context.Background()

	mock.ExpectSet("athlete:a1", []byte(`{"athlete_id":"a1","nil_value":1}`), time.Minute).SetErr(errors.New("connection refused"))
	mock.ExpectGet("athlete:a1").SetErr(errors.New("connection refused"))

	require.NoError(t, c.Set(ctx, "athlete:a1", payload{AthleteID: "a1", NILValue: 1}))

	var got payload
	found, err := c.Get(ctx, "athlete:a1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{AthleteID: "a1", NILValue: 1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewWithClient(db, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectGet("leaderboard:5").SetErr(errors.New("timeout"))
	}

	var got payload
	for i := 0; i < 3; i++ {
		found, err := c.Get(ctx, "leaderboard:5", &got)
		require.NoError(t, err)
		assert.False(t, found)
	}

	// Open breaker: redis is not called, the in-process store answers.
	require.NoError(t, c.Set(ctx, "leaderboard:5", payload{AthleteID: "top", NILValue: 9}))
	found, err := c.Get(ctx, "leaderboard:5", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "top", got.AthleteID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_MemoryOnly(t *testing.T) {
	c := New(context.Background(), config.RedisConfig{TTLSeconds: 60}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "athlete:a2", payload{AthleteID: "a2", NILValue: 67175}))

	var got payload
	found, err := c.Get(ctx, "athlete:a2", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 67175.0, got.NILValue)
	assert.NoError(t, c.Close())
}

func TestClient_SetEncodeError(t *testing.T) {
	c := NewWithClient(nil, time.Minute, nil)
	err := c.Set(context.Background(), "bad", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: encode bad")
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{AthleteID: "a1"}))

	var got payload
	found, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(time.Minute)
	found, err = m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_NoTTL(t *testing.T) {
	m := NewMemory(0)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", 3))
	now = now.Add(24 * time.Hour)

	var got int
	found, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got)
}
