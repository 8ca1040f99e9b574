package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
)

func TestMemoryDeniesOverLimit(t *testing.T) {
	now := time.Now()
	limiter := NewMemory(Config{MaxRequests: 10, Window: time.Minute},
		WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := limiter.Check(ctx, "ip-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res, err := limiter.Check(ctx, "ip-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "11th request within the window must be denied")
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// Other identifiers are unaffected.
	res, err = limiter.Check(ctx, "ip-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryWindowReset(t *testing.T) {
	now := time.Now()
	limiter := NewMemory(Config{MaxRequests: 10, Window: time.Minute},
		WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := limiter.Check(ctx, "ip-1")
		require.NoError(t, err)
	}

	// Exactly on the boundary the old window still applies.
	now = now.Add(time.Minute)
	res, err := limiter.Check(ctx, "ip-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	now = now.Add(time.Millisecond)
	res, err = limiter.Check(ctx, "ip-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "first request after the window must reset the counter")
	assert.Equal(t, 9, res.Remaining, "reset counts the admitted request as 1")
}

func TestMemorySweepEvictsIdleEntries(t *testing.T) {
	now := time.Now()
	limiter := NewMemory(Config{MaxRequests: 10, Window: time.Minute},
		WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := limiter.Check(ctx, "idle")
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "busy")
	require.NoError(t, err)

	now = now.Add(3 * time.Minute)
	_, err = limiter.Check(ctx, "busy")
	require.NoError(t, err)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 0, limiter.Sweep())
}

func TestKVLimiterSharesStateThroughStore(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Now()
	clock := func() time.Time { return now }

	a := NewKV(store, Config{MaxRequests: 3, Window: time.Minute}, WithKVClock(clock))
	b := NewKV(store, Config{MaxRequests: 3, Window: time.Minute}, WithKVClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := a.Check(ctx, "shared")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	// A different instance sees the same exhausted window.
	res, err := b.Check(ctx, "shared")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	remaining, err := b.Remaining(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

type failingStore struct {
	kv.Store
}

func (failingStore) Update(context.Context, string, kv.UpdateFunc) (string, error) {
	return "", errors.New("store down")
}

func TestKVLimiterFailOpen(t *testing.T) {
	limiter := NewKV(failingStore{}, Config{MaxRequests: 3, Window: time.Minute})

	res, err := limiter.Check(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "default policy admits on store failure")
}

func TestKVLimiterFailClosed(t *testing.T) {
	limiter := NewKV(failingStore{}, Config{MaxRequests: 3, Window: time.Minute},
		WithFailClosed(true))

	res, err := limiter.Check(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestKVLimiterRecoversFromCorruptRecord(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, storeKeyPrefix+"x", "{not json", time.Minute))

	limiter := NewKV(store, Config{MaxRequests: 3, Window: time.Minute})
	res, err := limiter.Check(ctx, "x")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}
