package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func TestLimiterPerIdentifierBudget(t *testing.T) {
	rdb, mr := newTestRedis(t)
	l := New(rdb, Config{MaxAttemptsPerIdentifier: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "a@example.com", ""))
	}
	assert.ErrorIs(t, l.Allow(ctx, "a@example.com", ""), ErrRateLimited)
	assert.NoError(t, l.Allow(ctx, "b@example.com", ""), "other identifiers are unaffected")

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Allow(ctx, "a@example.com", ""), "window resets")
}

func TestLimiterPerIPBudget(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := New(rdb, Config{MaxAttemptsPerIdentifier: 100, MaxAttemptsPerIP: 2, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a", "203.0.113.1"))
	require.NoError(t, l.Allow(ctx, "b", "203.0.113.1"))
	assert.ErrorIs(t, l.Allow(ctx, "c", "203.0.113.1"), ErrRateLimited)
}

func TestLimiterReset(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := New(rdb, Config{MaxAttemptsPerIdentifier: 1, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a", ""))
	n, err := l.Attempts(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, l.Reset(ctx, "a"))
	assert.NoError(t, l.Allow(ctx, "a", ""))
}

func TestLockoutTripsAtThresholdAndExpires(t *testing.T) {
	rdb, mr := newTestRedis(t)
	l := NewLockout(rdb, DefaultLockoutConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		tripped, err := l.RecordFailure(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, tripped)
	}
	locked, _, err := l.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, locked)

	tripped, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, tripped)

	locked, remaining, err := l.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.InDelta(t, (15 * time.Minute).Seconds(), remaining.Seconds(), 1)

	mr.FastForward(15*time.Minute + time.Second)
	locked, _, err = l.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, locked, "lockout is self-expiring")
}

func TestLockoutReset(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := NewLockout(rdb, DefaultLockoutConfig())
	ctx := context.Background()

	_, _ = l.RecordFailure(ctx, "u1")
	_, _ = l.RecordFailure(ctx, "u1")
	n, err := l.Failures(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, l.Reset(ctx, "u1"))
	n, err = l.Failures(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockoutDisabled(t *testing.T) {
	rdb, _ := newTestRedis(t)
	l := NewLockout(rdb, LockoutConfig{})
	for i := 0; i < 10; i++ {
		tripped, err := l.RecordFailure(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, tripped)
	}
}

func TestUnavailableRedis(t *testing.T) {
	rdb, mr := newTestRedis(t)
	mr.Close()

	assert.ErrorIs(t, New(rdb, DefaultConfig()).Allow(context.Background(), "a", ""), ErrUnavailable)
	_, _, err := NewLockout(rdb, DefaultLockoutConfig()).Locked(context.Background(), "a")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocal(LocalConfig{Enabled: true, PerSecond: 0.001, Burst: 3, IdleTTL: time.Minute})
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("198.51.100.7"))
	}
	assert.False(t, l.Allow("198.51.100.7"))
	assert.True(t, l.Allow("198.51.100.8"))

	var disabled *LocalLimiter
	assert.True(t, disabled.Allow("x"))
	assert.True(t, NewLocal(LocalConfig{}).Allow("x"))
}
