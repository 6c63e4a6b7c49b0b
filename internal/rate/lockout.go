package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the automatic account lockout.
type LockoutConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

// DefaultLockoutConfig locks for 15 minutes after 5 consecutive failures.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{Enabled: true, Threshold: 5, Duration: 15 * time.Minute}
}

func lockoutCounterKey(identifier string) string { return "alo:" + identifier }
func lockoutFlagKey(identifier string) string    { return "all:" + identifier }

// Lockout tracks consecutive credential failures and locks an identifier
// once the threshold is reached. Locks expire on their own.
type Lockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockout creates a lockout tracker.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	return &Lockout{redis: redisClient, config: cfg}
}

// Locked reports whether identifier is currently locked and for how much longer.
func (l *Lockout) Locked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	if !l.config.Enabled || identifier == "" {
		return false, 0, nil
	}
	ttl, err := l.redis.PTTL(ctx, lockoutFlagKey(identifier)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case ttl > 0:
		return true, ttl, nil
	case ttl == -1:
		// key without expiry
		return true, 0, nil
	default:
		return false, 0, nil
	}
}

// RecordFailure increments the failure counter. It returns true when this
// failure tripped the lock.
func (l *Lockout) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	if !l.config.Enabled || identifier == "" {
		return false, nil
	}

	// The counter window matches the lock duration so stale failures age out.
	count, err := incrementWithTTL(ctx, l.redis, lockoutCounterKey(identifier), l.config.Duration)
	if err != nil {
		return false, err
	}
	if count < int64(l.config.Threshold) {
		return false, nil
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockoutFlagKey(identifier), count, l.config.Duration)
		pipe.Del(ctx, lockoutCounterKey(identifier))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// Reset clears the failure counter and any lock.
func (l *Lockout) Reset(ctx context.Context, identifier string) error {
	if !l.config.Enabled || identifier == "" {
		return nil
	}
	if err := l.redis.Del(ctx, lockoutCounterKey(identifier), lockoutFlagKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Failures returns the current consecutive failure count.
func (l *Lockout) Failures(ctx context.Context, identifier string) (int, error) {
	if !l.config.Enabled || identifier == "" {
		return 0, nil
	}
	return getCount(ctx, l.redis, lockoutCounterKey(identifier))
}
