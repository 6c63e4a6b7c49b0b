package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds sign-in throttle parameters.
type Config struct {
	MaxAttemptsPerIdentifier int           `yaml:"max_attempts_per_identifier"`
	MaxAttemptsPerIP         int           `yaml:"max_attempts_per_ip"`
	Window                   time.Duration `yaml:"window"`
}

// DefaultConfig allows 10 attempts per identifier and 50 per IP every 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerIdentifier: 10,
		MaxAttemptsPerIP:         50,
		Window:                   15 * time.Minute,
	}
}

func loginIdentifierKey(identifier string) string { return "osl:" + identifier }
func loginIPKey(ip string) string                 { return "osli:" + ip }

// Limiter counts sign-in attempts per identifier and per IP in fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow records an attempt and returns ErrRateLimited once either budget is
// exhausted. A zero budget disables that dimension.
func (l *Limiter) Allow(ctx context.Context, identifier, ip string) error {
	if l.config.MaxAttemptsPerIdentifier > 0 && identifier != "" {
		count, err := l.incrementWithTTL(ctx, loginIdentifierKey(identifier), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttemptsPerIdentifier) {
			return ErrRateLimited
		}
	}

	if l.config.MaxAttemptsPerIP > 0 && ip != "" {
		count, err := l.incrementWithTTL(ctx, loginIPKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttemptsPerIP) {
			return ErrRateLimited
		}
	}

	return nil
}

// Reset clears the identifier counter after a successful sign-in. The IP
// counter is left to expire so one good account cannot launder an IP.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, loginIdentifierKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Attempts returns the current identifier counter. Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	return getCount(ctx, l.redis, loginIdentifierKey(identifier))
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrementWithTTL(ctx, l.redis, key, ttl)
}

func incrementWithTTL(ctx context.Context, rdb redis.UniversalClient, key string, ttl time.Duration) (int64, error) {
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 && ttl > 0 {
		if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}

func getCount(ctx context.Context, rdb redis.UniversalClient, key string) (int, error) {
	count, err := rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}
