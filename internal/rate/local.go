package rate

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	xrate "golang.org/x/time/rate"
)

// LocalConfig configures the in-process token bucket.
type LocalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
	IdleTTL   time.Duration `yaml:"idle_ttl"`
	MaxKeys   int           `yaml:"max_keys"`
}

// DefaultLocalConfig allows a burst of 10 then 2 attempts per second per key.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{Enabled: true, PerSecond: 2, Burst: 10, IdleTTL: 5 * time.Minute, MaxKeys: 50000}
}

// LocalLimiter is a per-key token bucket held in process. It absorbs bursts
// before they reach Redis. Idle buckets are evicted after IdleTTL.
type LocalLimiter struct {
	config  LocalConfig
	buckets *expirable.LRU[string, *xrate.Limiter]
}

// NewLocal builds a LocalLimiter. A disabled config yields a limiter that allows everything.
func NewLocal(cfg LocalConfig) *LocalLimiter {
	if !cfg.Enabled {
		return &LocalLimiter{config: cfg}
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultLocalConfig().MaxKeys
	}
	return &LocalLimiter{
		config:  cfg,
		buckets: expirable.NewLRU[string, *xrate.Limiter](cfg.MaxKeys, nil, cfg.IdleTTL),
	}
}

// Allow takes one token from key's bucket.
func (l *LocalLimiter) Allow(key string) bool {
	if l == nil || l.buckets == nil || key == "" {
		return true
	}
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = xrate.NewLimiter(xrate.Limit(l.config.PerSecond), l.config.Burst)
		// Two first requests may race here; the loser's bucket is simply replaced.
		l.buckets.Add(key, lim)
	}
	return lim.Allow()
}
