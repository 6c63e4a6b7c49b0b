package orgauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/authz"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/internal/rate"
	"github.com/MrEthical07/orgauth/internal/stores"
	"github.com/MrEthical07/orgauth/jwt"
	"github.com/MrEthical07/orgauth/metrics"
	"github.com/MrEthical07/orgauth/mfa"
	"github.com/MrEthical07/orgauth/password"
	"github.com/MrEthical07/orgauth/session"
	"github.com/MrEthical07/orgauth/store"
)

// maintenanceTimeout bounds a single background cleanup run.
const maintenanceTimeout = 30 * time.Second

// Engine is the sign-in, session, and authorization service. It is safe for
// concurrent use once returned by [Builder.Build].
type Engine struct {
	config Config
	log    zerolog.Logger
	now    func() time.Time

	stores   Stores
	cache    *cache.PermissionCache
	changes  *cache.ChangeHandler
	checker  *authz.Checker
	dynamic  *authz.DynamicService
	sessions *session.Manager

	hasher     *password.Hasher
	tickets    *jwt.Manager
	challenges *stores.ChallengeStore
	verifier   *mfa.Verifier

	limiter *rate.Limiter
	lockout *rate.Lockout
	local   *rate.LocalLimiter

	dispatcher *audit.Dispatcher
	audit      *audit.Logger
	recorder   *metrics.Recorder

	mu        sync.Mutex
	scheduler *cron.Cron
	closed    bool
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Checker exposes the static permission checker.
func (e *Engine) Checker() *authz.Checker { return e.checker }

// Policies exposes the dynamic permission pipeline.
func (e *Engine) Policies() *authz.DynamicService { return e.dynamic }

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Cache exposes the permission cache.
func (e *Engine) Cache() *cache.PermissionCache { return e.cache }

// MFA exposes the factor verifier for enrollment flows.
func (e *Engine) MFA() *mfa.Verifier { return e.verifier }

// Passwords exposes the hasher used to verify credentials, so account
// provisioning produces compatible hashes.
func (e *Engine) Passwords() *password.Hasher { return e.hasher }

// Audit exposes the audit logger.
func (e *Engine) Audit() *audit.Logger { return e.audit }

// Invalidator returns the cache change handler. Build installs it on stores
// that accept one; adapters that do not must call it after every write.
func (e *Engine) Invalidator() store.Invalidator { return e.changes }

// Start schedules background maintenance: expired cache entries are swept
// and sessions past their refresh window are ended. It is a no-op when
// maintenance is disabled. Calling Start twice is an error.
func (e *Engine) Start() error {
	if !e.config.Maintenance.Enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine closed")
	}
	if e.scheduler != nil {
		return errors.New("maintenance already started")
	}

	clog := cronLogger{log: e.log.With().Str("component", "maintenance").Logger()}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if spec := e.config.Maintenance.CacheSweep; spec != "" {
		if _, err := c.AddFunc(spec, e.sweepCache); err != nil {
			return err
		}
	}
	if spec := e.config.Maintenance.SessionCleanup; spec != "" {
		if _, err := c.AddFunc(spec, e.cleanupSessions); err != nil {
			return err
		}
	}
	c.Start()
	e.scheduler = c
	return nil
}

// Close stops maintenance, waits for a running job, and drains queued audit
// events. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	scheduler := e.scheduler
	e.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	e.dispatcher.Close()
}

func (e *Engine) sweepCache() {
	if n := e.cache.Sweep(); n > 0 {
		e.log.Debug().Int("count", n).Msg("cache entries swept")
	}
}

func (e *Engine) cleanupSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	if _, err := e.sessions.CleanupExpired(ctx); err != nil {
		e.log.Error().Err(err).Msg("session cleanup failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
