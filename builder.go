package orgauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
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
	"github.com/MrEthical07/orgauth/secrets"
	"github.com/MrEthical07/orgauth/session"
	"github.com/MrEthical07/orgauth/store"
)

// Stores groups the data-store ports the engine reads. A single adapter such
// as store/memory or store/postgres usually fills every field.
type Stores struct {
	Memberships   store.MembershipStore
	Organizations store.OrganizationStore
	Users         store.UserStore
	Resources     store.ResourceStore
}

// invalidatorSetter is implemented by adapters that accept a change listener.
type invalidatorSetter interface {
	SetInvalidator(inv store.Invalidator)
}

// Builder assembles an [Engine]. It is configured once during
// initialization and then discarded; Build may be called only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	stores      Stores
	sessionRepo session.Repository
	sinks       audit.Sinks
	ipPolicy    authz.IPPolicy

	log      zerolog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	built bool
}

// New starts a Builder from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for throttling, lockout, MFA challenges and,
// unless WithSessionRepository is given, sessions.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStores sets the data-store ports. Adapters that implement
// SetInvalidator get the engine's cache change handler installed by Build.
func (b *Builder) WithStores(s Stores) *Builder {
	b.stores = s
	return b
}

// WithSessionRepository overrides the Redis session repository.
func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessionRepo = repo
	return b
}

// WithAuditSinks sets the audit_logs and security_events destinations.
func (b *Builder) WithAuditSinks(s audit.Sinks) *Builder {
	b.sinks = s
	return b
}

// WithIPPolicy overrides the policy selected by Config.Policy.IPPolicy.
func (b *Builder) WithIPPolicy(p authz.IPPolicy) *Builder {
	b.ipPolicy = p
	return b
}

// WithLogger sets the diagnostic logger. The default discards everything.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.log = l
	return b
}

// WithMetrics attaches a Prometheus recorder to every component.
func (b *Builder) WithMetrics(r *metrics.Recorder) *Builder {
	b.recorder = r
	return b
}

// WithClock overrides the time source of every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build validates the configuration and wires the engine. It performs no I/O
// beyond registering metrics.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.stores.Memberships == nil || b.stores.Organizations == nil ||
		b.stores.Users == nil || b.stores.Resources == nil {
		return nil, errors.New("all stores must be provided")
	}

	log := b.log.With().Str("component", "orgauth").Logger()

	// -------- PRIMITIVES --------
	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	tickets, err := jwt.NewManager(cfg.Ticket, jwt.WithClock(b.now))
	if err != nil {
		return nil, fmt.Errorf("ticket: %w", err)
	}
	box, err := secrets.NewBox(cfg.MFA.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("mfa: %w", err)
	}

	// -------- AUDIT --------
	dispatcher := audit.NewDispatcher(cfg.Audit, b.sinks, b.log)
	auditLog := audit.NewLogger(dispatcher, audit.WithClock(b.now))
	if b.recorder != nil && dispatcher != nil {
		if err := b.recorder.WatchAuditDrops(dispatcher.Dropped); err != nil {
			dispatcher.Close()
			return nil, err
		}
	}

	// -------- PERMISSIONS --------
	cacheOpts := []cache.Option{cache.WithClock(b.now)}
	checkerOpts := []authz.CheckerOption{authz.WithAuditLogger(auditLog), authz.WithLogger(b.log)}
	dynamicOpts := []authz.DynamicOption{
		authz.WithPolicyClock(b.now),
		authz.WithPolicyAudit(auditLog),
		authz.WithPolicyLogger(b.log),
		authz.WithIPPolicy(b.resolveIPPolicy(cfg.Policy)),
	}
	sessionOpts := []session.Option{
		session.WithClock(b.now),
		session.WithAudit(auditLog),
		session.WithLogger(b.log),
	}
	if b.recorder != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(b.recorder))
		checkerOpts = append(checkerOpts, authz.WithObserver(b.recorder))
		dynamicOpts = append(dynamicOpts, authz.WithPolicyObserver(b.recorder))
		sessionOpts = append(sessionOpts, session.WithObserver(b.recorder))
	}

	permCache := cache.New(cfg.Cache, cacheOpts...)
	changes := cache.NewChangeHandler(permCache, auditLog, b.log)
	for _, s := range []any{b.stores.Memberships, b.stores.Organizations, b.stores.Users, b.stores.Resources} {
		if setter, ok := s.(invalidatorSetter); ok {
			setter.SetInvalidator(changes)
		}
	}

	checker := authz.NewChecker(b.stores.Memberships, permCache, checkerOpts...)
	dynamic := authz.NewDynamicService(checker, b.stores.Organizations, b.stores.Resources, permCache, dynamicOpts...)

	// -------- SESSIONS --------
	repo := b.sessionRepo
	if repo == nil {
		repo = session.NewRedisRepository(b.redis, cfg.Redis.SessionPrefix)
	}
	sessions := session.NewManager(repo, cfg.Session, sessionOpts...)

	// -------- SIGN-IN --------
	limiter := rate.New(b.redis, rate.Config{
		MaxAttemptsPerIdentifier: cfg.SignIn.MaxAttemptsPerIdentifier,
		MaxAttemptsPerIP:         cfg.SignIn.MaxAttemptsPerIP,
		Window:                   cfg.SignIn.Window,
	})
	lockout := rate.NewLockout(b.redis, rate.LockoutConfig{
		Enabled:   cfg.SignIn.LockoutEnabled,
		Threshold: cfg.SignIn.LockoutThreshold,
		Duration:  cfg.SignIn.LockoutDuration,
	})
	local := rate.NewLocal(rate.LocalConfig{
		Enabled:   cfg.SignIn.Local.Enabled,
		PerSecond: cfg.SignIn.Local.PerSecond,
		Burst:     cfg.SignIn.Local.Burst,
		IdleTTL:   cfg.SignIn.Local.IdleTTL,
		MaxKeys:   cfg.SignIn.Local.MaxKeys,
	})

	b.built = true

	return &Engine{
		config:     cfg,
		log:        log,
		now:        b.now,
		stores:     b.stores,
		cache:      permCache,
		changes:    changes,
		checker:    checker,
		dynamic:    dynamic,
		sessions:   sessions,
		hasher:     hasher,
		tickets:    tickets,
		challenges: stores.NewChallengeStore(b.redis, cfg.Redis.ChallengePrefix, b.now),
		verifier:   mfa.NewVerifier(b.stores.Users, box, cfg.MFA.TOTP, mfa.WithClock(b.now)),
		limiter:    limiter,
		lockout:    lockout,
		local:      local,
		dispatcher: dispatcher,
		audit:      auditLog,
		recorder:   b.recorder,
	}, nil
}

func (b *Builder) resolveIPPolicy(cfg PolicyConfig) authz.IPPolicy {
	if b.ipPolicy != nil {
		return b.ipPolicy
	}
	if cfg.IPPolicy == IPPolicyList {
		return authz.ListIPPolicy{}
	}
	return authz.EdgeIPPolicy{}
}
