package orgauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/jwt"
	"github.com/MrEthical07/orgauth/mfa"
	"github.com/MrEthical07/orgauth/password"
	"github.com/MrEthical07/orgauth/session"
)

// Config is the complete engine configuration. Zero-valued sections are not
// filled in by Build; start from [DefaultConfig] and override.
type Config struct {
	Session     session.Config    `yaml:"session"`
	Cache       cache.Config      `yaml:"cache"`
	Audit       audit.Config      `yaml:"audit"`
	SignIn      SignInConfig      `yaml:"sign_in"`
	MFA         MFAConfig         `yaml:"mfa"`
	Ticket      jwt.Config        `yaml:"ticket"`
	Password    password.Config   `yaml:"password"`
	Policy      PolicyConfig      `yaml:"policy"`
	Redis       RedisConfig       `yaml:"redis"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// SignInConfig controls attempt throttling and account lockout.
type SignInConfig struct {
	MaxAttemptsPerIdentifier int           `yaml:"max_attempts_per_identifier"`
	MaxAttemptsPerIP         int           `yaml:"max_attempts_per_ip"`
	Window                   time.Duration `yaml:"window"`

	LockoutEnabled   bool          `yaml:"lockout_enabled"`
	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`

	Local LocalLimitConfig `yaml:"local"`
}

// LocalLimitConfig is the in-process token bucket applied per client IP
// before any Redis round-trip.
type LocalLimitConfig struct {
	Enabled   bool          `yaml:"enabled"`
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
	IdleTTL   time.Duration `yaml:"idle_ttl"`
	MaxKeys   int           `yaml:"max_keys"`
}

// MFAConfig controls second-factor verification. EncryptionKey seals factor
// seeds at rest and is never read from YAML.
type MFAConfig struct {
	TOTP          mfa.TOTPConfig `yaml:"totp"`
	MaxAttempts   int            `yaml:"max_attempts"`
	EncryptionKey []byte         `yaml:"-"`
}

// IP policy modes.
const (
	IPPolicyEdge = "edge"
	IPPolicyList = "list"
)

// PolicyConfig selects how the dynamic pipeline treats client IPs.
type PolicyConfig struct {
	IPPolicy string `yaml:"ip_policy"`
}

// RedisConfig holds key prefixes for the Redis-backed components.
type RedisConfig struct {
	SessionPrefix   string `yaml:"session_prefix"`
	ChallengePrefix string `yaml:"challenge_prefix"`
}

// MetricsConfig toggles Prometheus instrumentation in the binary.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MaintenanceConfig schedules background upkeep. Schedules use cron syntax,
// including descriptors such as "@every 5m".
type MaintenanceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CacheSweep     string `yaml:"cache_sweep"`
	SessionCleanup string `yaml:"session_cleanup"`
}

// DefaultConfig returns the production defaults. Ticket.PrivateKey and
// MFA.EncryptionKey must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session:  session.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Audit:    audit.DefaultConfig(),
		Ticket:   jwt.DefaultConfig(),
		Password: password.DefaultConfig(),
		SignIn: SignInConfig{
			MaxAttemptsPerIdentifier: 10,
			MaxAttemptsPerIP:         50,
			Window:                   15 * time.Minute,
			LockoutEnabled:           true,
			LockoutThreshold:         5,
			LockoutDuration:          15 * time.Minute,
			Local: LocalLimitConfig{
				Enabled:   true,
				PerSecond: 5,
				Burst:     20,
				IdleTTL:   10 * time.Minute,
				MaxKeys:   100000,
			},
		},
		MFA: MFAConfig{
			TOTP:        mfa.DefaultTOTPConfig(),
			MaxAttempts: 5,
		},
		Policy: PolicyConfig{IPPolicy: IPPolicyEdge},
		Redis: RedisConfig{
			SessionPrefix:   "oss",
			ChallengePrefix: "omc",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			CacheSweep:     "@every 60s",
			SessionCleanup: "@every 5m",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Ticket.PrivateKey = cloneBytes(cfg.Ticket.PrivateKey)
	out.Ticket.PublicKey = cloneBytes(cfg.Ticket.PublicKey)
	if cfg.Ticket.VerifyKeys != nil {
		out.Ticket.VerifyKeys = make(map[string][]byte, len(cfg.Ticket.VerifyKeys))
		for kid, key := range cfg.Ticket.VerifyKeys {
			out.Ticket.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.MFA.EncryptionKey = cloneBytes(cfg.MFA.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks every section. Key material is checked for presence here
// and for shape when the engine is built.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	if err := c.MFA.TOTP.Validate(); err != nil {
		return fmt.Errorf("mfa: %w", err)
	}

	// Cache
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("Cache TTL must be > 0 when enabled")
	}
	if c.Cache.MaxEntries < 0 {
		return errors.New("Cache MaxEntries must be >= 0")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0")
		}
		if c.Audit.MaxAttempts <= 0 {
			return errors.New("Audit MaxAttempts must be > 0")
		}
	}

	// Sign-in
	if c.SignIn.Window <= 0 {
		return errors.New("SignIn Window must be > 0")
	}
	if c.SignIn.MaxAttemptsPerIdentifier < 0 || c.SignIn.MaxAttemptsPerIP < 0 {
		return errors.New("SignIn attempt budgets must be >= 0")
	}
	if c.SignIn.LockoutEnabled {
		if c.SignIn.LockoutThreshold <= 0 {
			return errors.New("SignIn LockoutThreshold must be > 0")
		}
		if c.SignIn.LockoutDuration <= 0 {
			return errors.New("SignIn LockoutDuration must be > 0")
		}
	}
	if c.SignIn.Local.Enabled && (c.SignIn.Local.PerSecond <= 0 || c.SignIn.Local.Burst <= 0) {
		return errors.New("SignIn Local PerSecond and Burst must be > 0")
	}

	// MFA
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}
	if len(c.MFA.EncryptionKey) == 0 {
		return errors.New("MFA EncryptionKey is required")
	}

	// Ticket
	if c.Ticket.SigningMethod != jwt.MethodHS256 && c.Ticket.SigningMethod != jwt.MethodEd25519 {
		return errors.New("unsupported Ticket signing method")
	}
	if len(c.Ticket.PrivateKey) == 0 {
		return errors.New("Ticket PrivateKey is required")
	}

	// Policy
	switch c.Policy.IPPolicy {
	case "", IPPolicyEdge, IPPolicyList:
	default:
		return fmt.Errorf("unknown Policy IPPolicy %q", c.Policy.IPPolicy)
	}

	// Maintenance
	if c.Maintenance.Enabled {
		for name, spec := range map[string]string{
			"CacheSweep":     c.Maintenance.CacheSweep,
			"SessionCleanup": c.Maintenance.SessionCleanup,
		} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("Maintenance %s: %w", name, err)
			}
		}
	}

	return nil
}
