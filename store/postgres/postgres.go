package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/store"
)

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig returns pool sizes suitable for a single API node.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    25,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Open opens a pgx-backed *sql.DB and checks connectivity.
func Open(ctx context.Context, cfg PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, mapError(err)
	}
	return db, nil
}

// Store implements the membership, organization, user, and resource ports.
type Store struct {
	db          *sql.DB
	invalidator store.Invalidator
	log         zerolog.Logger
	now         func() time.Time
}

var (
	_ store.MembershipStore   = (*Store)(nil)
	_ store.OrganizationStore = (*Store)(nil)
	_ store.UserStore         = (*Store)(nil)
	_ store.ResourceStore     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithInvalidator sets the hook called after committed writes.
func WithInvalidator(inv store.Invalidator) Option {
	return func(s *Store) { s.invalidator = inv }
}

// WithLogger sets the logger for write tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("component", "postgres").Logger() }
}

// WithClock overrides the updated_at source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInvalidator replaces the write hook.
func (s *Store) SetInvalidator(inv store.Invalidator) {
	s.invalidator = inv
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

func (s *Store) notify(ctx context.Context, ev store.ChangeEvent) {
	s.log.Debug().
		Str("table", ev.Table).
		Str("op", string(ev.Op)).
		Str("user_id", ev.UserID).
		Str("organization_id", ev.OrganizationID).
		Msg("row changed")
	if s.invalidator != nil {
		s.invalidator.OnChange(ctx, ev)
	}
}
