package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth"
	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/metrics"
	"github.com/MrEthical07/orgauth/store/memory"
	"github.com/MrEthical07/orgauth/store/postgres"
)

type ServeCmd struct {
	Listen string `help:"HTTP listen address" default:"0.0.0.0:8080" env:"ORGAUTH_LISTEN"`
	Config string `help:"path to YAML config file" type:"path" env:"ORGAUTH_CONFIG"`

	RedisAddr     string `help:"Redis address" required:"" env:"ORGAUTH_REDIS_ADDR"`
	RedisPassword string `help:"Redis password" env:"ORGAUTH_REDIS_PASSWORD"`
	RedisDB       int    `help:"Redis database" default:"0" env:"ORGAUTH_REDIS_DB"`

	StoreType   string `help:"store type (memory or postgres)" default:"memory" env:"ORGAUTH_STORE_TYPE" enum:"memory,postgres"`
	ConnString  string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	AutoMigrate bool   `help:"apply the schema on startup" default:"false" env:"ORGAUTH_AUTO_MIGRATE"`
	Sessions    string `help:"session repository (redis or postgres)" default:"redis" env:"ORGAUTH_SESSION_STORE" enum:"redis,postgres"`

	Keys KeyFlags `embed:""`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := newLogger(globals.Debug)

	cfg, err := loadFileConfig(s.Config)
	if err != nil {
		return err
	}
	if err := s.Keys.apply(&cfg.Engine); err != nil {
		return err
	}
	if s.ConnString != "" {
		cfg.Postgres.DSN = s.ConnString
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var recorder *metrics.Recorder
	if cfg.Engine.Metrics.Enabled {
		if recorder, err = metrics.New(reg); err != nil {
			return err
		}
	}

	builder := orgauth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithLogger(log).
		WithMetrics(recorder)

	switch s.StoreType {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("PostgreSQL connection string is required (--conn-string or POSTGRES_CONNECTION_STRING)")
		}
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		if s.AutoMigrate {
			if _, err := postgres.Migrate(ctx, db, log); err != nil {
				return err
			}
		}
		data := postgres.New(db, postgres.WithLogger(log))
		builder = builder.
			WithStores(orgauth.Stores{Memberships: data, Organizations: data, Users: data, Resources: data}).
			WithAuditSinks(postgres.Sinks(db))
		if s.Sessions == "postgres" {
			builder = builder.WithSessionRepository(postgres.NewSessionRepository(db))
		}
	default:
		if s.Sessions == "postgres" {
			return errors.New("postgres sessions require --store-type=postgres")
		}
		data := memory.New()
		sink := logSink{log: log.With().Str("component", "audit_sink").Logger()}
		builder = builder.
			WithStores(orgauth.Stores{Memberships: data, Organizations: data, Users: data, Resources: data}).
			WithAuditSinks(audit.Sinks{AuditLog: sink, SecurityEvents: sink})
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	for _, w := range engine.SecurityReport().Warnings {
		log.Warn().Str("component", "posture").Msg(w)
	}
	if err := engine.Start(); err != nil {
		return err
	}

	api := NewAPI(engine, log, recorder)
	srv := configureHTTPServer(s.Listen, api.Router(reg, cfg.Engine.Metrics))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("version", globals.Version).Str("listen", s.Listen).Str("store", s.StoreType).Msg("serving")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logSink writes audit events to the process log. Used with the memory
// store, where there is no durable audit table.
type logSink struct {
	log zerolog.Logger
}

func (s logSink) Write(_ context.Context, e audit.Event) error {
	s.log.Info().
		Str("event_type", e.EventType).
		Stringer("severity", e.Severity).
		Str("user_id", e.UserID).
		Str("organization_id", e.OrganizationID).
		Str("ip", e.IPAddress).
		Msg("audit")
	return nil
}
