package commands

import (
	"context"
	"errors"

	"github.com/MrEthical07/orgauth/store/postgres"
)

type MigrateCmd struct {
	Config     string `help:"path to YAML config file" type:"path" env:"ORGAUTH_CONFIG"`
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log := newLogger(globals.Debug)

	cfg, err := loadFileConfig(m.Config)
	if err != nil {
		return err
	}
	if m.ConnString != "" {
		cfg.Postgres.DSN = m.ConnString
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("PostgreSQL connection string is required (--conn-string or POSTGRES_CONNECTION_STRING)")
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := postgres.Migrate(ctx, db, log)
	if err != nil {
		return err
	}
	log.Info().Int("applied", n).Msg("schema up to date")
	return nil
}
