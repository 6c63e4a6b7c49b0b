// Command orgauthd serves the orgauth sign-in and session API and applies
// the PostgreSQL schema.
package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/MrEthical07/orgauth/cmd/orgauthd/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool                `help:"Enable debug logging." env:"ORGAUTH_DEBUG"`
		Version kong.VersionFlag    `help:"Print version and exit."`
		Serve   commands.ServeCmd   `cmd:"" help:"Start the HTTP API."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply the PostgreSQL schema."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("orgauthd"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
