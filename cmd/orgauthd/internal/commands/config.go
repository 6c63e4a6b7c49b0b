package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/orgauth"
	"github.com/MrEthical07/orgauth/store/postgres"
)

// FileConfig is the on-disk configuration. Key material is never read from
// the file; it comes from flags or the environment.
type FileConfig struct {
	Engine   orgauth.Config      `yaml:"engine"`
	Postgres postgres.PoolConfig `yaml:"postgres"`
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Engine:   orgauth.DefaultConfig(),
		Postgres: postgres.DefaultPoolConfig(),
	}
}

// loadFileConfig overlays the YAML file at path, if any, on the defaults.
func loadFileConfig(path string) (FileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// KeyFlags carries the secrets the engine needs.
type KeyFlags struct {
	TicketKey string `help:"base64 sign-in ticket signing key" env:"ORGAUTH_TICKET_KEY"`
	MFAKey    string `help:"base64 32-byte MFA secret encryption key" env:"ORGAUTH_MFA_KEY"`
}

func (k KeyFlags) apply(cfg *orgauth.Config) error {
	ticket, err := decodeKey("ticket", k.TicketKey)
	if err != nil {
		return err
	}
	mfaKey, err := decodeKey("mfa", k.MFAKey)
	if err != nil {
		return err
	}
	cfg.Ticket.PrivateKey = ticket
	cfg.MFA.EncryptionKey = mfaKey
	return nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s key is required", name)
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", name, err)
	}
	return key, nil
}
