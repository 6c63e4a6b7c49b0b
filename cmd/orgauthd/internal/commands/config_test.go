package commands

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/orgauth"
)

func TestLoadFileConfigDefaults(t *testing.T) {
	cfg, err := loadFileConfig("")
	require.NoError(t, err)
	assert.Equal(t, orgauth.DefaultConfig().Session, cfg.Engine.Session)
	assert.Equal(t, 50, cfg.Postgres.MaxOpenConns)
}

func TestLoadFileConfigOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orgauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  session:
    access_ttl: 10m
    max_active_per_user: 3
  policy:
    ip_policy: list
postgres:
  dsn: postgres://localhost/orgauth
`), 0o600))

	cfg, err := loadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Session.AccessTTL)
	assert.Equal(t, 3, cfg.Engine.Session.MaxActivePerUser)
	assert.Equal(t, orgauth.DefaultConfig().Session.RefreshTTL, cfg.Engine.Session.RefreshTTL)
	assert.Equal(t, orgauth.IPPolicyList, cfg.Engine.Policy.IPPolicy)
	assert.Equal(t, "postgres://localhost/orgauth", cfg.Postgres.DSN)
}

func TestLoadFileConfigErrors(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [1, 2"), 0o600))
	_, err = loadFileConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestKeyFlagsApply(t *testing.T) {
	key := make([]byte, 32)
	enc := base64.StdEncoding.EncodeToString(key)

	cfg := orgauth.DefaultConfig()
	require.NoError(t, KeyFlags{TicketKey: enc, MFAKey: enc}.apply(&cfg))
	assert.Len(t, cfg.Ticket.PrivateKey, 32)
	assert.Len(t, cfg.MFA.EncryptionKey, 32)
	assert.NoError(t, cfg.Validate())

	assert.ErrorContains(t, KeyFlags{MFAKey: enc}.apply(&cfg), "ticket key is required")
	assert.ErrorContains(t, KeyFlags{TicketKey: enc, MFAKey: "%%%"}.apply(&cfg), "mfa key")
}
