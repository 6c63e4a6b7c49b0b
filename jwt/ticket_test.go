package jwt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hsKey = bytes.Repeat([]byte("k"), 32)

func newHS(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PrivateKey = hsKey
	m, err := NewManager(cfg, WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return m
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m := newHS(t, &now)

	raw, issued, err := m.Issue("u1", "o1", []string{"f1", "f2"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := m.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "o1", claims.OrganizationID)
	assert.Equal(t, []string{"f1", "f2"}, claims.Factors)
	assert.Equal(t, issued.ID, claims.ID)
	assert.Equal(t, now.Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestParseRejectsExpiredTicket(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m := newHS(t, &now)

	raw, _, err := m.Issue("u1", "o1", nil)
	require.NoError(t, err)

	now = now.Add(5*time.Minute + time.Second)
	_, err = m.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestParseRejectsForeignSignatures(t *testing.T) {
	now := time.Now()
	m := newHS(t, &now)

	cfg := DefaultConfig()
	cfg.PrivateKey = bytes.Repeat([]byte("x"), 32)
	other, err := NewManager(cfg)
	require.NoError(t, err)
	raw, _, err := other.Issue("u1", "o1", nil)
	require.NoError(t, err)
	_, err = m.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	unsigned := gjwt.NewWithClaims(gjwt.SigningMethodNone, TicketClaims{
		OrganizationID:   "o1",
		RegisteredClaims: gjwt.RegisteredClaims{ID: "c1", Subject: "u1", ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute))},
	})
	s, err := unsigned.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(s)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = m.Parse("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestParseRejectsWrongAudience(t *testing.T) {
	now := time.Now()
	m := newHS(t, &now)

	cfg := DefaultConfig()
	cfg.PrivateKey = hsKey
	cfg.Audience = "api"
	api, err := NewManager(cfg)
	require.NoError(t, err)
	raw, _, err := api.Issue("u1", "o1", nil)
	require.NoError(t, err)

	_, err = m.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestEd25519WithKeyRotation(t *testing.T) {
	pubOld, privOld, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubNew, privNew, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	verify := map[string][]byte{"old": pubOld, "new": pubNew}

	oldCfg := DefaultConfig()
	oldCfg.SigningMethod = MethodEd25519
	oldCfg.PrivateKey = privOld
	oldCfg.KeyID = "old"
	signer, err := NewManager(oldCfg)
	require.NoError(t, err)
	raw, _, err := signer.Issue("u1", "o1", nil)
	require.NoError(t, err)

	newCfg := DefaultConfig()
	newCfg.SigningMethod = MethodEd25519
	newCfg.PrivateKey = privNew
	newCfg.KeyID = "new"
	newCfg.VerifyKeys = verify
	rotated, err := NewManager(newCfg)
	require.NoError(t, err)

	claims, err := rotated.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	delete(verify, "old")
	_, err = rotated.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestNewManagerValidation(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewManager(cfg)
	assert.Error(t, err, "missing key")

	cfg.PrivateKey = hsKey
	cfg.TTL = time.Hour
	_, err = NewManager(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PrivateKey = hsKey
	cfg.SigningMethod = "rs256"
	_, err = NewManager(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PrivateKey = hsKey
	cfg.KeyID = "a"
	cfg.VerifyKeys = map[string][]byte{"b": hsKey}
	_, err = NewManager(cfg)
	assert.Error(t, err)
}
