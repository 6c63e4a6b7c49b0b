package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps tests quick while staying above the parameter floor.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Memory = 8 * 1024
	cfg.Time = 1
	cfg.Parallelism = 1
	return cfg
}

func newHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := New(cfg)
	require.NoError(t, err)
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t, fastConfig())

	encoded, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := h.Verify("correct horse battery", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("correct horse battery!", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newHasher(t, fastConfig())
	a, err := h.Hash("same password here")
	require.NoError(t, err)
	b, err := h.Hash("same password here")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newHasher(t, fastConfig())
	_, err := h.Hash("short")
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := newHasher(t, fastConfig())
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5aw",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5aw",
		"$argon2id$v=19$m=16,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5aw",
		"$argon2id$v=19$m=8192,t=1,p=1$c2hvcnQ$a2V5a2V5a2V5a2V5a2V5aw",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$!!!",
	} {
		_, err := h.Verify("whatever password", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}
}

func TestVerifyAcceptsPaddedSegments(t *testing.T) {
	h := newHasher(t, fastConfig())
	encoded, err := h.Hash("padded segments ok")
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	for len(parts[4])%4 != 0 {
		parts[4] += "="
	}
	for len(parts[5])%4 != 0 {
		parts[5] += "="
	}
	ok, err := h.Verify("padded segments ok", strings.Join(parts, "$"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNeedsRehash(t *testing.T) {
	weak := newHasher(t, fastConfig())
	encoded, err := weak.Hash("upgrade me please")
	require.NoError(t, err)

	need, err := weak.NeedsRehash(encoded)
	require.NoError(t, err)
	assert.False(t, need)

	stronger := fastConfig()
	stronger.Time = 2
	need, err = newHasher(t, stronger).NeedsRehash(encoded)
	require.NoError(t, err)
	assert.True(t, need)

	ok, err := newHasher(t, stronger).Verify("upgrade me please", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Memory = 1024
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SaltLength = 8
	assert.Error(t, cfg.Validate())

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEqualizeDoesNotPanic(t *testing.T) {
	h := newHasher(t, fastConfig())
	h.Equalize("nobody's password")
}
