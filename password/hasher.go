package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
)

var (
	// ErrTooShort is returned by Hash for passwords below Config.MinLength bytes.
	ErrTooShort = errors.New("password too short")
	// ErrInvalidHash is returned when a stored hash is not a supported PHC string.
	ErrInvalidHash = errors.New("invalid password hash")
)

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32 `yaml:"memory_kb"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
	MinLength   int    `yaml:"min_length"`
}

// DefaultConfig follows the OWASP Argon2id baseline.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   10,
	}
}

// Validate rejects parameters below the supported floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case c.Time < 1:
		return errors.New("password time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	case c.MinLength < 1:
		return errors.New("password min length must be >= 1")
	}
	return nil
}

// params is one decoded PHC string.
type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p params) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

func (p params) encode() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key))
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	cfg   Config
	dummy params
}

// New validates cfg and prepares the dummy hash used by Equalize.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hasher{cfg: cfg}

	salt := make([]byte, cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	h.dummy = params{memory: cfg.Memory, time: cfg.Time, parallelism: cfg.Parallelism, salt: salt, key: make([]byte, cfg.KeyLength)}
	return h, nil
}

// Hash returns the PHC encoding of password under a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < h.cfg.MinLength {
		return "", ErrTooShort
	}
	p := params{
		memory:      h.cfg.Memory,
		time:        h.cfg.Time,
		parallelism: h.cfg.Parallelism,
		salt:        make([]byte, h.cfg.SaltLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", err
	}
	p.key = make([]byte, h.cfg.KeyLength)
	p.key = p.derive(password)
	return p.encode(), nil
}

// Verify reports whether password matches encoded. A malformed hash returns
// ErrInvalidHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// Equalize burns the same work as a Verify against a real hash. Sign-in calls
// it when the account does not exist so response time does not reveal that.
func (h *Hasher) Equalize(password string) {
	_ = subtle.ConstantTimeCompare(h.dummy.derive(password), h.dummy.key)
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the current configuration.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < h.cfg.Memory ||
		p.time < h.cfg.Time ||
		p.parallelism < h.cfg.Parallelism ||
		uint32(len(p.key)) != h.cfg.KeyLength, nil
}

func decode(encoded string) (params, error) {
	var p params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return p, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if p.memory < minMemoryKB || p.time < 1 || p.parallelism < 1 {
		return p, fmt.Errorf("%w: parameters below floor", ErrInvalidHash)
	}

	var err error
	if p.salt, err = decodeSegment(parts[4]); err != nil || uint32(len(p.salt)) < minSaltLength {
		return p, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}
	if p.key, err = decodeSegment(parts[5]); err != nil || uint32(len(p.key)) < minKeyLength {
		return p, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}
	return p, nil
}

// decodeSegment accepts padded and unpadded base64 for hashes written by
// other PHC encoders.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
