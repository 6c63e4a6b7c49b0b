package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const seedBytes = 20

var seedEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var pow10 = [...]uint32{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

var algorithms = map[string]func() hash.Hash{
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
	"SHA512": sha512.New,
}

// TOTPConfig controls code generation and the accepted clock skew.
type TOTPConfig struct {
	Issuer    string `yaml:"issuer"`
	Digits    int    `yaml:"digits"`
	Period    int    `yaml:"period"`
	Skew      int    `yaml:"skew"`
	Algorithm string `yaml:"algorithm"`
}

// DefaultTOTPConfig is the authenticator-app compatible profile: 6 digits,
// 30 second steps, SHA1, one step of skew either side.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{Issuer: "orgauth", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"}
}

// Validate rejects configurations authenticator apps cannot use.
func (c TOTPConfig) Validate() error {
	if c.Digits < 6 || c.Digits > 8 {
		return errors.New("totp digits must be in [6, 8]")
	}
	if c.Period <= 0 {
		return errors.New("totp period must be > 0")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("totp skew must be in [0, 3]")
	}
	if _, err := lookupAlgorithm(c.Algorithm); err != nil {
		return err
	}
	return nil
}

func lookupAlgorithm(name string) (func() hash.Hash, error) {
	if name == "" {
		return sha1.New, nil
	}
	h, ok := algorithms[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported totp algorithm %q", name)
	}
	return h, nil
}

// TOTP generates and matches RFC 6238 codes. Steps are counted from the Unix
// epoch in units of Period seconds.
type TOTP struct {
	cfg  TOTPConfig
	hash func() hash.Hash
}

// NewTOTP builds a TOTP with cfg. An empty or unknown algorithm means SHA1;
// call TOTPConfig.Validate first to reject unknown ones.
func NewTOTP(cfg TOTPConfig) *TOTP {
	h, err := lookupAlgorithm(cfg.Algorithm)
	if err != nil || cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
		h = sha1.New
	}
	if cfg.Digits <= 0 || cfg.Digits >= len(pow10) {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	return &TOTP{cfg: cfg, hash: h}
}

// GenerateSecret returns a fresh seed and its unpadded base32 form.
func (m *TOTP) GenerateSecret() ([]byte, string, error) {
	seed := make([]byte, seedBytes)
	if _, err := rand.Read(seed); err != nil {
		return nil, "", err
	}
	return seed, seedEncoding.EncodeToString(seed), nil
}

// ProvisionURI builds the otpauth:// URI shown as a QR code during enrollment.
func (m *TOTP) ProvisionURI(secretBase32, account string) string {
	q := url.Values{
		"secret":    {secretBase32},
		"issuer":    {m.cfg.Issuer},
		"period":    {strconv.Itoa(m.cfg.Period)},
		"digits":    {strconv.Itoa(m.cfg.Digits)},
		"algorithm": {strings.ToUpper(m.cfg.Algorithm)},
	}
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + m.cfg.Issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Step is the time step containing t.
func (m *TOTP) Step(t time.Time) int64 {
	return t.Unix() / int64(m.cfg.Period)
}

// Code returns the code for the step containing now.
func (m *TOTP) Code(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty totp secret")
	}
	return m.codeAt(secret, m.Step(now)), nil
}

// Match looks for code among the steps within the configured skew of now,
// skipping every step at or below lastUsed, and returns the matching step.
// Passing the factor's last accepted step makes a code single use.
func (m *TOTP) Match(secret []byte, code string, now time.Time, lastUsed int64) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if !m.wellFormed(code) {
		return 0, false, nil
	}
	if len(secret) == 0 {
		return 0, false, errors.New("empty totp secret")
	}

	current := m.Step(now)
	lo := max(current-int64(m.cfg.Skew), lastUsed+1, 0)
	for step := lo; step <= current+int64(m.cfg.Skew); step++ {
		if subtle.ConstantTimeCompare([]byte(m.codeAt(secret, step)), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func (m *TOTP) wellFormed(code string) bool {
	if len(code) != m.cfg.Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// codeAt is HOTP (RFC 4226) over the step counter with dynamic truncation.
func (m *TOTP) codeAt(secret []byte, step int64) string {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(step))

	mac := hmac.New(m.hash, secret)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", m.cfg.Digits, value%pow10[m.cfg.Digits])
}
