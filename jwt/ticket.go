package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the ticket signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// ErrInvalidTicket is returned for tickets that fail signature, claim, or
// expiry checks.
var ErrInvalidTicket = errors.New("invalid mfa ticket")

// Config controls ticket signing. Keys are raw bytes (HS256 secret, or an
// Ed25519 key in raw or PEM form); they are never read from YAML.
type Config struct {
	TTL           time.Duration     `yaml:"ttl"`
	SigningMethod SigningMethod     `yaml:"signing_method"`
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	Leeway        time.Duration     `yaml:"leeway"`
	KeyID         string            `yaml:"key_id"`
	PrivateKey    []byte            `yaml:"-"`
	PublicKey     []byte            `yaml:"-"`
	VerifyKeys    map[string][]byte `yaml:"-"`
}

// DefaultConfig is a five minute HS256 ticket. PrivateKey must still be set.
func DefaultConfig() Config {
	return Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodHS256,
		Issuer:        "orgauth",
		Audience:      "orgauth-mfa",
	}
}

// TicketClaims are carried by a pending-MFA ticket. Subject is the user ID
// and ID is the challenge ID.
type TicketClaims struct {
	OrganizationID string   `json:"org"`
	Factors        []string `json:"fct,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and parses tickets.
type Manager struct {
	config Config
	method jwt.SigningMethod
	sign   any
	verify any
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates cfg and resolves its keys.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.TTL <= 0 || cfg.TTL > 30*time.Minute {
		return nil, errors.New("ticket ttl must be in (0, 30m]")
	}
	if cfg.Leeway < 0 || cfg.Leeway > time.Minute {
		return nil, errors.New("ticket leeway must be in [0, 1m]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 ticket key must be at least 32 bytes")
		}
		m.method, m.sign, m.verify = jwt.SigningMethodHS256, cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.method, m.sign, m.verify = jwt.SigningMethodEdDSA, priv, priv.Public()
		if len(cfg.PublicKey) > 0 {
			if m.verify, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if _, err := m.verifyKey(key); err != nil {
			return nil, fmt.Errorf("verify key %q: %w", kid, err)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("key id is not present in verify keys")
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL is the ticket lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue signs a ticket for userID in orgID that may be completed with any of
// factorIDs. The returned claims carry the generated challenge ID.
func (m *Manager) Issue(userID, orgID string, factorIDs []string) (string, *TicketClaims, error) {
	if userID == "" || orgID == "" {
		return "", nil, errors.New("ticket requires user and organization")
	}
	now := m.now()
	claims := &TicketClaims{
		OrganizationID: orgID,
		Factors:        append([]string(nil), factorIDs...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.sign)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies the signature and registered claims of a ticket.
func (m *Manager) Parse(raw string) (*TicketClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(raw, &TicketClaims{}, m.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid || claims.ID == "" || claims.Subject == "" || claims.OrganizationID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.verifyKey(key)
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.verify, nil
}

func (m *Manager) verifyKey(key []byte) (any, error) {
	if m.method == jwt.SigningMethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
