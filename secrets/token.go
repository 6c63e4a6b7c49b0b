package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// TokenSize is the number of random bytes behind every bearer token.
const TokenSize = 32

// ErrMalformedToken is returned when a presented token does not decode to TokenSize bytes.
var ErrMalformedToken = errors.New("malformed token")

// Digest is the SHA-256 of a token's raw bytes. Only digests are stored.
type Digest [32]byte

// Hex returns the lowercase hex form used as a storage key.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// ParseDigest decodes the hex form produced by Hex.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(raw) != len(d) {
		return d, ErrMalformedToken
	}
	copy(d[:], raw)
	return d, nil
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewToken mints a bearer token and its digest.
func NewToken() (string, Digest, error) {
	var raw [TokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", Digest{}, err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[:]), nil
}

// HashToken decodes a presented token and returns its digest.
func HashToken(token string) (Digest, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(raw) != TokenSize {
		return Digest{}, ErrMalformedToken
	}
	return sha256.Sum256(raw), nil
}
