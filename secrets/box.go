package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for keys that are not 16, 24, or 32 bytes.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = errors.New("decryption failed")
)

// Box seals small secrets (TOTP seeds) with AES-GCM. The nonce is returned
// separately so stores can keep it in its own column.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a raw AES key.
func NewBox(key []byte) (*Box, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext. additional binds the ciphertext to a context such
// as the owning factor ID and must be passed unchanged to Open.
func (b *Box) Seal(plaintext, additional []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return b.aead.Seal(nil, nonce, plaintext, additional), nonce, nil
}

// Open decrypts a ciphertext produced by Seal.
func (b *Box) Open(ciphertext, nonce, additional []byte) ([]byte, error) {
	if len(nonce) != b.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	out, err := b.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
