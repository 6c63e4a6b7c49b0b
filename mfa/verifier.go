package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/orgauth/secrets"
	"github.com/MrEthical07/orgauth/store"
)

var (
	// ErrInvalidCode is returned for wrong, malformed, or replayed codes.
	ErrInvalidCode = errors.New("invalid mfa code")
	// ErrFactorNotFound is returned when the factor does not exist, belongs to
	// another user, or is not verified.
	ErrFactorNotFound = errors.New("mfa factor not found")
	// ErrSecretUnavailable is returned when a stored seed cannot be opened.
	ErrSecretUnavailable = errors.New("mfa secret unavailable")
)

// Enrollment is an unverified factor together with what the user needs to
// register it in an authenticator app.
type Enrollment struct {
	Factor       store.MFAFactor
	SecretBase32 string
	URI          string
}

// Verifier checks codes against a user's stored factors.
type Verifier struct {
	users store.UserStore
	box   *secrets.Box
	totp  *TOTP
	now   func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier wires a user store, the seed box, and the TOTP profile.
func NewVerifier(users store.UserStore, box *secrets.Box, cfg TOTPConfig, opts ...VerifierOption) *Verifier {
	v := &Verifier{users: users, box: box, totp: NewTOTP(cfg), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// TOTP exposes the code generator.
func (v *Verifier) TOTP() *TOTP {
	return v.totp
}

// VerifiedFactors lists the user's usable factors.
func (v *Verifier) VerifiedFactors(ctx context.Context, userID string) ([]store.MFAFactor, error) {
	all, err := v.users.ListFactors(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.MFAFactor, 0, len(all))
	for _, f := range all {
		if f.Verified {
			out = append(out, f)
		}
	}
	return out, nil
}

// Verify checks code for factorID. factorID may be empty, in which case every
// verified factor of the user is tried.
func (v *Verifier) Verify(ctx context.Context, userID, factorID, code string) (store.MFAFactor, error) {
	factors, err := v.VerifiedFactors(ctx, userID)
	if err != nil {
		return store.MFAFactor{}, err
	}

	matched := false
	for _, f := range factors {
		if factorID != "" && f.ID != factorID {
			continue
		}
		matched = true
		ok, counter, err := v.check(ctx, f, code)
		if err != nil {
			return store.MFAFactor{}, err
		}
		if ok {
			f.LastUsedCounter = counter
			return f, nil
		}
	}
	if !matched {
		return store.MFAFactor{}, ErrFactorNotFound
	}
	return store.MFAFactor{}, ErrInvalidCode
}

// check verifies code and atomically claims its time step.
func (v *Verifier) check(ctx context.Context, f store.MFAFactor, code string) (bool, int64, error) {
	if f.Type != store.FactorTOTP {
		return false, 0, nil
	}
	secret, err := v.box.Open(f.SecretCipher, f.SecretNonce, []byte(f.ID))
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}

	counter, ok, err := v.totp.Match(secret, code, v.now(), f.LastUsedCounter)
	if err != nil || !ok {
		return false, 0, err
	}
	claimed, err := v.users.AdvanceFactorCounter(ctx, f.ID, counter)
	if err != nil || !claimed {
		return false, 0, err
	}
	return true, counter, nil
}

// Enroll creates an unverified TOTP factor with a sealed seed.
func (v *Verifier) Enroll(ctx context.Context, user store.User, friendlyName string) (*Enrollment, error) {
	raw, b32, err := v.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	f := store.MFAFactor{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Type:         store.FactorTOTP,
		FriendlyName: strings.TrimSpace(friendlyName),
		CreatedAt:    v.now(),
	}
	if f.SecretCipher, f.SecretNonce, err = v.box.Seal(raw, []byte(f.ID)); err != nil {
		return nil, err
	}
	if err := v.users.SaveFactor(ctx, f); err != nil {
		return nil, err
	}

	return &Enrollment{Factor: f, SecretBase32: b32, URI: v.totp.ProvisionURI(b32, user.Email)}, nil
}

// ConfirmEnrollment marks a pending factor verified once the user proves
// possession with a valid code.
func (v *Verifier) ConfirmEnrollment(ctx context.Context, userID, factorID, code string) error {
	all, err := v.users.ListFactors(ctx, userID)
	if err != nil {
		return err
	}
	for _, f := range all {
		if f.ID != factorID {
			continue
		}
		if f.Verified {
			return nil
		}
		ok, counter, err := v.check(ctx, f, code)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCode
		}
		f.Verified = true
		// SaveFactor writes the whole row; carry the claimed step so it is not rewound.
		f.LastUsedCounter = counter
		return v.users.SaveFactor(ctx, f)
	}
	return ErrFactorNotFound
}
