package orgauth

import (
	"errors"
	"net/http"
)

// Kind classifies engine errors for transport mapping.
type Kind uint8

const (
	KindUnauthenticated Kind = iota + 1
	KindForbidden
	KindRateLimited
	KindMFARequired
	KindValidation
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindMFARequired:
		return "mfa_required"
	case KindValidation:
		return "validation_error"
	case KindStoreUnavailable:
		return "store_unavailable"
	}
	return "unknown"
}

// Error is returned by every Engine operation. Message is safe to show to the
// caller; Err carries the internal cause and is never rendered to clients.
type Error struct {
	Kind       Kind
	Message    string
	Permission string
	Role       string
	Err        error

	base  *Error
	class bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel e was derived from, and the kind-level sentinels
// (ErrUnauthenticated, ErrForbidden, ...) for any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.base != nil && e.base == t {
		return true
	}
	return t.class && t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden, KindMFARequired:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func kindError(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg, class: true}
}

var (
	ErrUnauthenticated  = kindError(KindUnauthenticated, "authentication required")
	ErrForbidden        = kindError(KindForbidden, "insufficient permissions")
	ErrRateLimited      = kindError(KindRateLimited, "too many attempts, try again later")
	ErrMFARequired      = kindError(KindMFARequired, "multi-factor authentication required")
	ErrValidation       = kindError(KindValidation, "invalid request")
	ErrStoreUnavailable = kindError(KindStoreUnavailable, "service temporarily unavailable")

	// ErrInvalidCredentials covers unknown accounts, wrong passwords, and
	// accounts without an active membership.
	ErrInvalidCredentials = &Error{Kind: KindUnauthenticated, Message: "invalid email or password"}
	// ErrInvalidSession covers missing, ended, expired, and superseded tokens.
	ErrInvalidSession = &Error{Kind: KindUnauthenticated, Message: "invalid or expired session"}
	// ErrMFANotConfigured is returned after password verification when a
	// second factor is required and the user has none.
	ErrMFANotConfigured = &Error{Kind: KindMFARequired, Message: "MFA required but not configured"}
	// ErrInvalidMFACode is returned for a wrong, malformed, or replayed code.
	ErrInvalidMFACode = &Error{Kind: KindUnauthenticated, Message: "invalid verification code"}
	// ErrMFAChallengeInvalid is returned for an unknown, used, or expired ticket.
	ErrMFAChallengeInvalid = &Error{Kind: KindUnauthenticated, Message: "sign-in challenge is invalid or expired"}
	// ErrOrganizationRequired is returned when a user with several memberships
	// signs in without naming one.
	ErrOrganizationRequired = &Error{Kind: KindValidation, Message: "organization must be specified"}
)

// wrap derives an error from sentinel base, keeping cause for logs.
func wrap(base *Error, cause error) *Error {
	out := *base
	out.Err = cause
	out.base = base
	out.class = false
	return &out
}

func forbidden(perm, role string) *Error {
	out := wrap(ErrForbidden, nil)
	out.Permission = perm
	out.Role = role
	return out
}

func validation(msg string) *Error {
	out := wrap(ErrValidation, nil)
	out.Message = msg
	return out
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
