package orgauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesSentinelAndKind(t *testing.T) {
	err := wrap(ErrInvalidSession, errors.New("membership not active"))

	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "invalid or expired session: membership not active", err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvalidSession)
	assert.Equal(t, KindUnauthenticated, KindOf(wrapped))
}

func TestSpecificSentinelsDoNotMatchEachOther(t *testing.T) {
	assert.NotErrorIs(t, ErrInvalidCredentials, ErrInvalidSession)
	assert.ErrorIs(t, ErrInvalidCredentials, ErrUnauthenticated)
	assert.ErrorIs(t, ErrMFANotConfigured, ErrMFARequired)
	assert.ErrorIs(t, ErrOrganizationRequired, ErrValidation)
	assert.NotErrorIs(t, ErrUnauthenticated, ErrInvalidCredentials)
}

func TestForbiddenCarriesPermissionAndRole(t *testing.T) {
	err := forbidden("finance:delete", "member")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "insufficient permissions", err.Error())
	assert.Equal(t, "finance:delete", err.Permission)
	assert.Equal(t, "member", err.Role)
	assert.Empty(t, ErrForbidden.Permission)
}

func TestValidationKeepsMessage(t *testing.T) {
	err := validation("email is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "email is required", err.Error())
	assert.Equal(t, "invalid request", ErrValidation.Message)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*Error]int{
		ErrInvalidCredentials:   401,
		ErrInvalidSession:       401,
		ErrForbidden:            403,
		ErrMFANotConfigured:     403,
		ErrRateLimited:          429,
		ErrOrganizationRequired: 400,
		ErrStoreUnavailable:     503,
		&Error{}:                500,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.HTTPStatus(), err.Message)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(ErrRateLimited))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, "store_unavailable", KindStoreUnavailable.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
