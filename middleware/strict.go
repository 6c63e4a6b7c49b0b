package middleware

import (
	"net/http"

	"github.com/MrEthical07/orgauth/permission"
)

// RequireAll protects a route that needs every listed permission.
func RequireAll(engine Engine, perms ...permission.Permission) func(http.Handler) http.Handler {
	return Protect(engine, Options{Permissions: perms, RequireAll: true})
}

// RequireAny protects a route that needs at least one listed permission.
func RequireAny(engine Engine, perms ...permission.Permission) func(http.Handler) http.Handler {
	return Protect(engine, Options{Permissions: perms})
}

// Authenticated protects a route that only needs a valid session.
func Authenticated(engine Engine) func(http.Handler) http.Handler {
	return Protect(engine, Options{})
}
