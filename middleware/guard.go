package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/orgauth"
	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/permission"
)

const (
	// SessionCookie is read when no Authorization header is present.
	SessionCookie = "orgauth_session"
	// RotatedTokenHeader carries the replacement token after rotation or refresh.
	RotatedTokenHeader = "X-Session-Token"
)

// Engine is the part of *orgauth.Engine the guard needs.
type Engine interface {
	ValidateSession(ctx context.Context, token string) (*orgauth.Principal, error)
	Authorize(ctx context.Context, p *orgauth.Principal, perms []permission.Permission, requireAll bool) error
}

// Auditor is implemented by engines that expose their audit trail.
// *orgauth.Engine does.
type Auditor interface {
	Audit() *audit.Logger
}

// Options describe what a route demands.
type Options struct {
	Permissions []permission.Permission
	RequireAll  bool
	// AllowPublic lets requests through without a principal when there is no
	// valid session, or when the session lacks Permissions. The principal is
	// injected only when the session satisfies every requirement.
	AllowPublic bool
	RequireMFA  bool
	// Resource names the table the route reads or writes. When set and the
	// engine is an Auditor, every response is recorded as a data-access
	// event classified by method, table, and status.
	Resource string
	// ClientIP extracts the caller address. Defaults to the RemoteAddr host.
	ClientIP func(*http.Request) string
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal injected by Protect.
func PrincipalFromContext(ctx context.Context) (*orgauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*orgauth.Principal)
	return p, ok && p != nil
}

// Protect returns middleware that resolves the session token, enforces opts,
// and injects the principal and request metadata into the context.
func Protect(engine Engine, opts Options) func(http.Handler) http.Handler {
	clientIP := opts.ClientIP
	if clientIP == nil {
		clientIP = RemoteIP
	}
	perms := append([]permission.Permission(nil), opts.Permissions...)

	var trail *audit.Logger
	if a, ok := engine.(Auditor); ok && opts.Resource != "" {
		trail = a.Audit()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ctx := orgauth.WithClientIP(r.Context(), ip)
			ctx = orgauth.WithUserAgent(ctx, r.UserAgent())

			var p *orgauth.Principal
			if trail != nil {
				sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
				w = sw
				defer func() {
					f := audit.Fields{IPAddress: ip, UserAgent: r.UserAgent()}
					if p != nil {
						f.OrganizationID = p.OrganizationID
						f.UserID = p.UserID
						f.SessionID = p.SessionID
					}
					trail.DataAccess(ctx, operationFor(r.Method), opts.Resource, sw.code, f)
				}()
			}

			if engine == nil {
				writeError(w, orgauth.ErrUnauthenticated)
				return
			}

			public := func() {
				next.ServeHTTP(w, r.WithContext(ctx))
			}

			token, ok := TokenFromRequest(r)
			if !ok {
				if opts.AllowPublic {
					public()
					return
				}
				writeError(w, orgauth.ErrUnauthenticated)
				return
			}

			resolved, err := engine.ValidateSession(ctx, token)
			if err != nil {
				if opts.AllowPublic && orgauth.KindOf(err) == orgauth.KindUnauthenticated {
					public()
					return
				}
				writeError(w, err)
				return
			}
			p = resolved
			if p.Token != "" {
				w.Header().Set(RotatedTokenHeader, p.Token)
			}

			if opts.RequireMFA && !p.MFAVerified {
				if opts.AllowPublic {
					public()
					return
				}
				writeError(w, orgauth.ErrMFARequired)
				return
			}
			if err := engine.Authorize(ctx, p, perms, opts.RequireAll); err != nil {
				if opts.AllowPublic && orgauth.KindOf(err) == orgauth.KindForbidden {
					public()
					return
				}
				writeError(w, err)
				return
			}

			ctx = context.WithValue(ctx, principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func operationFor(method string) audit.Operation {
	switch method {
	case http.MethodPost:
		return audit.OpInsert
	case http.MethodPut, http.MethodPatch:
		return audit.OpUpdate
	case http.MethodDelete:
		return audit.OpDelete
	default:
		return audit.OpSelect
	}
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// TokenFromRequest reads the session token from a Bearer header, falling
// back to the session cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearerToken(h)
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// RemoteIP returns the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error              string `json:"error"`
	Message            string `json:"message"`
	RequiredPermission string `json:"required_permission,omitempty"`
	Role               string `json:"role,omitempty"`
}

// WriteError renders err as the JSON error body used by Protect.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}

func writeError(w http.ResponseWriter, err error) {
	var e *orgauth.Error
	if !errors.As(err, &e) {
		e = orgauth.ErrStoreUnavailable
	}
	body := errorBody{Error: e.Kind.String(), Message: e.Message}
	if e.Kind == orgauth.KindForbidden {
		body.RequiredPermission = e.Permission
		body.Role = e.Role
	}

	w.Header().Set("Content-Type", "application/json")
	if e.Kind == orgauth.KindUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="orgauth"`)
	}
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
