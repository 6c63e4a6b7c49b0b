package commands

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth"
	"github.com/MrEthical07/orgauth/metrics"
	"github.com/MrEthical07/orgauth/middleware"
	"github.com/MrEthical07/orgauth/session"
)

const maxBodyBytes = 64 * 1024

// API is the HTTP surface of the engine.
type API struct {
	engine   *orgauth.Engine
	log      zerolog.Logger
	recorder *metrics.Recorder
}

func NewAPI(engine *orgauth.Engine, log zerolog.Logger, recorder *metrics.Recorder) *API {
	return &API{
		engine:   engine,
		log:      log.With().Str("component", "api").Logger(),
		recorder: recorder,
	}
}

// Router registers every route. The metrics endpoint is mounted when enabled.
func (a *API) Router(gatherer prometheus.Gatherer, mc orgauth.MetricsConfig) *mux.Router {
	r := mux.NewRouter()
	handle := func(path string, h http.Handler, methods ...string) {
		r.Handle(path, a.recorder.Instrument(path, h)).Methods(methods...)
	}

	handle("/v1/auth/sign-in", http.HandlerFunc(a.signIn), http.MethodPost)
	handle("/v1/auth/mfa", http.HandlerFunc(a.completeMFA), http.MethodPost)
	handle("/v1/auth/refresh", http.HandlerFunc(a.refresh), http.MethodPost)
	handle("/v1/auth/sign-out", http.HandlerFunc(a.signOut), http.MethodPost)
	handle("/v1/auth/session", middleware.Authenticated(a.engine)(http.HandlerFunc(a.currentSession)), http.MethodGet)
	handle("/v1/orgs/{org}/permissions", middleware.Protect(a.engine, middleware.Options{Resource: "permissions"})(http.HandlerFunc(a.permissions)), http.MethodGet)

	if mc.Enabled && gatherer != nil {
		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

type signInBody struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID string `json:"organization_id"`
}

type mfaBody struct {
	Ticket   string `json:"ticket"`
	FactorID string `json:"factor_id"`
	Code     string `json:"code"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type factorView struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

type signInView struct {
	Token           string       `json:"token,omitempty"`
	RefreshToken    string       `json:"refresh_token,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	OrganizationID  string       `json:"organization_id,omitempty"`
	Role            string       `json:"role,omitempty"`
	MFARequired     bool         `json:"mfa_required"`
	Ticket          string       `json:"ticket,omitempty"`
	TicketExpiresAt *time.Time   `json:"ticket_expires_at,omitempty"`
	Factors         []factorView `json:"factors,omitempty"`
}

type principalView struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Role           string    `json:"role"`
	SessionID      string    `json:"session_id"`
	MFAVerified    bool      `json:"mfa_verified"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.SignInWithPassword(r.Context(), orgauth.SignInRequest{
		Email:             body.Email,
		Password:          body.Password,
		OrganizationID:    body.OrganizationID,
		IPAddress:         middleware.RemoteIP(r),
		UserAgent:         r.UserAgent(),
		DeviceFingerprint: session.FingerprintRequest(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSignIn(w, res)
}

func (a *API) completeMFA(w http.ResponseWriter, r *http.Request) {
	var body mfaBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.CompleteMFAAuthentication(r.Context(), orgauth.MFARequest{
		Ticket:            body.Ticket,
		FactorID:          body.FactorID,
		Code:              body.Code,
		IPAddress:         middleware.RemoteIP(r),
		UserAgent:         r.UserAgent(),
		DeviceFingerprint: session.FingerprintRequest(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSignIn(w, res)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decode(w, r, &body) {
		return
	}
	p, err := a.engine.RefreshSession(r.Context(), body.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setSessionCookie(w, p.Token, p.ExpiresAt)
	expires := p.ExpiresAt
	writeJSON(w, http.StatusOK, signInView{
		Token:          p.Token,
		ExpiresAt:      &expires,
		OrganizationID: p.OrganizationID,
		Role:           p.Role.String(),
	})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromRequest(r)
	if !ok {
		middleware.WriteError(w, orgauth.ErrUnauthenticated)
		return
	}
	ctx := orgauth.WithClientIP(r.Context(), middleware.RemoteIP(r))
	if err := a.engine.SignOut(ctx, token); err != nil {
		a.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) currentSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, principalView{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		Role:           p.Role.String(),
		SessionID:      p.SessionID,
		MFAVerified:    p.MFAVerified,
		ExpiresAt:      p.ExpiresAt,
	})
}

func (a *API) permissions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	org := mux.Vars(r)["org"]
	if org != p.OrganizationID {
		middleware.WriteError(w, &orgauth.Error{Kind: orgauth.KindForbidden, Message: "session belongs to another organization", Role: p.Role.String()})
		return
	}
	perms, err := a.engine.Policies().GetUserPermissions(r.Context(), p.UserID, org)
	if err != nil {
		a.fail(w, r, &orgauth.Error{Kind: orgauth.KindStoreUnavailable, Message: orgauth.ErrStoreUnavailable.Message, Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": org,
		"role":            p.Role.String(),
		"permissions":     perms,
	})
}

func (a *API) writeSignIn(w http.ResponseWriter, res *orgauth.SignInResult) {
	if res.MFARequired {
		expires := res.TicketExpiresAt
		view := signInView{MFARequired: true, Ticket: res.Ticket, TicketExpiresAt: &expires}
		for _, f := range res.Factors {
			view.Factors = append(view.Factors, factorView{ID: f.ID, Type: f.Type, FriendlyName: f.FriendlyName})
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	expires := res.Session.ExpiresAt
	setSessionCookie(w, res.Token, expires)
	writeJSON(w, http.StatusOK, signInView{
		Token:          res.Token,
		RefreshToken:   res.RefreshToken,
		ExpiresAt:      &expires,
		OrganizationID: res.Session.OrganizationID,
		Role:           res.Role.String(),
	})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch orgauth.KindOf(err) {
	case orgauth.KindStoreUnavailable, 0:
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	default:
		a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	middleware.WriteError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, &orgauth.Error{Kind: orgauth.KindValidation, Message: "malformed request body"})
		return false
	}
	return true
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
