// ABOUTME: Authentication coordinator orchestrating the per-request security pipeline
// ABOUTME: Constraint check, identity cache, SSO, challenge dispatch, registration, authorization

package authn

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/gatewarden/internal/realm"
	"github.com/2389/gatewarden/internal/session"
	"github.com/2389/gatewarden/internal/sso"
)

// DefaultLoginAction is the default login form submission suffix.
const DefaultLoginAction = "/auth/login_check"

// DefaultSessionCookieName names the session tracking cookie.
const DefaultSessionCookieName = "gatewarden_session"

// dateOne is the fixed Expires sentinel: one millisecond past the epoch,
// rendered once in RFC-1123 form.
var dateOne = time.UnixMilli(1).UTC().Format(http.TimeFormat)

// Options configures coordinator behavior. The zero value is not useful; use
// DefaultOptions as a base.
type Options struct {
	// Cache enables caching the authenticated principal on the session so
	// repeat requests skip re-verification.
	Cache bool

	// AlwaysUseSession forces session creation on successful registration
	// even when the client presented none.
	AlwaysUseSession bool

	// ChangeSessionID rotates the session identifier on successful
	// registration to defeat fixation attacks.
	ChangeSessionID bool

	// DisableProxyCaching injects cache-suppression headers on constrained,
	// non-POST requests.
	DisableProxyCaching bool

	// SecurePagesWithPragma switches cache suppression to the
	// Pragma/no-cache compatibility form.
	SecurePagesWithPragma bool

	// PreemptiveAuth authenticates even when no constraint demands it, if
	// the request carries credentials or a certificate chain.
	PreemptiveAuth bool

	// LoginAction is the login form submission suffix; a request whose
	// decoded path ends with it is always authenticated.
	LoginAction string

	// SessionCookieName is the session tracking cookie name.
	SessionCookieName string

	// SessionCookieHTTPOnly marks session and SSO cookies HttpOnly.
	SessionCookieHTTPOnly bool
}

// DefaultOptions mirrors the defaults of the reference deployment.
func DefaultOptions() Options {
	return Options{
		Cache:                 true,
		ChangeSessionID:       true,
		DisableProxyCaching:   true,
		LoginAction:           DefaultLoginAction,
		SessionCookieName:     DefaultSessionCookieName,
		SessionCookieHTTPOnly: true,
	}
}

// Strategy is a pluggable scheme-specific authenticator. Authenticate
// returns true when the request now carries a verified identity; on false it
// has already written the challenge or rejection and the caller must not
// touch the response again.
type Strategy interface {
	Authenticate(req *Request, w http.ResponseWriter) bool
	Scheme() string
}

// Coordinator drives the per-request authentication and access-control
// decision. It runs synchronously inside the request's worker; the only
// blocking happens inside realm, session-store and transport calls.
type Coordinator struct {
	opts     Options
	realm    realm.Realm
	sessions *session.Manager
	sso      *sso.Registry // nil when single sign-on is not configured
	strategy Strategy
	logger   *slog.Logger
}

// New creates a Coordinator. rlm and sessions are required; reg may be nil to
// disable single sign-on. The strategy is attached with SetStrategy before
// the first request.
func New(rlm realm.Realm, sessions *session.Manager, reg *sso.Registry, opts Options) (*Coordinator, error) {
	if rlm == nil {
		return nil, fmt.Errorf("authn: realm is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("authn: session manager is required")
	}
	if opts.SessionCookieName == "" {
		opts.SessionCookieName = DefaultSessionCookieName
	}
	c := &Coordinator{
		opts:     opts,
		realm:    rlm,
		sessions: sessions,
		sso:      reg,
		logger:   slog.Default().With("component", "authn"),
	}
	if reg != nil {
		sessions.OnDestroy(reg.SessionDestroyed)
	}
	return c, nil
}

// SetStrategy attaches the active authentication strategy.
func (c *Coordinator) SetStrategy(s Strategy) {
	c.strategy = s
}

// NewRequest wraps an inbound HTTP request for processing by this
// coordinator.
func (c *Coordinator) NewRequest(r *http.Request) *Request {
	return NewRequest(r, c.sessions, c.opts.SessionCookieName)
}

// Handler adapts the coordinator into HTTP middleware: requests that pass
// Process are forwarded to next, rejected ones have already been finalized.
func (c *Coordinator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := c.NewRequest(r)
		if !c.Process(req, w) {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), req.Principal, req.AuthType)))
	})
}

// Process runs the decision pipeline for one request. It returns true when
// the request may continue to the next pipeline stage; on false a challenge
// or rejection has already been written and nothing further may be emitted.
func (c *Coordinator) Process(req *Request, w http.ResponseWriter) bool {
	c.logger.Debug("security checking request", "method", req.HTTP.Method, "uri", req.DecodedURI)

	if c.strategy == nil {
		c.logger.Error("no authentication strategy configured")
		http.Error(w, "server misconfigured", http.StatusInternalServerError)
		return false
	}

	// Cached principal on the session?
	if c.opts.Cache && req.Principal == nil {
		if s := req.Session(); s != nil && s.Principal != nil {
			c.logger.Debug("using cached principal", "principal", s.Principal.Name, "auth_type", s.AuthType)
			req.AuthType = s.AuthType
			req.Principal = s.Principal
		}
	}

	// The login form submits to a URI that may sit outside the secured
	// area, so it is always authenticated.
	if c.opts.LoginAction != "" && strings.HasSuffix(req.DecodedURI, c.opts.LoginAction) {
		if !c.authenticate(req, w) {
			c.logger.Debug("failed authenticate() on login action", "uri", req.DecodedURI)
			return false
		}
	}

	// A resource may be protected for some methods but not for the GET used
	// when replaying a request saved before the login challenge; force
	// authentication when the saved request is being replayed.
	if s := req.Session(); s != nil {
		if saved := s.Note(session.NoteSavedRequest); saved != "" && saved == req.DecodedURI {
			if !c.authenticate(req, w) {
				c.logger.Debug("failed authenticate() on saved request replay")
				return false
			}
		}
	}

	constraints := c.realm.FindSecurityConstraints(req.HTTP)
	if constraints == nil && !c.opts.PreemptiveAuth {
		c.logger.Debug("not subject to any constraint")
		return true
	}

	// Constrained resources must not be cached by proxies or browsers.
	// Header injection never influences the decision below.
	if len(constraints) > 0 && c.opts.DisableProxyCaching && !strings.EqualFold(req.HTTP.Method, http.MethodPost) {
		h := w.Header()
		if c.opts.SecurePagesWithPragma {
			h.Set("Pragma", "No-cache")
			h.Set("Cache-Control", "no-cache")
		} else {
			h.Set("Cache-Control", "private")
		}
		h.Set("Expires", dateOne)
	}

	if len(constraints) > 0 {
		if !c.realm.HasUserDataPermission(w, req.HTTP, constraints) {
			c.logger.Debug("failed hasUserDataPermission() test")
			return false
		}
	}

	// Authentication is mandatory unless some constraint waives it. The scan
	// stops at the first constraint without an auth-constraint, or with a
	// role-scoped auth-constraint whose role list is empty: one such
	// constraint anywhere in the set waives the requirement for all of them.
	authRequired := constraints != nil
	for _, sc := range constraints {
		if sc.AuthType == realm.AuthConstraintNone {
			authRequired = false
			break
		}
		if sc.AuthType == realm.AuthConstraintRoles && len(sc.Roles) == 0 {
			authRequired = false
			break
		}
	}

	if !authRequired && c.opts.PreemptiveAuth {
		authRequired = req.HTTP.Header.Get("Authorization") != ""
	}
	if !authRequired && c.opts.PreemptiveAuth {
		certs := c.RequestCertificates(req, false)
		authRequired = len(certs) > 0
	}

	if authRequired {
		c.logger.Debug("calling authenticate()")
		if !c.authenticate(req, w) {
			c.logger.Debug("failed authenticate() test")
			return false
		}
	}

	if constraints != nil {
		if !c.realm.HasResourcePermission(w, req.HTTP, constraints, req.Principal) {
			c.logger.Debug("failed accessControl() test")
			return false
		}
	}

	c.logger.Debug("passed all security constraints")
	return true
}

// authenticate dispatches to the scheme strategy unless the request already
// carries a verified identity; a cached or hydrated principal never pays for
// a second credential check. A single sign-on token riding along keeps its
// session association alive.
func (c *Coordinator) authenticate(req *Request, w http.ResponseWriter) bool {
	if req.Principal != nil {
		if token := req.Note(NoteSSOToken); token != "" && c.sso != nil {
			c.sso.Associate(token, c.ensureSession(req, w))
		}
		return true
	}
	return c.strategy.Authenticate(req, w)
}

// Register binds an authenticated principal to the request, the session (if
// identity caching is on) and the single sign-on registry. A nil principal
// registers a logout. username and password are retained only where caching
// or SSO reauthentication needs them.
func (c *Coordinator) Register(req *Request, w http.ResponseWriter, p *realm.Principal, authType, username, password string) {
	name := "none"
	if p != nil {
		name = p.Name
	}
	c.logger.Debug("authenticated principal", "principal", name, "auth_type", authType)

	req.AuthType = authType
	req.Principal = p

	s := req.Session()
	if s != nil {
		if c.opts.ChangeSessionID {
			old, updated, err := c.sessions.ChangeSessionID(s)
			if err != nil {
				c.logger.Error("failed to rotate session id", "error", err)
			} else {
				c.setSessionCookie(w, req, updated)
				c.logger.Debug("session id changed on authentication", "old", old, "new", updated)
			}
		}
	} else if c.opts.AlwaysUseSession {
		s = c.ensureSession(req, w)
	}

	if c.opts.Cache && s != nil {
		s.AuthType = authType
		s.Principal = p
		if username != "" {
			s.SetNote(session.NoteUsername, username)
		} else {
			s.RemoveNote(session.NoteUsername)
		}
		if password != "" {
			s.SetNote(session.NotePassword, password)
		} else {
			s.RemoveNote(session.NotePassword)
		}
		c.sessions.Persist(s)
	}

	if c.sso == nil {
		return
	}

	// Only create a new SSO entry when the request does not already carry a
	// token for an existing one.
	token := req.Note(NoteSSOToken)
	if token == "" {
		generated, err := session.GenerateID()
		if err != nil {
			c.logger.Error("failed to generate sso token", "error", err)
			return
		}
		token = generated

		cookie := &http.Cookie{
			Name:     sso.CookieName,
			Value:    token,
			Path:     "/",
			Secure:   req.HTTP.TLS != nil,
			HttpOnly: c.opts.SessionCookieHTTPOnly,
		}
		if domain := c.sso.CookieDomain(); domain != "" {
			cookie.Domain = domain
		}
		http.SetCookie(w, cookie)

		c.sso.Register(token, p, authType, username, password)
		req.SetNote(NoteSSOToken, token)
	} else {
		if p == nil {
			// Programmatic logout: drop the entry and expire every session
			// that was riding on it.
			for _, as := range c.sso.Deregister(token) {
				c.sessions.Destroy(as.ID())
			}
			req.RemoveNote(NoteSSOToken)
			return
		}
		c.sso.Update(token, p, authType, username, password)
	}

	// Always associate a session with the registration; entries are only
	// reaped when their associated sessions are destroyed, so an entry
	// without one would live forever.
	if s == nil {
		s = c.ensureSession(req, w)
	}
	c.sso.Associate(token, s)
}

// Login authenticates a username/password pair programmatically and, on
// success, registers the resulting principal under the active strategy's
// scheme. Rejected credentials surface as an error wrapping
// realm.ErrLoginFailed; this is the one failure path that does not finalize
// the response.
func (c *Coordinator) Login(req *Request, w http.ResponseWriter, username, password string) (*realm.Principal, error) {
	p, err := c.realm.Authenticate(username, password)
	if err != nil {
		return nil, err
	}
	scheme := ""
	if c.strategy != nil {
		scheme = c.strategy.Scheme()
	}
	c.Register(req, w, p, scheme, username, password)
	return p, nil
}

// Logout clears the request's identity and registers the logout with the
// session and single sign-on state.
func (c *Coordinator) Logout(req *Request, w http.ResponseWriter) {
	c.Register(req, w, nil, "", "", "")
}

// ReauthenticateFromSSO attempts to establish identity from a single sign-on
// token, replaying the registry's stored credentials against the realm. On
// success the request carries the reauthenticated principal and the
// (possibly newly created) session is associated with the token. It does not
// register; the calling strategy decides whether registration follows.
func (c *Coordinator) ReauthenticateFromSSO(req *Request, w http.ResponseWriter, token string) bool {
	if c.sso == nil || token == "" {
		return false
	}

	p, authType, ok := c.sso.Reauthenticate(token, c.realm)
	if !ok {
		return false
	}

	req.Principal = p
	req.AuthType = authType

	s := c.ensureSession(req, w)
	c.sso.Associate(token, s)

	c.logger.Debug("reauthenticated cached principal", "principal", p.Name, "auth_type", authType)
	return true
}

// RequestCertificates returns the client certificate chain for the request.
// A chain already present on the request wins; otherwise the transport
// extractor is consulted, forcing renegotiation only when force is set. Any
// extraction fault is recovered as "no certificate".
func (c *Coordinator) RequestCertificates(req *Request, force bool) []*x509.Certificate {
	certs := req.Certificates
	if len(certs) == 0 && req.Extractor != nil {
		extracted, err := req.Extractor.PeerCertificates(force)
		if err != nil {
			if errors.Is(err, ErrRequestBodyTooLarge) {
				// Body already buffered past the save limit; the client can
				// retry without a body. Not fatal.
				c.logger.Debug("certificate extraction skipped, request body too large")
			} else {
				c.logger.Warn("certificate extraction failed", "error", err)
			}
			return nil
		}
		req.Certificates = extracted
		certs = extracted
	}
	return certs
}

// ensureSession returns the request's session, creating one and propagating
// its identifier when the client has none yet.
func (c *Coordinator) ensureSession(req *Request, w http.ResponseWriter) *session.Session {
	if s := req.Session(); s != nil {
		return s
	}
	s, err := c.sessions.Create()
	if err != nil {
		c.logger.Error("failed to create session", "error", err)
		return nil
	}
	req.bindSession(s)
	c.setSessionCookie(w, req, s.ID())
	return s
}

// setSessionCookie propagates a session identifier on the response.
func (c *Coordinator) setSessionCookie(w http.ResponseWriter, req *Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.opts.SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: c.opts.SessionCookieHTTPOnly,
		Secure:   req.HTTP.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
