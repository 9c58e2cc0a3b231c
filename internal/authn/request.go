// ABOUTME: Per-request authentication state wrapping the inbound HTTP request
// ABOUTME: Carries principal, auth type, certificates, notes and the session binding

package authn

import (
	"crypto/x509"
	"errors"
	"net/http"

	"github.com/2389/gatewarden/internal/realm"
	"github.com/2389/gatewarden/internal/session"
	"github.com/2389/gatewarden/internal/sso"
)

// Request note keys. Notes are an ephemeral side channel scoped to one
// request/response exchange; the set of recognized keys is closed.
const (
	// NoteSSOToken carries the single sign-on token issued to or presented by
	// this request.
	NoteSSOToken = "gatewarden.request.ssoToken"
)

// ErrRequestBodyTooLarge is the transport fault raised when certificate
// renegotiation cannot proceed because the already-buffered request body
// exceeded the save buffer. Extraction treats it as "no certificate".
var ErrRequestBodyTooLarge = errors.New("request body too large for renegotiation buffer")

// CertificateExtractor asks the transport layer for the client certificate
// chain. force requests a TLS renegotiation when no chain was presented
// during the initial handshake; implementations may block on a network read.
type CertificateExtractor interface {
	PeerCertificates(force bool) ([]*x509.Certificate, error)
}

// Request is the mutable per-request authentication context. It is owned
// exclusively by the worker processing the request and is never shared
// across requests.
type Request struct {
	// HTTP is the underlying inbound request.
	HTTP *http.Request

	// AuthType names the scheme that authenticated the caller, or "".
	AuthType string

	// Principal is the verified caller identity, or nil.
	Principal *realm.Principal

	// DecodedURI is the decoded request path.
	DecodedURI string

	// Certificates is the client certificate chain, populated from the TLS
	// connection state or by explicit extraction. Nil when absent.
	Certificates []*x509.Certificate

	// Extractor, when set, performs transport-level certificate extraction.
	Extractor CertificateExtractor

	notes map[string]string

	sessions          *session.Manager
	sessionCookieName string
	session           *session.Session
	sessionResolved   bool
}

// NewRequest wraps an inbound HTTP request. The session binding is lazy: the
// session cookie is only resolved against the manager on first use. The SSO
// cookie, if present, is recorded as a request note.
func NewRequest(r *http.Request, sessions *session.Manager, sessionCookieName string) *Request {
	req := &Request{
		HTTP:              r,
		DecodedURI:        r.URL.Path,
		sessions:          sessions,
		sessionCookieName: sessionCookieName,
	}
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		req.Certificates = r.TLS.PeerCertificates
	}
	if c, err := r.Cookie(sso.CookieName); err == nil && c.Value != "" {
		req.SetNote(NoteSSOToken, c.Value)
	}
	return req
}

// SetNote stores a named note on the request.
func (r *Request) SetNote(key, value string) {
	if r.notes == nil {
		r.notes = make(map[string]string)
	}
	r.notes[key] = value
}

// Note returns the named note, or "" if absent.
func (r *Request) Note(key string) string {
	return r.notes[key]
}

// RemoveNote deletes the named note.
func (r *Request) RemoveNote(key string) {
	delete(r.notes, key)
}

// Session returns the session bound to this request, resolving it from the
// session cookie on first call. Returns nil when the client presented no
// (live) session. Session creation is the coordinator's job, since a new
// identifier must be propagated on the response.
func (r *Request) Session() *session.Session {
	if r.sessionResolved {
		return r.session
	}
	r.sessionResolved = true
	if r.sessions == nil {
		return nil
	}
	c, err := r.HTTP.Cookie(r.sessionCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	if s := r.sessions.Get(c.Value); s != nil {
		s.Touch()
		r.session = s
	}
	return r.session
}

// bindSession attaches a session created during this exchange.
func (r *Request) bindSession(s *session.Session) {
	r.session = s
	r.sessionResolved = true
}
