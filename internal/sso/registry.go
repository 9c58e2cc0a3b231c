// ABOUTME: Single sign-on registry mapping opaque tokens to identities and sessions
// ABOUTME: Safe for concurrent register/update/deregister/associate/reauthenticate

package sso

import (
	"log/slog"
	"sync"

	"github.com/2389/gatewarden/internal/realm"
	"github.com/2389/gatewarden/internal/session"
)

// CookieName is the name of the single sign-on cookie. The value is the
// opaque registry token.
const CookieName = "gatewarden_sso"

// Entry records the identity registered under one SSO token plus the
// sessions associated with it. At most one live Entry exists per token.
type Entry struct {
	Principal *realm.Principal
	AuthType  string
	Username  string
	Password  string

	sessions map[*session.Session]struct{}
}

// canReauthenticate reports whether the entry carries credentials that can be
// replayed against a realm.
func (e *Entry) canReauthenticate() bool {
	return e.Username != ""
}

// Options configures registry behavior.
type Options struct {
	// CookieDomain, when set, scopes the SSO cookie to a domain.
	CookieDomain string
}

// Registry is the process-wide single sign-on table. All request workers
// touch it concurrently; every mutation and read of the token and session
// maps happens under one lock, so no reader can observe a partially updated
// entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	byRef   map[*session.Session]string // reverse index, survives id rotation

	opts   Options
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		byRef:   make(map[*session.Session]string),
		opts:    opts,
		logger:  slog.Default().With("component", "sso"),
	}
}

// CookieDomain returns the configured cookie domain, or "".
func (r *Registry) CookieDomain() string {
	return r.opts.CookieDomain
}

// Register creates the entry for a token. Registering an already-known token
// replaces its entry; the old entry's associations are discarded.
func (r *Registry) Register(token string, p *realm.Principal, authType, username, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[token]; ok {
		for s := range old.sessions {
			delete(r.byRef, s)
		}
	}
	r.entries[token] = &Entry{
		Principal: p,
		AuthType:  authType,
		Username:  username,
		Password:  password,
		sessions:  make(map[*session.Session]struct{}),
	}

	name := "none"
	if p != nil {
		name = p.Name
	}
	r.logger.Debug("sso entry registered", "principal", name, "auth_type", authType)
}

// Update refreshes the identity stored for an existing token. Unknown tokens
// are ignored.
func (r *Registry) Update(token string, p *realm.Principal, authType, username, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return
	}
	e.Principal = p
	e.AuthType = authType
	e.Username = username
	e.Password = password
}

// Deregister removes the entry for a token and returns the sessions that were
// associated with it, so the caller (or the session store) can expire them.
func (r *Registry) Deregister(token string) []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return nil
	}
	delete(r.entries, token)

	sessions := make([]*session.Session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
		delete(r.byRef, s)
	}
	r.logger.Debug("sso entry deregistered", "sessions", len(sessions))
	return sessions
}

// Associate ties a session to a token so the registry can clean up when the
// session is destroyed. Associating the same session twice is a no-op;
// associating against an unknown token is ignored.
func (r *Registry) Associate(token string, s *session.Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return
	}
	if _, dup := e.sessions[s]; dup {
		return
	}
	e.sessions[s] = struct{}{}
	r.byRef[s] = token
}

// Lookup returns a snapshot of the identity registered under token.
func (r *Registry) Lookup(token string) (p *realm.Principal, authType string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[token]
	if !ok {
		return nil, "", false
	}
	return e.Principal, e.AuthType, true
}

// Reauthenticate replays the credentials stored under token against rlm.
// On success it returns the freshly verified principal and the entry's auth
// type. Entries without stored credentials cannot reauthenticate.
func (r *Registry) Reauthenticate(token string, rlm realm.Realm) (*realm.Principal, string, bool) {
	r.mu.RLock()
	e, ok := r.entries[token]
	var username, password, authType string
	if ok {
		username, password, authType = e.Username, e.Password, e.AuthType
		ok = e.canReauthenticate()
	}
	r.mu.RUnlock()

	if !ok {
		return nil, "", false
	}

	// Realm calls may block on backend I/O; never hold the lock across them.
	p, err := rlm.Authenticate(username, password)
	if err != nil {
		r.logger.Warn("sso reauthentication failed", "username", username, "error", err)
		return nil, "", false
	}

	r.mu.Lock()
	if cur, still := r.entries[token]; still {
		cur.Principal = p
	}
	r.mu.Unlock()

	return p, authType, true
}

// SessionDestroyed is the session-lifecycle hook: it removes the session from
// its entry and drops the entry once no associated session remains. Wire it
// into the session manager with Manager.OnDestroy.
func (r *Registry) SessionDestroyed(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byRef[s]
	if !ok {
		return
	}
	delete(r.byRef, s)

	e, ok := r.entries[token]
	if !ok {
		return
	}
	delete(e.sessions, s)
	if len(e.sessions) == 0 {
		delete(r.entries, token)
		r.logger.Debug("sso entry removed, last session destroyed")
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
