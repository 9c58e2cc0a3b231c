// ABOUTME: HTTP Basic authentication strategy verifying credentials against the realm
// ABOUTME: Checks cached identity and SSO before challenging with WWW-Authenticate

package authn

import (
	"log/slog"
	"net/http"
)

// SchemeBasic is the auth type recorded for Basic authentication.
const SchemeBasic = "BASIC"

// DefaultRealmName is advertised in the Basic challenge when none is
// configured.
const DefaultRealmName = "Authentication required"

// BasicStrategy authenticates requests with HTTP Basic credentials. A
// cached principal or a reauthenticable single sign-on token short-circuits
// the credential check; otherwise the Authorization header is verified
// against the realm and a 401 challenge is written on failure.
type BasicStrategy struct {
	coordinator *Coordinator
	realmName   string
	logger      *slog.Logger
}

// NewBasicStrategy creates a BasicStrategy bound to the coordinator it
// registers successful authentications with.
func NewBasicStrategy(c *Coordinator, realmName string) *BasicStrategy {
	if realmName == "" {
		realmName = DefaultRealmName
	}
	return &BasicStrategy{
		coordinator: c,
		realmName:   realmName,
		logger:      slog.Default().With("component", "authn.basic"),
	}
}

// Scheme returns the scheme name recorded on authenticated requests.
func (b *BasicStrategy) Scheme() string { return SchemeBasic }

// Authenticate implements Strategy. The coordinator has already
// short-circuited requests whose identity is cached; this only runs when
// fresh verification is needed.
func (b *BasicStrategy) Authenticate(req *Request, w http.ResponseWriter) bool {
	if token := req.Note(NoteSSOToken); token != "" {
		if b.coordinator.ReauthenticateFromSSO(req, w, token) {
			return true
		}
	}

	username, password, ok := req.HTTP.BasicAuth()
	if ok {
		p, err := b.coordinator.realm.Authenticate(username, password)
		if err == nil {
			b.coordinator.Register(req, w, p, SchemeBasic, username, password)
			return true
		}
		b.logger.Warn("basic auth failure", "username", username, "error", err)
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="`+b.realmName+`"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return false
}
