// ABOUTME: Realm interface and security data types for gatewarden authorization
// ABOUTME: Defines Principal, SecurityConstraint and the Realm contract consumed by authn

package realm

import (
	"errors"
	"net/http"
)

// ErrLoginFailed is returned by Authenticate when the supplied credentials
// are rejected.
var ErrLoginFailed = errors.New("login failed")

// Principal is a verified identity: a name plus the roles granted to it.
// Principals are owned by the Realm that produced them; requests and sessions
// hold references, never copies.
type Principal struct {
	Name  string
	Roles []string
}

// HasRole reports whether the principal has been granted the named role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthConstraintType describes what a constraint demands of the caller's
// identity.
type AuthConstraintType int

const (
	// AuthConstraintNone means the constraint places no demand on identity.
	// A constraint of this type anywhere in a resolved set disables the
	// mandatory-authentication requirement for the whole set.
	AuthConstraintNone AuthConstraintType = iota

	// AuthConstraintAnyAuthenticated admits any authenticated principal.
	AuthConstraintAnyAuthenticated

	// AuthConstraintRoles admits only principals holding one of the listed
	// roles. An empty role list behaves like AuthConstraintNone for the
	// purposes of the mandatory-authentication scan.
	AuthConstraintRoles
)

// SecurityConstraint is a declarative access rule binding URL/method patterns
// to an identity demand and a transport confidentiality requirement. It is
// owned by configuration and read-only to the enforcement pipeline.
type SecurityConstraint struct {
	Name string

	// Patterns are URL patterns. A pattern ending in "/*" matches by prefix,
	// "*.ext" matches by extension, anything else matches exactly.
	Patterns []string

	// Methods restricts the constraint to the listed HTTP methods.
	// Empty means all methods.
	Methods []string

	AuthType AuthConstraintType
	Roles    []string

	// Confidential requires the request to arrive over a secure transport.
	Confidential bool
}

// Matches reports whether the constraint applies to the given method and
// decoded request path.
func (c *SecurityConstraint) Matches(method, path string) bool {
	if len(c.Methods) > 0 {
		found := false
		for _, m := range c.Methods {
			if m == method {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range c.Patterns {
		if matchPattern(p, path) {
			return true
		}
	}
	return false
}

// matchPattern implements exact, prefix ("/foo/*") and extension ("*.ext")
// matching for a single URL pattern.
func matchPattern(pattern, path string) bool {
	switch {
	case pattern == "/*" || pattern == "/":
		return true
	case len(pattern) > 1 && pattern[len(pattern)-2:] == "/*":
		prefix := pattern[:len(pattern)-2]
		return path == prefix || (len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/")
	case len(pattern) > 1 && pattern[0] == '*':
		suffix := pattern[1:]
		return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
	default:
		return pattern == path
	}
}

// Realm answers the authorization questions the authentication pipeline
// consumes: which constraints apply to a request, whether the transport and
// the caller's identity satisfy them, and credential verification for
// programmatic logins.
//
// HasUserDataPermission and HasResourcePermission finalize the response
// themselves on failure; callers must not write anything further after a
// false return.
type Realm interface {
	// FindSecurityConstraints returns the constraints applicable to the
	// request, or nil when the resource is unconstrained.
	FindSecurityConstraints(r *http.Request) []*SecurityConstraint

	// HasUserDataPermission checks the transport confidentiality requirement.
	HasUserDataPermission(w http.ResponseWriter, r *http.Request, constraints []*SecurityConstraint) bool

	// HasResourcePermission checks the authenticated principal against the
	// constraints' role demands.
	HasResourcePermission(w http.ResponseWriter, r *http.Request, constraints []*SecurityConstraint, principal *Principal) bool

	// Authenticate verifies a username/password pair, returning the matching
	// principal or an error wrapping ErrLoginFailed.
	Authenticate(username, password string) (*Principal, error)

	// FindPrincipal looks up a known principal by name without verifying
	// credentials. Used by token-based strategies that carry identity but no
	// password.
	FindPrincipal(name string) (*Principal, bool)
}
