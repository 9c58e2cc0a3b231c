// ABOUTME: In-memory Realm implementation with bcrypt credential verification
// ABOUTME: Backs the reference deployment and tests with declarative users and constraints

package realm

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a username is unknown so that login
// timing does not reveal which usernames exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// user is a stored account record.
type user struct {
	id           string
	passwordHash string
	principal    *Principal
}

// MemoryRealm is a Realm backed by in-memory user and constraint tables.
// Users carry bcrypt password hashes. Constraint matching is the simple
// exact/prefix/extension scheme of SecurityConstraint.Matches; deployments
// needing a real constraint index supply their own Realm.
type MemoryRealm struct {
	mu          sync.RWMutex
	users       map[string]*user
	constraints []*SecurityConstraint
	logger      *slog.Logger
}

// NewMemoryRealm creates an empty MemoryRealm with the given constraint set.
func NewMemoryRealm(constraints []*SecurityConstraint) *MemoryRealm {
	return &MemoryRealm{
		users:       make(map[string]*user),
		constraints: constraints,
		logger:      slog.Default().With("component", "realm"),
	}
}

// AddUser registers an account with a plaintext password (hashed on entry)
// and role grants. Returns the stored principal.
func (m *MemoryRealm) AddUser(username, password string, roles ...string) (*Principal, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	p := &Principal{Name: username, Roles: roles}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = &user{
		id:           uuid.New().String(),
		passwordHash: string(hash),
		principal:    p,
	}
	return p, nil
}

// FindSecurityConstraints returns the constraints matching the request, or
// nil when none apply.
func (m *MemoryRealm) FindSecurityConstraints(r *http.Request) []*SecurityConstraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*SecurityConstraint
	for _, c := range m.constraints {
		if c.Matches(r.Method, r.URL.Path) {
			matched = append(matched, c)
		}
	}
	return matched
}

// HasUserDataPermission enforces the confidentiality requirement: any
// matching constraint marked Confidential demands a TLS transport. Failure
// finalizes the response with 403.
func (m *MemoryRealm) HasUserDataPermission(w http.ResponseWriter, r *http.Request, constraints []*SecurityConstraint) bool {
	for _, c := range constraints {
		if c.Confidential && r.TLS == nil {
			m.logger.Warn("confidentiality requirement not met", "path", r.URL.Path, "constraint", c.Name)
			http.Error(w, "secure transport required", http.StatusForbidden)
			return false
		}
	}
	return true
}

// HasResourcePermission checks the principal against each constraint's role
// demand. A constraint without an auth-constraint is always satisfied; one
// demanding any authenticated user is satisfied by a non-nil principal; a
// role-scoped constraint requires one of its roles. Failure finalizes the
// response: 401 for a missing principal, 403 for a role mismatch.
func (m *MemoryRealm) HasResourcePermission(w http.ResponseWriter, r *http.Request, constraints []*SecurityConstraint, principal *Principal) bool {
	for _, c := range constraints {
		switch c.AuthType {
		case AuthConstraintNone:
			continue
		case AuthConstraintAnyAuthenticated:
			if principal == nil {
				m.logger.Warn("access denied", "path", r.URL.Path, "reason", "unauthenticated")
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return false
			}
		case AuthConstraintRoles:
			if len(c.Roles) == 0 {
				continue
			}
			if principal == nil {
				m.logger.Warn("access denied", "path", r.URL.Path, "reason", "unauthenticated")
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return false
			}
			granted := false
			for _, role := range c.Roles {
				if principal.HasRole(role) {
					granted = true
					break
				}
			}
			if !granted {
				m.logger.Warn("access denied", "path", r.URL.Path, "principal", principal.Name, "reason", "missing role")
				http.Error(w, "insufficient role", http.StatusForbidden)
				return false
			}
		}
	}
	return true
}

// Authenticate verifies a username/password pair against the user table.
// Unknown usernames still pay a bcrypt comparison to keep timing flat.
func (m *MemoryRealm) Authenticate(username, password string) (*Principal, error) {
	m.mu.RLock()
	u, ok := m.users[username]
	m.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, fmt.Errorf("%w: unknown user", ErrLoginFailed)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: bad password", ErrLoginFailed)
	}
	return u.principal, nil
}

// FindPrincipal looks up a stored principal by username.
func (m *MemoryRealm) FindPrincipal(name string) (*Principal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	if !ok {
		return nil, false
	}
	return u.principal, true
}
