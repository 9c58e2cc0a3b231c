// ABOUTME: Tests for constraint matching and the in-memory realm
// ABOUTME: Covers URL patterns, method scoping, permissions, bcrypt auth and the LRU cache

package realm

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/admin", "/admin", true},
		{"/admin", "/admin/users", false},
		{"/admin/*", "/admin", true},
		{"/admin/*", "/admin/users", true},
		{"/admin/*", "/administrator", false},
		{"/admin/*", "/public", false},
		{"/*", "/anything", true},
		{"/", "/anything", true},
		{"*.jsp", "/pages/index.jsp", true},
		{"*.jsp", "/pages/index.html", false},
		{"*.jsp", ".jsp", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPattern(tt.pattern, tt.path),
			"pattern %q against %q", tt.pattern, tt.path)
	}
}

func TestSecurityConstraint_Matches(t *testing.T) {
	c := &SecurityConstraint{
		Patterns: []string{"/admin/*"},
		Methods:  []string{"GET", "POST"},
	}

	assert.True(t, c.Matches("GET", "/admin/users"))
	assert.True(t, c.Matches("POST", "/admin"))
	assert.False(t, c.Matches("DELETE", "/admin/users"), "method outside the list")
	assert.False(t, c.Matches("GET", "/public"))

	open := &SecurityConstraint{Patterns: []string{"/admin/*"}}
	assert.True(t, open.Matches("DELETE", "/admin/users"), "empty method list means all methods")
}

func TestPrincipal_HasRole(t *testing.T) {
	p := &Principal{Name: "alice", Roles: []string{"admin", "auditor"}}
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("operator"))
}

func TestMemoryRealm_Authenticate(t *testing.T) {
	rlm := NewMemoryRealm(nil)
	alice, err := rlm.AddUser("alice", "s3cret", "admin")
	require.NoError(t, err)

	p, err := rlm.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Same(t, alice, p)

	_, err = rlm.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrLoginFailed)

	_, err = rlm.Authenticate("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestMemoryRealm_FindPrincipal(t *testing.T) {
	rlm := NewMemoryRealm(nil)
	alice, err := rlm.AddUser("alice", "s3cret")
	require.NoError(t, err)

	p, ok := rlm.FindPrincipal("alice")
	require.True(t, ok)
	assert.Same(t, alice, p)

	_, ok = rlm.FindPrincipal("nobody")
	assert.False(t, ok)
}

func TestMemoryRealm_FindSecurityConstraints(t *testing.T) {
	admin := &SecurityConstraint{Name: "admin", Patterns: []string{"/admin/*"}}
	api := &SecurityConstraint{Name: "api", Patterns: []string{"/api/*"}, Methods: []string{"POST"}}
	rlm := NewMemoryRealm([]*SecurityConstraint{admin, api})

	got := rlm.FindSecurityConstraints(httptest.NewRequest("GET", "/admin/users", nil))
	require.Len(t, got, 1)
	assert.Same(t, admin, got[0])

	assert.Nil(t, rlm.FindSecurityConstraints(httptest.NewRequest("GET", "/api/things", nil)),
		"method-scoped constraint does not match GET")
	assert.Nil(t, rlm.FindSecurityConstraints(httptest.NewRequest("GET", "/public", nil)))
}

func TestMemoryRealm_HasUserDataPermission(t *testing.T) {
	rlm := NewMemoryRealm(nil)
	confidential := []*SecurityConstraint{{Name: "tls-only", Confidential: true}}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/secure", nil)
	assert.False(t, rlm.HasUserDataPermission(w, r, confidential))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/secure", nil)
	r.TLS = &tls.ConnectionState{}
	assert.True(t, rlm.HasUserDataPermission(w, r, confidential))

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/open", nil)
	assert.True(t, rlm.HasUserDataPermission(w, r, []*SecurityConstraint{{Name: "plain"}}))
}

func TestMemoryRealm_HasResourcePermission(t *testing.T) {
	rlm := NewMemoryRealm(nil)
	alice := &Principal{Name: "alice", Roles: []string{"admin"}}

	anyAuth := []*SecurityConstraint{{AuthType: AuthConstraintAnyAuthenticated}}
	adminOnly := []*SecurityConstraint{{AuthType: AuthConstraintRoles, Roles: []string{"admin"}}}
	operatorOnly := []*SecurityConstraint{{AuthType: AuthConstraintRoles, Roles: []string{"operator"}}}
	emptyRoles := []*SecurityConstraint{{AuthType: AuthConstraintRoles}}
	none := []*SecurityConstraint{{AuthType: AuthConstraintNone}}

	tests := []struct {
		name        string
		constraints []*SecurityConstraint
		principal   *Principal
		want        bool
		status      int
	}{
		{"no demand passes anonymous", none, nil, true, 0},
		{"any-auth rejects anonymous", anyAuth, nil, false, http.StatusUnauthorized},
		{"any-auth admits principal", anyAuth, alice, true, 0},
		{"role demand rejects anonymous", adminOnly, nil, false, http.StatusUnauthorized},
		{"role demand admits holder", adminOnly, alice, true, 0},
		{"role demand rejects non-holder", operatorOnly, alice, false, http.StatusForbidden},
		{"empty role list passes anonymous", emptyRoles, nil, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/resource", nil)
			got := rlm.HasResourcePermission(w, r, tt.constraints, tt.principal)
			assert.Equal(t, tt.want, got)
			if tt.status != 0 {
				assert.Equal(t, tt.status, w.Code)
			}
		})
	}
}

// countingRealm counts constraint resolutions to observe cache behavior.
type countingRealm struct {
	*MemoryRealm
	finds int
}

func (c *countingRealm) FindSecurityConstraints(r *http.Request) []*SecurityConstraint {
	c.finds++
	return c.MemoryRealm.FindSecurityConstraints(r)
}

func TestCachedRealm_FindSecurityConstraints(t *testing.T) {
	admin := &SecurityConstraint{Name: "admin", Patterns: []string{"/admin/*"}}
	inner := &countingRealm{MemoryRealm: NewMemoryRealm([]*SecurityConstraint{admin})}

	cached, err := NewCachedRealm(inner, 8)
	require.NoError(t, err)

	first := cached.FindSecurityConstraints(httptest.NewRequest("GET", "/admin/users", nil))
	second := cached.FindSecurityConstraints(httptest.NewRequest("GET", "/admin/users", nil))
	assert.Equal(t, 1, inner.finds, "second resolution served from cache")
	assert.Equal(t, first, second)

	cached.FindSecurityConstraints(httptest.NewRequest("POST", "/admin/users", nil))
	assert.Equal(t, 2, inner.finds, "method participates in the cache key")

	// Unconstrained lookups are cached too, including the nil result.
	cached.FindSecurityConstraints(httptest.NewRequest("GET", "/public", nil))
	assert.Nil(t, cached.FindSecurityConstraints(httptest.NewRequest("GET", "/public", nil)))
	assert.Equal(t, 3, inner.finds)
}

func TestCachedRealm_PassThrough(t *testing.T) {
	rlm := NewMemoryRealm(nil)
	_, err := rlm.AddUser("alice", "s3cret", "admin")
	require.NoError(t, err)

	cached, err := NewCachedRealm(rlm, 8)
	require.NoError(t, err)

	p, err := cached.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)

	_, ok := cached.FindPrincipal("alice")
	assert.True(t, ok)
}
