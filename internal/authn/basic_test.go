// ABOUTME: Tests for the HTTP Basic authentication strategy
// ABOUTME: Covers credential verification, challenge emission and SSO reauth

package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gatewarden/internal/realm"
	"github.com/2389/gatewarden/internal/session"
	"github.com/2389/gatewarden/internal/sso"
)

func basicSetup(t *testing.T, reg *sso.Registry) (*Coordinator, *stubRealm, *BasicStrategy) {
	t.Helper()
	rlm := newStubRealm()
	sessions := session.NewManager(nil)
	c, err := New(rlm, sessions, reg, DefaultOptions())
	require.NoError(t, err)
	strategy := NewBasicStrategy(c, "test zone")
	c.SetStrategy(strategy)
	return c, rlm, strategy
}

func TestBasicStrategy_ValidCredentials(t *testing.T) {
	c, rlm, strategy := basicSetup(t, nil)
	alice := &realm.Principal{Name: "alice", Roles: []string{"user"}}
	rlm.principals["alice"] = alice
	rlm.passwords["alice"] = "pw"

	httpReq := httptest.NewRequest(http.MethodGet, "/secret", nil)
	httpReq.SetBasicAuth("alice", "pw")
	req := c.NewRequest(httpReq)
	rec := httptest.NewRecorder()

	assert.True(t, strategy.Authenticate(req, rec))
	assert.Same(t, alice, req.Principal)
	assert.Equal(t, SchemeBasic, req.AuthType)
}

func TestBasicStrategy_BadPasswordChallenges(t *testing.T) {
	c, rlm, strategy := basicSetup(t, nil)
	rlm.principals["alice"] = &realm.Principal{Name: "alice"}
	rlm.passwords["alice"] = "pw"

	httpReq := httptest.NewRequest(http.MethodGet, "/secret", nil)
	httpReq.SetBasicAuth("alice", "wrong")
	req := c.NewRequest(httpReq)
	rec := httptest.NewRecorder()

	assert.False(t, strategy.Authenticate(req, rec))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="test zone"`, rec.Header().Get("WWW-Authenticate"))
	assert.Nil(t, req.Principal)
}

func TestBasicStrategy_MissingCredentialsChallenges(t *testing.T) {
	c, _, strategy := basicSetup(t, nil)

	req := c.NewRequest(httptest.NewRequest(http.MethodGet, "/secret", nil))
	rec := httptest.NewRecorder()

	assert.False(t, strategy.Authenticate(req, rec))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestBasicStrategy_SSOTokenShortCircuits(t *testing.T) {
	reg := sso.NewRegistry(sso.Options{})
	c, rlm, strategy := basicSetup(t, reg)
	alice := &realm.Principal{Name: "alice"}
	rlm.principals["alice"] = alice
	rlm.passwords["alice"] = "pw"
	reg.Register("tok-9", alice, SchemeBasic, "alice", "pw")

	// No Authorization header; only the SSO cookie.
	httpReq := httptest.NewRequest(http.MethodGet, "/secret", nil)
	httpReq.AddCookie(&http.Cookie{Name: sso.CookieName, Value: "tok-9"})
	req := c.NewRequest(httpReq)
	rec := httptest.NewRecorder()

	assert.True(t, strategy.Authenticate(req, rec))
	assert.Same(t, alice, req.Principal)
	assert.Equal(t, SchemeBasic, req.AuthType)
}

func TestBasicStrategy_DefaultRealmName(t *testing.T) {
	c, _, _ := basicSetup(t, nil)
	strategy := NewBasicStrategy(c, "")

	req := c.NewRequest(httptest.NewRequest(http.MethodGet, "/secret", nil))
	rec := httptest.NewRecorder()

	strategy.Authenticate(req, rec)
	assert.Equal(t, `Basic realm="`+DefaultRealmName+`"`, rec.Header().Get("WWW-Authenticate"))
}
