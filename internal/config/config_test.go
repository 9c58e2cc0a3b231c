// ABOUTME: Tests for configuration loading, env expansion and validation
// ABOUTME: Exercises Load against temp YAML files plus Validate edge cases

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "gatewarden_session", cfg.Sessions.CookieName)
	assert.True(t, cfg.Sessions.HTTPOnly)
	assert.True(t, cfg.Authenticator.Cache)
	assert.True(t, cfg.Authenticator.ChangeSessionID)
	assert.True(t, cfg.Authenticator.DisableProxyCaching)
	assert.Equal(t, "/auth/login_check", cfg.Authenticator.LoginAction)
	assert.Equal(t, "basic", cfg.Authenticator.Scheme)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
  upstream: "http://127.0.0.1:3000"

sessions:
  store_path: "/tmp/sessions.db"
  cookie_name: "sid"
  http_only: true

sso:
  enabled: true
  cookie_domain: "example.test"

authenticator:
  scheme: bearer
  preemptive: true
  realm_name: "internal"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: "12h"

realm:
  users:
    - username: alice
      password: s3cret
      roles: [admin]
  constraints:
    - name: admin-area
      patterns: ["/admin/*"]
      auth: roles
      roles: [admin]
      confidential: true

logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "http://127.0.0.1:3000", cfg.Server.Upstream)
	assert.Equal(t, "sid", cfg.Sessions.CookieName)
	assert.True(t, cfg.SSO.Enabled)
	assert.Equal(t, "example.test", cfg.SSO.CookieDomain)
	assert.Equal(t, "bearer", cfg.Authenticator.Scheme)
	assert.True(t, cfg.Authenticator.Preemptive)
	assert.Equal(t, "internal", cfg.Authenticator.RealmName)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)

	require.Len(t, cfg.Realm.Users, 1)
	assert.Equal(t, "alice", cfg.Realm.Users[0].Username)
	require.Len(t, cfg.Realm.Constraints, 1)
	assert.Equal(t, []string{"/admin/*"}, cfg.Realm.Constraints[0].Patterns)
	assert.True(t, cfg.Realm.Constraints[0].Confidential)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultsPreserved(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gatewarden_session", cfg.Sessions.CookieName)
	assert.Equal(t, "basic", cfg.Authenticator.Scheme)
	assert.Equal(t, "/auth/login_check", cfg.Authenticator.LoginAction)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GATEWARDEN_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	path := writeConfig(t, `
authenticator:
  scheme: bearer
auth:
  jwt_secret: "${GATEWARDEN_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
sso:
  cookie_domain: "${GATEWARDEN_TEST_UNSET_VAR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.SSO.CookieDomain)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
auth:
  token_ttl: "soonish"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_ttl")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"missing http_addr",
			func(c *Config) { c.Server.HTTPAddr = "" },
			"server.http_addr",
		},
		{
			"unknown scheme",
			func(c *Config) { c.Authenticator.Scheme = "digest" },
			"authenticator.scheme",
		},
		{
			"bearer without secret",
			func(c *Config) { c.Authenticator.Scheme = "bearer" },
			"auth.jwt_secret",
		},
		{
			"missing cookie name",
			func(c *Config) { c.Sessions.CookieName = "" },
			"sessions.cookie_name",
		},
		{
			"unknown constraint auth",
			func(c *Config) {
				c.Realm.Constraints = []ConstraintConfig{{Patterns: []string{"/x"}, Auth: "maybe"}}
			},
			"constraints[0].auth",
		},
		{
			"constraint without patterns",
			func(c *Config) {
				c.Realm.Constraints = []ConstraintConfig{{Auth: "none"}}
			},
			"constraints[0].patterns",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
