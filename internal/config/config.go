// ABOUTME: Configuration loading and parsing for gatewarden
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gatewarden configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	SSO           SSOConfig           `yaml:"sso"`
	Authenticator AuthenticatorConfig `yaml:"authenticator"`
	Auth          AuthConfig          `yaml:"auth"`
	Realm         RealmConfig         `yaml:"realm"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// RealmConfig declares the users and security constraints of the built-in
// in-memory realm. Deployments with an external realm leave it empty.
type RealmConfig struct {
	Users       []UserConfig       `yaml:"users"`
	Constraints []ConstraintConfig `yaml:"constraints"`
}

// UserConfig declares one account of the in-memory realm
type UserConfig struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

// ConstraintConfig declares one security constraint
type ConstraintConfig struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Methods  []string `yaml:"methods"`
	// Auth is the constraint's identity demand: "none", "any" or "roles".
	Auth         string   `yaml:"auth"`
	Roles        []string `yaml:"roles"`
	Confidential bool     `yaml:"confidential"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// Upstream, when set, is the URL requests are proxied to after passing
	// the enforcement stage; empty serves the built-in identity endpoint.
	Upstream string `yaml:"upstream"`
}

// SessionsConfig holds session tracking configuration
type SessionsConfig struct {
	// StorePath is the SQLite session store file; empty keeps sessions
	// in memory only.
	StorePath  string `yaml:"store_path"`
	CookieName string `yaml:"cookie_name"`
	HTTPOnly   bool   `yaml:"http_only"`
}

// SSOConfig holds single sign-on configuration
type SSOConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CookieDomain string `yaml:"cookie_domain"`
}

// AuthenticatorConfig holds decision-pipeline configuration
type AuthenticatorConfig struct {
	Cache                 bool   `yaml:"cache"`
	AlwaysUseSession      bool   `yaml:"always_use_session"`
	ChangeSessionID       bool   `yaml:"change_session_id"`
	DisableProxyCaching   bool   `yaml:"disable_proxy_caching"`
	SecurePagesWithPragma bool   `yaml:"secure_pages_with_pragma"`
	Preemptive            bool   `yaml:"preemptive"`
	LoginAction           string `yaml:"login_action"`
	Scheme                string `yaml:"scheme"` // "basic" or "bearer"
	RealmName             string `yaml:"realm_name"`
}

// AuthConfig holds credential verification configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8080"},
		Sessions: SessionsConfig{
			CookieName: "gatewarden_session",
			HTTPOnly:   true,
		},
		Authenticator: AuthenticatorConfig{
			Cache:               true,
			ChangeSessionID:     true,
			DisableProxyCaching: true,
			LoginAction:         "/auth/login_check",
			Scheme:              "basic",
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Authenticator.Scheme {
	case "basic":
	case "bearer":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when authenticator.scheme is bearer")
		}
	default:
		return fmt.Errorf("authenticator.scheme must be \"basic\" or \"bearer\", got %q", c.Authenticator.Scheme)
	}

	if c.Sessions.CookieName == "" {
		return fmt.Errorf("sessions.cookie_name is required")
	}

	for i, sc := range c.Realm.Constraints {
		switch sc.Auth {
		case "", "none", "any", "roles":
		default:
			return fmt.Errorf("realm.constraints[%d].auth must be \"none\", \"any\" or \"roles\", got %q", i, sc.Auth)
		}
		if len(sc.Patterns) == 0 {
			return fmt.Errorf("realm.constraints[%d].patterns is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Auth.TokenTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
		cfg.Auth.TokenTTL = ttl
	}
	return nil
}
