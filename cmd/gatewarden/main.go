// ABOUTME: Entry point for the gatewarden enforcement gateway
// ABOUTME: Loads config, wires realm/session/SSO and serves the protected pipeline

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/gatewarden/internal/authn"
	"github.com/2389/gatewarden/internal/config"
	"github.com/2389/gatewarden/internal/realm"
	"github.com/2389/gatewarden/internal/session"
	"github.com/2389/gatewarden/internal/sso"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                             _
  __ _  __ _| |_ _____      ____ _ _ __ __| | ___ _ __
 / _' |/ _' | __/ _ \ \ /\ / / _' | '__/ _' |/ _ \ '_ \
| (_| | (_| | ||  __/\ V  V / (_| | | | (_| |  __/ | | |
 \__, |\__,_|\__\___| \_/\_/ \__,_|_|  \__,_|\___|_| |_|
 |___/
`

// getConfigPath returns the path to the gatewarden config file.
// Priority: GATEWARDEN_CONFIG env var > XDG_CONFIG_HOME/gatewarden/gatewarden.yaml > ~/.config/gatewarden/gatewarden.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATEWARDEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gatewarden.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gatewarden", "gatewarden.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gatewarden <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the enforcement gateway")
		fmt.Println("  check     Validate the config file and exit")
		fmt.Println("  version   Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck() error {
	configPath := getConfigPath()
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", configPath)
	return nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Scheme:  %s\n", cfg.Authenticator.Scheme)
	if cfg.SSO.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("SSO:     enabled\n")
	}
	fmt.Println()

	logger.Info("starting gatewarden",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"scheme", cfg.Authenticator.Scheme,
	)

	handler, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline wires the realm, session manager, SSO registry, coordinator
// and strategy into the serving handler.
func buildPipeline(cfg *config.Config) (http.Handler, func(), error) {
	cleanup := func() {}

	// Realm: in-memory users and constraints from config, with an LRU over
	// constraint resolution.
	constraints := make([]*realm.SecurityConstraint, 0, len(cfg.Realm.Constraints))
	for _, sc := range cfg.Realm.Constraints {
		constraint := &realm.SecurityConstraint{
			Name:         sc.Name,
			Patterns:     sc.Patterns,
			Methods:      sc.Methods,
			Roles:        sc.Roles,
			Confidential: sc.Confidential,
		}
		switch sc.Auth {
		case "any":
			constraint.AuthType = realm.AuthConstraintAnyAuthenticated
		case "roles":
			constraint.AuthType = realm.AuthConstraintRoles
		default:
			constraint.AuthType = realm.AuthConstraintNone
		}
		constraints = append(constraints, constraint)
	}

	memRealm := realm.NewMemoryRealm(constraints)
	for _, u := range cfg.Realm.Users {
		if _, err := memRealm.AddUser(u.Username, u.Password, u.Roles...); err != nil {
			return nil, cleanup, fmt.Errorf("adding realm user %q: %w", u.Username, err)
		}
	}
	rlm, err := realm.NewCachedRealm(memRealm, 1024)
	if err != nil {
		return nil, cleanup, fmt.Errorf("creating constraint cache: %w", err)
	}

	// Sessions, optionally persisted to SQLite.
	var store session.Store
	if cfg.Sessions.StorePath != "" {
		sqlStore, err := session.NewSQLiteStore(cfg.Sessions.StorePath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening session store: %w", err)
		}
		store = sqlStore
		cleanup = func() { sqlStore.Close() }
	}
	sessions := session.NewManager(store)

	var registry *sso.Registry
	if cfg.SSO.Enabled {
		registry = sso.NewRegistry(sso.Options{CookieDomain: cfg.SSO.CookieDomain})
	}

	coordinator, err := authn.New(rlm, sessions, registry, authn.Options{
		Cache:                 cfg.Authenticator.Cache,
		AlwaysUseSession:      cfg.Authenticator.AlwaysUseSession,
		ChangeSessionID:       cfg.Authenticator.ChangeSessionID,
		DisableProxyCaching:   cfg.Authenticator.DisableProxyCaching,
		SecurePagesWithPragma: cfg.Authenticator.SecurePagesWithPragma,
		PreemptiveAuth:        cfg.Authenticator.Preemptive,
		LoginAction:           cfg.Authenticator.LoginAction,
		SessionCookieName:     cfg.Sessions.CookieName,
		SessionCookieHTTPOnly: cfg.Sessions.HTTPOnly,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("creating coordinator: %w", err)
	}

	switch cfg.Authenticator.Scheme {
	case "bearer":
		verifier, err := authn.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, cleanup, fmt.Errorf("creating token verifier: %w", err)
		}
		coordinator.SetStrategy(authn.NewBearerStrategy(coordinator, verifier))
	default:
		coordinator.SetStrategy(authn.NewBasicStrategy(coordinator, cfg.Authenticator.RealmName))
	}

	next, err := upstreamHandler(cfg.Server.Upstream)
	if err != nil {
		return nil, cleanup, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		req := coordinator.NewRequest(r)
		coordinator.Logout(req, w)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", next)

	return coordinator.Handler(mux), cleanup, nil
}

// upstreamHandler proxies to the configured upstream, or serves the built-in
// identity endpoint when none is set.
func upstreamHandler(upstream string) (http.Handler, error) {
	if upstream != "" {
		target, err := url.Parse(upstream)
		if err != nil {
			return nil, fmt.Errorf("parsing upstream url: %w", err)
		}
		return httputil.NewSingleHostReverseProxy(target), nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"authenticated": false}
		if id := authn.FromContext(r.Context()); id != nil && id.Principal != nil {
			resp["authenticated"] = true
			resp["principal"] = id.Principal.Name
			resp["roles"] = id.Principal.Roles
			resp["auth_type"] = id.AuthType
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	_, err := os.Stdout.WriteString(buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}
