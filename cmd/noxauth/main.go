// Command noxauth runs the OAuth 2.0 authorization server.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	oauth "github.com/noxauth/noxauth"
	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/internal/config"
	"github.com/noxauth/noxauth/storage"
	"github.com/noxauth/noxauth/storage/memory"
	rdstore "github.com/noxauth/noxauth/storage/redis"
	"github.com/noxauth/noxauth/token"
)

var version = "dev"

// store is the union of the backend interfaces the server needs
type store interface {
	storage.ClientStore
	storage.CodeStore
	storage.TokenStore
	storage.UserStore
}

func main() {
	var (
		cfgPath string
		envFile string
		demo    bool
	)

	root := &cobra.Command{
		Use:          "noxauth",
		Short:        "OAuth 2.0 authorization server",
		SilenceUsage: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", envFile, err)
				}
			} else {
				// best effort, a missing .env is fine
				_ = godotenv.Load()
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cfg, demo)
		},
	}
	serve.Flags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	serve.Flags().StringVar(&envFile, "env-file", "", "path to .env file (default ./.env when present)")
	serve.Flags().BoolVar(&demo, "demo", false, "seed a demo user and client for local development")

	root.AddCommand(serve)
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, demo bool) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(ctx); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	var seed []byte
	if cfg.JWT.SigningSeed != "" {
		seed, err = base64.StdEncoding.DecodeString(cfg.JWT.SigningSeed)
		if err != nil {
			return fmt.Errorf("signing seed is not valid base64: %w", err)
		}
	} else {
		logger.Warn("no signing seed configured, tokens will not survive restarts")
	}

	issuer, err := token.NewIssuer(token.Config{
		Issuer:     cfg.Issuer,
		Seed:       seed,
		KeyID:      cfg.JWT.KeyID,
		AccessTTL:  config.Duration(cfg.JWT.AccessTTL),
		RefreshTTL: config.Duration(cfg.JWT.RefreshTTL),
		SessionTTL: config.Duration(cfg.Session.TTL),
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	backend, closeStore, err := newStore(cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	loginURL := cfg.LoginURL
	if loginURL == "" {
		loginURL = strings.TrimRight(cfg.Issuer, "/") + "/login"
	}

	rate := oauth.RateLimitConfig{
		RegistrationsPerWindow: cfg.Rate.RegistrationsPerWindow,
		RegistrationWindow:     config.Duration(cfg.Rate.RegistrationWindow),
		TrustProxy:             cfg.Rate.TrustProxy,
		TrustedProxyCount:      cfg.Rate.TrustedProxyCount,
	}
	if cfg.Rate.Enabled {
		rate.Rate = cfg.Rate.RequestsPerSecond
		rate.Burst = cfg.Rate.Burst
	}

	srv, err := oauth.NewServer(backend, backend, backend, backend, issuer, oauth.Config{
		Issuer:    cfg.Issuer,
		LoginURL:  loginURL,
		CodeTTL:   config.Duration(cfg.CodeTTL),
		RateLimit: rate,
		Security: oauth.SecurityConfig{
			DisablePlainPKCE:            cfg.Security.DisablePlainPKCE,
			RequirePKCEForPublicClients: cfg.Security.RequirePKCEForPublicClients,
			EnableAuditLogging:          cfg.Security.EnableAuditLogging,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Stop()
	srv.SetInstrumentation(inst)

	auth := &sessionAuthenticator{issuer: issuer, cookieName: cfg.Session.CookieName}
	handler := oauth.NewHandler(srv, auth, logger)

	if demo {
		if err := seedDemo(context.Background(), backend, logger); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	handler.Routes(r)

	login := &loginHandler{
		users:      backend,
		issuer:     issuer,
		cookieName: cfg.Session.CookieName,
		secure:     cfg.Session.Secure,
		logger:     logger,
	}
	r.Get("/login", login.showForm)
	r.Post("/login", login.submit)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authorization server listening",
			"addr", cfg.Server.Addr,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Kind,
			"version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newStore(cfg *config.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (store, func(), error) {
	switch cfg.Storage.Kind {
	case "redis":
		s, err := rdstore.New(rdstore.Config{
			Address:   cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.Prefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s := memory.New()
		s.SetLogger(logger)
		if err := s.SetInstrumentation(inst); err != nil {
			return nil, nil, fmt.Errorf("failed to instrument memory store: %w", err)
		}
		return s, s.Stop, nil
	}
}

// sessionAuthenticator resolves the end user from the session cookie
type sessionAuthenticator struct {
	issuer     *token.Issuer
	cookieName string
}

func (a *sessionAuthenticator) Authenticate(r *http.Request) (string, bool) {
	c, err := r.Cookie(a.cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	userID, err := a.issuer.VerifySessionToken(c.Value)
	if err != nil {
		return "", false
	}
	return userID, true
}

// loginHandler is a minimal built-in login page for development. Real
// deployments point login_url at their own identity frontend instead.
type loginHandler struct {
	users      storage.UserStore
	issuer     *token.Issuer
	cookieName string
	secure     bool
	logger     *slog.Logger
}

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>User ID <input type="text" name="user_id" autofocus></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

func (h *loginHandler) showForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r.URL.Query().Get("return_to"), "")
}

func (h *loginHandler) render(w http.ResponseWriter, returnTo, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPage.Execute(w, struct {
		ReturnTo string
		Error    string
	}{ReturnTo: returnTo, Error: errMsg})
}

func (h *loginHandler) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	userID := r.PostFormValue("user_id")
	password := r.PostFormValue("password")
	returnTo := r.PostFormValue("return_to")

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil || subtle.ConstantTimeCompare([]byte(password), []byte(demoPassword)) != 1 {
		h.logger.Info("login rejected", "user_id", userID)
		h.render(w, returnTo, "invalid credentials")
		return
	}

	session, expiresAt, err := h.issuer.IssueSessionToken(user.ID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    session,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	// Only resume flows on this server
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// demoPassword authenticates every seeded demo user.
// The built-in login page exists for development only.
const demoPassword = "password"

func seedDemo(ctx context.Context, backend store, logger *slog.Logger) error {
	user := &storage.User{
		ID:            "demo",
		Name:          "Demo User",
		GivenName:     "Demo",
		FamilyName:    "User",
		Email:         "demo@example.com",
		EmailVerified: true,
		Type:          "person",
		Role:          "member",
		UpdatedAt:     time.Now().UTC(),
	}
	if err := backend.SaveUser(ctx, user); err != nil {
		return err
	}
	logger.Info("seeded demo user", "user_id", user.ID, "password", demoPassword)
	return nil
}
