// Command server runs the gatewarden admission gateway.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (-config flag, GATEWARDEN_CONFIG, ./config.yaml, /etc/gatewarden/config.yaml),
// then GATEWARDEN_* environment overrides. See pkg/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/auth/apikey"
	"github.com/gatewarden/gatewarden/pkg/auth/cookie"
	"github.com/gatewarden/gatewarden/pkg/auth/jwt"
	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/pipeline"
	"github.com/gatewarden/gatewarden/pkg/ratelimit"
	"github.com/gatewarden/gatewarden/pkg/session"
	redisstore "github.com/gatewarden/gatewarden/pkg/store/redis"
	"github.com/gatewarden/gatewarden/pkg/tenant"
	"github.com/gatewarden/gatewarden/pkg/tenant/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared store.
	kv, err := redisstore.New(ctx, redisstore.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer kv.Close()
	slog.Info("shared store connected", "addr", cfg.Redis.Addr)

	// Tenant policy provider.
	provider, cleanup, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	cached := tenant.NewCached(provider, cfg.Policies.CacheTTL)

	// Rate limiter, with optional in-process fallback for store outages.
	var limiterOpts []ratelimit.Option
	if cfg.RateLimit.LocalFallback {
		local := ratelimit.NewLocalLimiter()
		local.StartJanitor(ctx)
		limiterOpts = append(limiterOpts, ratelimit.WithLocalFallback(local))
	}
	limiter := ratelimit.New(cached, kv, limiterOpts...)

	// Sessions and auth chain.
	sessions := session.NewStore(kv, cached)
	revoker := jwt.NewRevoker(kv, cfg.Auth.RevocationTTLCeiling)
	issuer := jwt.NewIssuer(cached)
	users := newStaticUsers(cfg.Auth.Users)

	strategies := []auth.Strategy{
		jwt.New(cached, revoker, jwt.Config{SecretTTL: cfg.Auth.SecretCacheTTL}),
		cookie.New(sessions, cached, users),
	}
	if len(cfg.Auth.APIKeys) > 0 {
		strategies = append(strategies, apikey.New(apiKeyEntries(cfg.Auth.APIKeys)))
	}
	chain := &auth.Chain{Strategies: strategies}

	// Admission pipeline.
	pipe := pipeline.New(hostMapper(cfg.Policies.Hosts), limiter, chain,
		pipeline.WithPublicPaths(cfg.Auth.PublicPaths...))

	app := &application{
		sessions: sessions,
		issuer:   issuer,
		revoker:  revoker,
		provider: cached,
		users:    users,
	}

	mux := http.NewServeMux()
	app.routes(mux)

	root := http.NewServeMux()
	root.Handle("/", pipe.Wrap(mux))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		root.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"policy_provider", cfg.Policies.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildProvider selects the policy backend. The second return value
// releases backend resources and may be nil.
func buildProvider(ctx context.Context, cfg *config.Config) (tenant.ConfigProvider, func(), error) {
	switch cfg.Policies.Provider {
	case "postgres":
		p, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Policies.Postgres.DSN,
			MaxConns:       cfg.Policies.Postgres.MaxConns,
			MigrateOnStart: cfg.Policies.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating postgres provider: %w", err)
		}
		return p, p.Close, nil
	default:
		return staticProvider(cfg.Policies.Tenants), nil, nil
	}
}

// staticProvider materializes the config file's tenant list.
func staticProvider(tenants []config.TenantConfig) *tenant.StaticProvider {
	p := tenant.NewStaticProvider()
	for _, t := range tenants {
		enabled := true
		if t.RateLimit.Enabled != nil {
			enabled = *t.RateLimit.Enabled
		}
		strategy := tenant.Strategy(t.RateLimit.Strategy)
		if strategy == "" {
			strategy = tenant.FixedWindow
		}
		p.SetRateLimitPolicy(t.ID, tenant.RateLimitPolicy{
			Strategy:          strategy,
			RequestsPerMinute: t.RateLimit.RequestsPerMinute,
			BurstCapacity:     t.RateLimit.BurstCapacity,
			Enabled:           enabled,
		})

		httpOnly := true
		if t.Session.CookieHTTPOnly != nil {
			httpOnly = *t.Session.CookieHTTPOnly
		}
		sp := tenant.SessionPolicy{
			CookieName:     t.Session.CookieName,
			Timeout:        t.Session.Timeout,
			CookieSecure:   t.Session.CookieSecure,
			CookieHTTPOnly: httpOnly,
			CookieSameSite: parseSameSite(t.Session.CookieSameSite),
			CookiePath:     t.Session.CookiePath,
			CookieDomain:   t.Session.CookieDomain,
		}
		sp.Defaults()
		p.SetSessionPolicy(t.ID, sp)

		p.SetSecurityPolicy(t.ID, tenant.SecurityPolicy{
			JWTSecret:       t.Security.JWTSecret,
			JWTAlgorithm:    t.Security.JWTAlgorithm,
			AccessTokenTTL:  t.Security.AccessTokenTTL,
			RefreshTokenTTL: t.Security.RefreshTokenTTL,
		})
	}
	return p
}

func parseSameSite(s string) http.SameSite {
	switch s {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return 0
	}
}

// hostMapper adapts the config host table to tenant.HostMapper.
// Returns nil when no hosts are configured so host resolution is skipped.
func hostMapper(hosts map[string]int64) tenant.HostMapper {
	if len(hosts) == 0 {
		return nil
	}
	return hostTable(hosts)
}

type hostTable map[string]int64

func (t hostTable) TenantForHost(_ context.Context, host string) (int64, bool) {
	id, ok := t[host]
	return id, ok
}

// apiKeyEntries converts config API keys to strategy entries.
func apiKeyEntries(keys []config.APIKeyConfig) []apikey.RawKeyEntry {
	entries := make([]apikey.RawKeyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, apikey.RawKeyEntry{
			Key:      k.Key,
			TenantID: k.TenantID,
			Identity: auth.Identity{
				ID:    k.UserID,
				Email: k.Email,
				Roles: k.Roles,
			},
		})
	}
	return entries
}
