// Gateway is the HTTP entrypoint for agent tool calls. It authenticates the
// tenant, routes each call to a local or remote connector and appends the
// outcome to the audit chain.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bturcanu/toolbelt/pkg/audit"
	"github.com/bturcanu/toolbelt/pkg/auth"
	"github.com/bturcanu/toolbelt/pkg/catalog"
	"github.com/bturcanu/toolbelt/pkg/config"
	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/otel"
	"github.com/bturcanu/toolbelt/pkg/tool"
)

const maxRateLimiters = 10_000

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", "error", err)
		os.Exit(1)
	}

	// ── OpenTelemetry ────────────────────────────────────────────────────
	tel, err := otel.Setup(ctx, otel.ConfigFromEnv("toolbelt-gateway"))
	if err != nil {
		log.Error("otel setup failed", "error", err)
		tel = &otel.Telemetry{}
	}
	defer tel.Shutdown(context.Background()) //nolint:errcheck // best-effort shutdown

	// ── Audit store ──────────────────────────────────────────────────────
	store, closeStore, err := openAudit(ctx, log)
	if err != nil {
		log.Error("audit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// ── Tool routing ─────────────────────────────────────────────────────
	routes, err := buildRoutes(ctx, log, tel.RegistryOptions())
	if err != nil {
		log.Error("connector routing", "error", err)
		os.Exit(1)
	}

	keys, err := auth.ParseKeys(os.Getenv("API_KEYS"))
	if err != nil {
		log.Error("API_KEYS", "error", err)
		os.Exit(1)
	}
	if keys.Len() == 0 {
		log.Warn("API_KEYS is empty; every tool call will be rejected")
	}

	gw := &Gateway{
		log:     log,
		audit:   audit.NewLogger(store, log),
		tools:   routes,
		limiter: newTenantLimiter(config.EnvOrInt("RATE_LIMIT_PER_TENANT", 100), maxRateLimiters),
	}

	// ── Router ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.EnvOrDuration("GATEWAY_REQUEST_TIMEOUT", 60*time.Second)))
	r.Use(middleware.Logger)
	r.Use(auth.APIKeyAuth(keys))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	gw.routes(r)

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway starting", "addr", addr, "vendors", routes.Vendors())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}

// openAudit connects to DATABASE_URL, or falls back to an in-memory chain.
func openAudit(ctx context.Context, log *slog.Logger) (audit.Store, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Warn("DATABASE_URL not set; audit chain is kept in memory")
		return audit.NewMemoryStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connect: %w", err)
	}
	store := audit.NewPostgresStore(pool)
	if config.EnvOrBool("AUDIT_MIGRATE", true) {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return store, pool.Close, nil
}

// buildRoutes serves the TOOLBELT_CONFIG catalog in-process and sends
// vendors listed in CONNECTOR_URLS to remote connectors. Remote routes win
// for a vendor configured both ways.
func buildRoutes(ctx context.Context, log *slog.Logger, regOpts []tool.RegistryOption) (*connectors.Registry, error) {
	routes := connectors.NewRegistry(
		connectors.WithTimeout(config.EnvOrDuration("CONNECTOR_TIMEOUT", 30*time.Second)),
		connectors.WithInternalToken(os.Getenv("INTERNAL_AUTH_TOKEN")),
	)

	if path := os.Getenv("TOOLBELT_CONFIG"); path != "" {
		cfg, err := catalog.Load(path)
		if err != nil {
			return nil, err
		}
		if err := catalog.ResolveSecrets(ctx, cfg); err != nil {
			return nil, err
		}
		reg, err := catalog.Build(cfg, log, regOpts)
		if err != nil {
			return nil, err
		}
		routes.RegisterLocal(connectors.NewLocal(reg), reg.Vendors()...)
	}

	remotes, err := parseConnectorURLs(os.Getenv("CONNECTOR_URLS"))
	if err != nil {
		return nil, err
	}
	for vendor, url := range remotes {
		if err := routes.Register(vendor, url); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

// parseConnectorURLs reads "jira=http://connector:8083,slack=http://...".
func parseConnectorURLs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		vendor, url, ok := strings.Cut(pair, "=")
		vendor, url = strings.TrimSpace(vendor), strings.TrimSpace(url)
		if !ok || vendor == "" || url == "" {
			return nil, fmt.Errorf("CONNECTOR_URLS: %q is not vendor=url", pair)
		}
		out[vendor] = url
	}
	return out, nil
}
