// Connector runs the catalog's vendor tools behind the connector protocol
// (POST /exec, GET /tools) so the gateway never holds vendor credentials.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bturcanu/toolbelt/pkg/catalog"
	"github.com/bturcanu/toolbelt/pkg/config"
	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/connectors/sdk"
	"github.com/bturcanu/toolbelt/pkg/otel"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", "error", err)
		os.Exit(1)
	}

	internalToken := os.Getenv("INTERNAL_AUTH_TOKEN")
	if internalToken == "" {
		log.Error("INTERNAL_AUTH_TOKEN is required")
		os.Exit(1)
	}

	tel, err := otel.Setup(ctx, otel.ConfigFromEnv("toolbelt-connector"))
	if err != nil {
		log.Error("otel setup", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	cfg, err := catalog.Load(config.EnvOr("TOOLBELT_CONFIG", "toolbelt.yaml"))
	if err != nil {
		log.Error("load catalog", "error", err)
		os.Exit(1)
	}
	if err := catalog.ResolveSecrets(ctx, cfg); err != nil {
		log.Error("resolve secrets", "error", err)
		os.Exit(1)
	}
	reg, err := catalog.Build(cfg, log, tel.RegistryOptions())
	if err != nil {
		log.Error("build catalog", "error", err)
		os.Exit(1)
	}

	execTimeout := config.EnvOrDuration("CONNECTOR_EXEC_TIMEOUT", sdk.DefaultExecTimeout)
	addr := config.EnvOr("CONNECTOR_ADDR", ":8083")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(connectors.NewLocal(reg), sdk.Config{InternalToken: internalToken, Logger: log, ExecTimeout: execTimeout}),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      execTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("connector starting", "addr", addr, "tools", reg.Len(), "vendors", reg.Vendors())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down connector")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func newRouter(local *connectors.Local, cfg sdk.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/exec", sdk.Handler(local, cfg))
	r.Get("/tools", sdk.ToolsHandler(local, cfg))
	return r
}
