// Package sdk serves a connector over HTTP: POST /exec runs a tool call and
// GET /tools describes the tools on offer.
package sdk

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/toolbelt/pkg/connectors"
)

const maxBodyBytes = 1 << 20

// DefaultExecTimeout bounds a single tool call.
const DefaultExecTimeout = 30 * time.Second

type Executor interface {
	Exec(context.Context, connectors.ExecRequest) connectors.ExecResponse
}

type Config struct {
	InternalToken string
	Logger        *slog.Logger
	ExecTimeout   time.Duration
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c Config) authorized(r *http.Request) bool {
	if c.InternalToken == "" {
		return true
	}
	got := r.Header.Get(connectors.InternalTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.InternalToken)) == 1
}

// Handler serves POST /exec.
func Handler(executor Executor, cfg Config) http.HandlerFunc {
	log := cfg.logger()
	timeout := cfg.ExecTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req connectors.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.Tool == "" || req.Action == "" {
			http.Error(w, "tool and action are required", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp := executor.Exec(ctx, req)
		log.InfoContext(ctx, "exec",
			"event_id", req.EventID,
			"tenant_id", req.TenantID,
			"tool", req.ToolName(),
			"status", resp.Status,
			"http_code", resp.HTTPCode,
		)
		writeJSON(w, log, resp)
	}
}

// ToolsHandler serves GET /tools.
func ToolsHandler(lister connectors.Lister, cfg Config) http.HandlerFunc {
	log := cfg.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, log, lister.Tools())
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response failed", "error", err)
	}
}
