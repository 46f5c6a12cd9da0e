package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bturcanu/toolbelt/pkg/audit"
	"github.com/bturcanu/toolbelt/pkg/auth"
	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const maxBodyBytes = 1 << 20

type toolRouter interface {
	Exec(context.Context, connectors.ExecRequest) (*connectors.ExecResponse, error)
	Tools(context.Context) ([]connectors.ToolInfo, error)
}

type Gateway struct {
	log     *slog.Logger
	audit   audit.Store
	tools   toolRouter
	limiter *tenantLimiter
}

// routes mounts the API on r. Auth middleware is applied by the caller.
func (gw *Gateway) routes(r chi.Router) {
	r.Post("/v1/toolcalls", gw.HandleToolCall)
	r.Get("/v1/toolcalls/{event_id}", gw.HandleGetEvent)
	r.Get("/v1/tools", gw.HandleListTools)
}

// HandleToolCall is POST /v1/toolcalls.
func (gw *Gateway) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	if t := auth.TenantFromContext(ctx); t != "" {
		req.TenantID = t
	}
	if req.SourceIP == "" {
		req.SourceIP = r.RemoteAddr
	}
	if err := req.NormalizeAndValidate(); err != nil {
		types.ErrValidation(err).WriteJSON(w)
		return
	}

	if !gw.limiter.Allow(req.TenantID) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	prior, err := gw.audit.FindByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
	if err != nil {
		gw.log.ErrorContext(ctx, "idempotency check failed", "error", err)
		types.ErrInternal("failed to validate idempotency").WriteJSON(w)
		return
	}
	if prior != nil {
		gw.writeJSON(ctx, w, replay(prior))
		return
	}

	eventID := uuid.NewString()
	payloadJSON, err := json.Marshal(req)
	if err != nil {
		gw.log.ErrorContext(ctx, "payload marshal failed", "error", err)
		types.ErrInternal("request processing failed").WriteJSON(w)
		return
	}
	env := &types.ToolCallEnvelope{
		EventID:     eventID,
		Request:     req,
		PayloadJSON: payloadJSON,
		ReceivedAt:  time.Now().UTC(),
	}

	result, err := gw.execute(ctx, eventID, req)
	if err != nil {
		if errors.Is(err, connectors.ErrNoConnector) {
			types.ErrToolNotFound(req.ToolName()).WriteJSON(w)
			return
		}
		result = &types.ExecutionResult{Status: types.StatusError, Error: err.Error(), ErrorCode: "connector_unavailable"}
	}
	if result.ErrorCode == connectors.ErrorCodeToolNotFound {
		types.ErrToolNotFound(req.ToolName()).WriteJSON(w)
		return
	}
	env.ExecutionResult = result

	if err := gw.audit.Record(ctx, env); err != nil {
		if errors.Is(err, audit.ErrDuplicate) {
			// A concurrent request with the same key was recorded first.
			if prior, ferr := gw.audit.FindByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); ferr == nil && prior != nil {
				gw.writeJSON(ctx, w, replay(prior))
				return
			}
		}
		gw.log.ErrorContext(ctx, "audit record failed", "event_id", eventID, "error", err)
		types.ErrInternal("audit recording failed after execution").WriteJSON(w)
		return
	}

	gw.writeJSON(ctx, w, types.ToolCallResponse{EventID: eventID, Result: result})
}

func replay(env *types.ToolCallEnvelope) types.ToolCallResponse {
	return types.ToolCallResponse{EventID: env.EventID, Replayed: true, Result: env.ExecutionResult}
}

// HandleGetEvent is GET /v1/toolcalls/{event_id}.
func (gw *Gateway) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "event_id")
	if _, err := uuid.Parse(eventID); err != nil {
		types.ErrBadRequest("invalid event_id format").WriteJSON(w)
		return
	}

	env, err := gw.audit.GetEvent(ctx, auth.TenantFromContext(ctx), eventID)
	if errors.Is(err, audit.ErrNotFound) {
		types.ErrNotFound("event not found").WriteJSON(w)
		return
	}
	if err != nil {
		gw.log.ErrorContext(ctx, "get event failed", "event_id", eventID, "error", err)
		types.ErrInternal("failed to retrieve event").WriteJSON(w)
		return
	}
	gw.writeJSON(ctx, w, env)
}

// HandleListTools is GET /v1/tools.
func (gw *Gateway) HandleListTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tools, err := gw.tools.Tools(ctx)
	if err != nil {
		gw.log.ErrorContext(ctx, "list tools failed", "error", err)
		types.ErrUpstream("connector tool listing", err.Error()).WriteJSON(w)
		return
	}
	if tools == nil {
		tools = []connectors.ToolInfo{}
	}
	gw.writeJSON(ctx, w, tools)
}

// execute runs req and reports the outcome. The error is non-nil only when
// no connector answered.
func (gw *Gateway) execute(ctx context.Context, eventID string, req types.ToolCallRequest) (*types.ExecutionResult, error) {
	start := time.Now()
	resp, err := gw.tools.Exec(ctx, connectors.ExecRequest{
		EventID:  eventID,
		TenantID: req.TenantID,
		AgentID:  req.AgentID,
		Tool:     req.Tool,
		Action:   req.Action,
		Params:   req.Params,
		Resource: req.Resource,
	})
	if err != nil {
		return nil, err
	}
	return &types.ExecutionResult{
		Status:     resp.Status,
		OutputJSON: resp.OutputJSON,
		Error:      resp.Error,
		ErrorCode:  resp.ErrorCode,
		HTTPCode:   resp.HTTPCode,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func (gw *Gateway) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		gw.log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}
