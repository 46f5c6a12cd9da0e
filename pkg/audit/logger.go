package audit

import (
	"context"
	"log/slog"

	"github.com/bturcanu/toolbelt/pkg/types"
)

// Logger wraps a Store and logs every append and idempotent replay.
type Logger struct {
	Store
	log *slog.Logger
}

func NewLogger(store Store, log *slog.Logger) *Logger {
	return &Logger{Store: store, log: log}
}

func (l *Logger) Record(ctx context.Context, env *types.ToolCallEnvelope) error {
	if err := l.Store.Record(ctx, env); err != nil {
		l.log.ErrorContext(ctx, "audit record failed",
			"event_id", env.EventID,
			"tenant_id", env.Request.TenantID,
			"error", err,
		)
		return err
	}
	attrs := []any{
		"event_id", env.EventID,
		"tenant_id", env.Request.TenantID,
		"agent_id", env.Request.AgentID,
		"tool", env.Request.ToolName(),
		"seq", env.Seq,
		"hash", env.Hash,
	}
	if r := env.ExecutionResult; r != nil {
		attrs = append(attrs, "status", r.Status, "duration_ms", r.DurationMS)
		if r.HTTPCode != 0 {
			attrs = append(attrs, "http_code", r.HTTPCode)
		}
	}
	l.log.InfoContext(ctx, "tool invocation recorded", attrs...)
	return nil
}

func (l *Logger) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*types.ToolCallEnvelope, error) {
	env, err := l.Store.FindByIdempotencyKey(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if env != nil {
		l.log.InfoContext(ctx, "idempotency hit",
			"tenant_id", tenantID,
			"idempotency_key", key,
			"event_id", env.EventID,
		)
	}
	return env, nil
}
