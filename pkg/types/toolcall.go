// Package types defines the tool-call schema shared by the gateway, the
// connector service and the audit log.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxParamsBytes         = 64 * 1024 // 64 KB
	MaxResourceBytes       = 2 * 1024  // 2 KB
	MaxIdempotencyKeyBytes = 256
	MaxLabelsCount         = 50
	CurrentSchemaVer       = "1.0"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ──────────────────────────────────────────────────────────────────────────────
// ToolCallRequest, the payload sent by an agent.
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallRequest struct {
	// Identity
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`

	// Tool is the vendor (e.g. "jira"); Action the operation (e.g. "create_issue").
	Tool   string `json:"tool"`
	Action string `json:"action"`

	// Inputs
	Params json.RawMessage `json:"params,omitempty"`

	// Target
	Resource string `json:"resource,omitempty"`

	// Metadata
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	SourceIP  string            `json:"source_ip,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`

	// Control
	IdempotencyKey string    `json:"idempotency_key"`
	RequestedAt    time.Time `json:"requested_at"`
	SchemaVersion  string    `json:"schema_version"`
}

// Normalize lowercases tool/action and accepts dotted actions ("issue.get")
// by mapping dots and dashes to underscores.
func (r *ToolCallRequest) Normalize() {
	r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	r.Action = strings.NewReplacer(".", "_", "-", "_").Replace(r.Action)
}

// NormalizeAndValidate normalizes the request and enforces its invariants.
// Defaults for schema version and request time are filled in.
func (r *ToolCallRequest) NormalizeAndValidate() error {
	r.Normalize()

	if r.TenantID == "" {
		return Required("tenant_id")
	}
	if r.AgentID == "" {
		return Required("agent_id")
	}
	if r.Tool == "" {
		return Required("tool")
	}
	if !identPattern.MatchString(r.Tool) {
		return &ValidationError{Field: "tool", Reason: "must match " + identPattern.String()}
	}
	if r.Action == "" {
		return Required("action")
	}
	if !identPattern.MatchString(r.Action) {
		return &ValidationError{Field: "action", Reason: "must match " + identPattern.String()}
	}
	if r.IdempotencyKey == "" {
		return Required("idempotency_key")
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyBytes {
		return &ValidationError{Field: "idempotency_key", Reason: fmt.Sprintf("exceeds %d bytes", MaxIdempotencyKeyBytes)}
	}
	if len(r.Params) > MaxParamsBytes {
		return &ValidationError{Field: "params", Reason: fmt.Sprintf("exceeds %d bytes", MaxParamsBytes)}
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return &ValidationError{Field: "params", Reason: "must be valid JSON"}
	}
	if len(r.Resource) > MaxResourceBytes {
		return &ValidationError{Field: "resource", Reason: fmt.Sprintf("exceeds %d bytes", MaxResourceBytes)}
	}
	if len(r.Labels) > MaxLabelsCount {
		return &ValidationError{Field: "labels", Reason: fmt.Sprintf("exceeds %d entries", MaxLabelsCount)}
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = CurrentSchemaVer
	} else if r.SchemaVersion != CurrentSchemaVer {
		return &ValidationError{Field: "schema_version", Reason: fmt.Sprintf("unsupported version %q, expected %q", r.SchemaVersion, CurrentSchemaVer)}
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	return nil
}

// ToolName returns the registry name, "<tool>_<action>".
func (r *ToolCallRequest) ToolName() string {
	return r.Tool + "_" + r.Action
}

// ──────────────────────────────────────────────────────────────────────────────
// ToolCallEnvelope wraps a request with IDs, timestamps and chain hashes.
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallEnvelope struct {
	EventID      string          `json:"event_id"`
	Seq          int64           `json:"seq"`
	Request      ToolCallRequest `json:"request"`
	PayloadJSON  json.RawMessage `json:"payload_json"`
	PayloadCanon []byte          `json:"payload_canon,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`

	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`

	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Execution result
// ──────────────────────────────────────────────────────────────────────────────

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type ExecutionResult struct {
	Status     string          `json:"status"` // "success" | "error"
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	// HTTPCode is the upstream vendor status when one was observed.
	HTTPCode   int   `json:"http_code,omitempty"`
	DurationMS int64 `json:"duration_ms"`
}

// ──────────────────────────────────────────────────────────────────────────────
// API response
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallResponse struct {
	EventID  string           `json:"event_id"`
	Replayed bool             `json:"replayed,omitempty"`
	Result   *ExecutionResult `json:"result,omitempty"`
}
