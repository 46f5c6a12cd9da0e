// Package connectors carries tool calls from the gateway to the processes that
// hold vendor credentials, either in-process or over HTTP.
package connectors

import (
	"context"
	"encoding/json"
)

// Exec outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Connector executes a vendor action.
type Connector interface {
	Exec(ctx context.Context, req ExecRequest) ExecResponse
}

// ExecRequest is the payload sent from the gateway to a connector. Tool is
// the vendor and Action the operation; together they name a registry tool.
type ExecRequest struct {
	EventID  string          `json:"event_id"`
	TenantID string          `json:"tenant_id"`
	AgentID  string          `json:"agent_id"`
	Tool     string          `json:"tool"`
	Action   string          `json:"action"`
	Params   json.RawMessage `json:"params"`
	Resource string          `json:"resource,omitempty"`
}

// ToolName is the registry name addressed by the request.
func (r ExecRequest) ToolName() string {
	return r.Tool + "_" + r.Action
}

// ExecResponse is what the connector returns. HTTPCode carries the vendor
// status when the vendor rejected the call; ErrorCode is the call outcome.
type ExecResponse struct {
	Status     string          `json:"status"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	HTTPCode   int             `json:"http_code,omitempty"`
}

// ToolInfo describes one tool a connector can run.
type ToolInfo struct {
	Name        string          `json:"name"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
	ReadOnly    bool            `json:"read_only"`
	Destructive bool            `json:"destructive"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Lister is implemented by connectors that can describe their tools.
type Lister interface {
	Tools() []ToolInfo
}
