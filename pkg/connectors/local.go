package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
)

// ErrorCodeToolNotFound is the ErrorCode for an action the connector lacks.
const ErrorCodeToolNotFound = "tool_not_found"

// Local runs requests against an in-process tool registry.
type Local struct {
	reg *tool.Registry
}

func NewLocal(reg *tool.Registry) *Local {
	return &Local{reg: reg}
}

func (l *Local) Exec(ctx context.Context, req ExecRequest) ExecResponse {
	out, err := l.reg.Call(ctx, req.ToolName(), req.Params)
	if err != nil {
		resp := ExecResponse{
			Status:    StatusError,
			Error:     err.Error(),
			ErrorCode: tool.Outcome(err),
			HTTPCode:  rest.StatusCode(err),
		}
		if errors.Is(err, tool.ErrNotFound) {
			resp.ErrorCode = ErrorCodeToolNotFound
		}
		return resp
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return ExecResponse{Status: StatusError, Error: fmt.Sprintf("encode output: %v", err), ErrorCode: tool.OutcomeError}
	}
	return ExecResponse{Status: StatusSuccess, OutputJSON: raw}
}

func (l *Local) Tools() []ToolInfo {
	list := l.reg.List()
	out := make([]ToolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, Info(t))
	}
	return out
}

// Info describes t for catalog listings.
func Info(t tool.Tool) ToolInfo {
	return ToolInfo{
		Name:        t.Name,
		Vendor:      t.Vendor,
		Description: t.Description,
		ReadOnly:    t.ReadOnly,
		Destructive: t.Destructive,
		InputSchema: t.InputSchema,
	}
}
