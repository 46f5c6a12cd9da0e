// Package mcpserver exposes a tool registry over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
)

// New returns an MCP server offering every tool in reg.
func New(reg *tool.Registry, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(Tools(reg)...)
	return s
}

// Tools adapts each registry tool to an MCP tool and handler.
func Tools(reg *tool.Registry) []server.ServerTool {
	list := reg.List()
	out := make([]server.ServerTool, 0, len(list))
	for _, t := range list {
		mt := mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema)
		mt.Annotations = mcp.ToolAnnotation{
			ReadOnlyHint:    boolPtr(t.ReadOnly),
			DestructiveHint: boolPtr(t.Destructive),
			OpenWorldHint:   boolPtr(true),
		}
		out = append(out, server.ServerTool{Tool: mt, Handler: handler(reg, t.Name)})
	}
	return out
}

func handler(reg *tool.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Arguments pass through unconverted so the tool schema rejects
		// anything that is not an object.
		args, err := json.Marshal(req.GetRawArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
		}
		out, err := reg.Call(ctx, name, args)
		if err != nil {
			return errorResult(err), nil
		}
		body, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if code := rest.StatusCode(err); code != 0 {
		msg = fmt.Sprintf("%s (http_code %d, outcome %s)", msg, code, tool.Outcome(err))
	} else {
		msg = fmt.Sprintf("%s (outcome %s)", msg, tool.Outcome(err))
	}
	return mcp.NewToolResultError(msg)
}

// ServeStdio speaks MCP over in/out until ctx is done or in is closed.
// Server diagnostics go to logger.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(log.New(slogWriter{logger}, "", 0))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcpserver.ServeStdio: %w", err)
	}
	return nil
}

type slogWriter struct{ log *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Error("mcp server", "message", string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}

func boolPtr(b bool) *bool { return &b }
