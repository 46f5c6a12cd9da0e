package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

type idParams struct {
	ID string `json:"id" jsonschema:"required"`
}

func sampleTools() []tool.Tool {
	noop := func(context.Context, idParams) (map[string]string, error) { return nil, nil }
	return []tool.Tool{
		tool.New("jira", "delete_issue", "Delete an issue.", noop, tool.Destructive()),
		tool.New("jira", "get_issue", "Fetch an issue.", noop, tool.ReadOnly()),
		tool.New("jira", "update_issue", "Update an issue.", noop),
	}
}

func TestPrintTools_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := printTools(&buf, sampleTools(), false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"destructive", "read", "write"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("line %d = %q, want access %q", i+1, lines[i+1], want)
		}
	}
}

func TestPrintTools_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printTools(&buf, sampleTools(), true); err != nil {
		t.Fatal(err)
	}
	var infos []connectors.ToolInfo
	if err := json.Unmarshal(buf.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 || infos[1].Name != "jira_get_issue" || !infos[1].ReadOnly {
		t.Errorf("infos = %+v", infos)
	}
	if len(infos[0].InputSchema) == 0 {
		t.Error("missing input schema")
	}
}

func TestListCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolbelt.yaml")
	body := `
vendors:
  slack:
    bot_token: xoxb-test
read_only: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"list", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		readOnly = false
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "slack_") {
		t.Errorf("output missing slack tools:\n%s", out.String())
	}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n")[1:] {
		if f := strings.Fields(line); len(f) < 2 || f[1] != "read" {
			t.Errorf("read_only catalog listed %q", line)
		}
	}
}

func TestCallCommand(t *testing.T) {
	var got types.ToolCallRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.ToolCallResponse{
			EventID: "evt-1",
			Result:  &types.ExecutionResult{Status: types.StatusSuccess, OutputJSON: json.RawMessage(`{"ok":true}`)},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"call", "jira", "get_issue", "--gateway", srv.URL, "--api-key", "sk-1", "-p", `{"key":"OPS-1"}`, "--idempotency-key", "k-1"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		gatewayURL, apiKey, params, idempotencyKey = "", "", "{}", ""
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if gotKey != "sk-1" || got.Tool != "jira" || got.Action != "get_issue" || got.IdempotencyKey != "k-1" {
		t.Errorf("request = %+v (key %q)", got, gotKey)
	}
	if string(got.Params) != `{"key":"OPS-1"}` {
		t.Errorf("params = %s", got.Params)
	}
	var resp types.ToolCallResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil || resp.EventID != "evt-1" {
		t.Errorf("output = %s", out.String())
	}
}
