package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/bturcanu/toolbelt/pkg/rest/resttest"
	"github.com/bturcanu/toolbelt/pkg/types"
)

func newClient(t *testing.T, srv *resttest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, "sk-test", srv.Option())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCall(t *testing.T) {
	srv := resttest.New(t)
	srv.Reply(http.MethodPost, "/v1/toolcalls", http.StatusOK, types.ToolCallResponse{
		EventID: "evt-1",
		Result:  &types.ExecutionResult{Status: types.StatusSuccess, OutputJSON: json.RawMessage(`{"ok":true}`)},
	})

	resp, err := newClient(t, srv).Call(context.Background(), types.ToolCallRequest{
		AgentID: "agent-1",
		Tool:    "jira",
		Action:  "get_issue",
		Params:  json.RawMessage(`{"key":"OPS-1"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EventID != "evt-1" || resp.Result.Status != types.StatusSuccess {
		t.Errorf("resp = %+v", resp)
	}

	got := srv.Last(t)
	if got.Header.Get("X-API-Key") != "sk-test" {
		t.Errorf("api key header = %q", got.Header.Get("X-API-Key"))
	}
	var sent types.ToolCallRequest
	got.Decode(t, &sent)
	if sent.IdempotencyKey == "" || sent.TraceID == "" {
		t.Errorf("idempotency key and trace id should be generated: %+v", sent)
	}
}

func TestCall_KeepsIdempotencyKey(t *testing.T) {
	srv := resttest.New(t)
	srv.Reply(http.MethodPost, "/v1/toolcalls", http.StatusOK, types.ToolCallResponse{EventID: "evt-1", Replayed: true})

	_, err := newClient(t, srv).Call(context.Background(), types.ToolCallRequest{Tool: "jira", Action: "get_issue", IdempotencyKey: "retry-1"})
	if err != nil {
		t.Fatal(err)
	}
	var sent types.ToolCallRequest
	srv.Last(t).Decode(t, &sent)
	if sent.IdempotencyKey != "retry-1" {
		t.Errorf("idempotency key = %q", sent.IdempotencyKey)
	}
}

func TestAPIError(t *testing.T) {
	srv := resttest.New(t)
	srv.Reply(http.MethodGet, "/v1/toolcalls/{id}", http.StatusNotFound, types.ErrNotFound("event not found"))
	srv.Reply(http.MethodGet, "/v1/tools", http.StatusBadGateway, "<html>bad gateway</html>")

	c := newClient(t, srv)
	_, err := c.GetEvent(context.Background(), "0b6f1c8e-4a9e-4a59-9d55-0d9c7f0f7c11")
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *types.APIError, got %v", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.HTTPCode != http.StatusNotFound {
		t.Errorf("apiErr = %+v", apiErr)
	}

	_, err = c.Tools(context.Background())
	var other *types.APIError
	if err == nil || errors.As(err, &other) {
		t.Errorf("expected a plain error for a non-JSON body, got %v", err)
	}
}

func TestGetEvent(t *testing.T) {
	srv := resttest.New(t)
	srv.Reply(http.MethodGet, "/v1/toolcalls/{id}", http.StatusOK, types.ToolCallEnvelope{
		EventID: "evt-9",
		Seq:     4,
		Hash:    "abc",
		Request: types.ToolCallRequest{TenantID: "acme", Tool: "slack", Action: "post_message"},
	})

	env, err := newClient(t, srv).GetEvent(context.Background(), "evt-9")
	if err != nil {
		t.Fatal(err)
	}
	if env.Seq != 4 || env.Request.ToolName() != "slack_post_message" {
		t.Errorf("env = %+v", env)
	}
	if p := srv.Last(t).Path; p != "/v1/toolcalls/evt-9" {
		t.Errorf("path = %s", p)
	}
}
