package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
)

type echoParams struct {
	Msg string `json:"msg" jsonschema:"required"`
}

type noParams struct{}

type echoResult struct {
	Echo string `json:"echo"`
}

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	err := reg.Register(
		tool.New("demo", "echo", "Echo a message.", func(_ context.Context, p echoParams) (*echoResult, error) {
			return &echoResult{Echo: p.Msg}, nil
		}, tool.ReadOnly()),
		tool.New("demo", "fail", "Always fails upstream.", func(_ context.Context, _ noParams) (*echoResult, error) {
			return nil, &rest.StatusError{Method: "GET", URL: "https://demo.test/x", StatusCode: 403}
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestLocal_Exec(t *testing.T) {
	l := NewLocal(testRegistry(t))

	resp := l.Exec(context.Background(), ExecRequest{Tool: "demo", Action: "echo", Params: json.RawMessage(`{"msg":"hi"}`)})
	if resp.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", resp.Status, resp.Error)
	}
	if string(resp.OutputJSON) != `{"echo":"hi"}` {
		t.Errorf("output = %s", resp.OutputJSON)
	}

	tests := []struct {
		name     string
		req      ExecRequest
		wantCode string
		wantHTTP int
	}{
		{"upstream", ExecRequest{Tool: "demo", Action: "fail"}, tool.OutcomeUpstream, 403},
		{"invalid", ExecRequest{Tool: "demo", Action: "echo", Params: json.RawMessage(`{}`)}, tool.OutcomeInvalid, 0},
		{"unknown", ExecRequest{Tool: "demo", Action: "nope"}, ErrorCodeToolNotFound, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := l.Exec(context.Background(), tc.req)
			if resp.Status != StatusError {
				t.Fatalf("status = %s", resp.Status)
			}
			if resp.ErrorCode != tc.wantCode || resp.HTTPCode != tc.wantHTTP {
				t.Errorf("got code=%s http=%d, want %s/%d", resp.ErrorCode, resp.HTTPCode, tc.wantCode, tc.wantHTTP)
			}
		})
	}
}

func TestRegistry_ExecRemote(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(InternalTokenHeader)
		var req ExecRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ExecResponse{Status: StatusSuccess, OutputJSON: json.RawMessage(`{"action":"` + req.Action + `"}`)}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	reg := NewRegistry(WithInternalToken("s3cret"))
	if err := reg.Register("jira", srv.URL); err != nil {
		t.Fatal(err)
	}

	resp, err := reg.Exec(context.Background(), ExecRequest{Tool: "jira", Action: "get_issue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusSuccess || string(resp.OutputJSON) != `{"action":"get_issue"}` {
		t.Errorf("resp = %+v", resp)
	}
	if gotToken != "s3cret" {
		t.Errorf("internal token = %q", gotToken)
	}
}

func TestRegistry_RemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg := NewRegistry()
	if err := reg.Register("jira", srv.URL); err != nil {
		t.Fatal(err)
	}
	_, err := reg.Exec(context.Background(), ExecRequest{Tool: "jira", Action: "get_issue"})
	if rest.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistry_Local(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterLocal(NewLocal(testRegistry(t)), "demo")

	resp, err := reg.Exec(context.Background(), ExecRequest{Tool: "demo", Action: "echo", Params: json.RawMessage(`{"msg":"x"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestRegistry_UnregisteredTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Exec(context.Background(), ExecRequest{Tool: "unknown", Action: "do"})
	if !errors.Is(err, ErrNoConnector) {
		t.Fatalf("expected ErrNoConnector, got %v", err)
	}
}

func TestRegistry_RegisterRejectsBadURL(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("jira", "not a url"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistry_Tools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]ToolInfo{
			{Name: "slack_post_message", Vendor: "slack"},
			{Name: "zendesk_get_ticket", Vendor: "zendesk"},
		})
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.RegisterLocal(NewLocal(testRegistry(t)), "demo")
	if err := reg.Register("slack", srv.URL); err != nil {
		t.Fatal(err)
	}

	tools, err := reg.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, ti := range tools {
		got = append(got, ti.Name)
	}
	want := []string{"demo_echo", "demo_fail", "slack_post_message"}
	if len(got) != len(want) {
		t.Fatalf("tools = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tools[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if got := reg.Vendors(); len(got) != 2 || got[0] != "demo" || got[1] != "slack" {
		t.Errorf("vendors = %v", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecResponse{Status: StatusSuccess})
	}))
	defer srv.Close()

	if err := reg.Register("test", srv.URL); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Exec(context.Background(), ExecRequest{Tool: "test", Action: "do"})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.RegisterLocal(NewLocal(tool.NewRegistry()), "other")
	}()
	wg.Wait()
}

func TestRegistry_WithTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	reg := NewRegistry(WithTimeout(50 * time.Millisecond))
	if err := reg.Register("slow", srv.URL); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err := reg.Exec(context.Background(), ExecRequest{Tool: "slow", Action: "do"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
	if NewRegistry(WithTimeout(0)).httpClient.Timeout != 30*time.Second {
		t.Error("non-positive timeout should keep the default")
	}
}
