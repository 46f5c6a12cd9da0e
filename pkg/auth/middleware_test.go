package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bturcanu/toolbelt/pkg/types"
)

func TestAPIKeyAuth(t *testing.T) {
	keys := NewKeyStore("acme:sk-acme,globex:sk-globex")

	tests := []struct {
		name       string
		path       string
		header     map[string]string
		wantStatus int
		wantTenant string
		wantMsg    string
	}{
		{"api key header", "/v1/toolcalls", map[string]string{"X-API-Key": "sk-acme"}, http.StatusOK, "acme", ""},
		{"bearer token", "/v1/tools", map[string]string{"Authorization": "Bearer sk-globex"}, http.StatusOK, "globex", ""},
		{"lowercase bearer", "/v1/tools", map[string]string{"Authorization": "bearer sk-acme"}, http.StatusOK, "acme", ""},
		{"api key header wins", "/v1/tools", map[string]string{"X-API-Key": "sk-globex", "Authorization": "Bearer sk-acme"}, http.StatusOK, "globex", ""},
		{"unknown key", "/v1/toolcalls", map[string]string{"X-API-Key": "sk-other"}, http.StatusUnauthorized, "", "invalid API key"},
		{"basic auth is not a key", "/v1/toolcalls", map[string]string{"Authorization": "Basic c2stYWNtZTo="}, http.StatusUnauthorized, "", "missing API key"},
		{"no credentials", "/v1/toolcalls/0b6f1c8e-4a9e-4a59-9d55-0d9c7f0f7c11", nil, http.StatusUnauthorized, "", "missing API key"},
		{"health is public", "/healthz", nil, http.StatusOK, "", ""},
		{"readiness is public", "/readyz", nil, http.StatusOK, "", ""},
		{"metrics are public", "/metrics", nil, http.StatusOK, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotTenant string
			var reached bool
			h := APIKeyAuth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				gotTenant = TenantFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if gotTenant != tc.wantTenant {
				t.Errorf("tenant = %q, want %q", gotTenant, tc.wantTenant)
			}
			if tc.wantMsg == "" {
				return
			}
			if reached {
				t.Error("rejected request reached the handler")
			}
			var apiErr types.APIError
			if err := json.Unmarshal(rr.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("body %q: %v", rr.Body.String(), err)
			}
			if apiErr.Code != "UNAUTHORIZED" || apiErr.Message != tc.wantMsg {
				t.Errorf("error = %+v", apiErr)
			}
		})
	}
}

func TestAPIKeyAuth_EmptyStoreRejectsEveryCall(t *testing.T) {
	h := APIKeyAuth(NewKeyStore(""))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/toolcalls", nil)
	req.Header.Set(APIKeyHeader, "sk-acme")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestWithTenant(t *testing.T) {
	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("empty context tenant = %q", got)
	}
	if got := TenantFromContext(WithTenant(context.Background(), "acme")); got != "acme" {
		t.Errorf("tenant = %q", got)
	}
}
