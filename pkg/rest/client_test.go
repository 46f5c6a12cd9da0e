package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1/", append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "https://", "::not a url"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestDo_JoinsPathAndQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/issue/OPS%2F1", r.URL.EscapedPath())
		assert.Equal(t, "summary,status", r.URL.Query().Get("fields"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"key":"OPS/1"}`))
	})

	var out struct {
		Key string `json:"key"`
	}
	resp, err := c.Get(context.Background(), Path("issue", "OPS/1"), url.Values{"fields": {"summary,status"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OPS/1", out.Key)
}

func TestDo_PathWithInlineQueryIsMerged(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/items", r.URL.Path)
		assert.Equal(t, "a", r.URL.Query().Get("inline"))
		assert.Equal(t, "b", r.URL.Query().Get("extra"))
		w.WriteHeader(http.StatusNoContent)
	})
	_, err := c.Get(context.Background(), "/items?inline=a", url.Values{"extra": {"b"}}, nil)
	require.NoError(t, err)
}

func TestDo_AbsoluteNextLinkUsedAsIs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/elsewhere/page2", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("$skiptoken"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New("https://vendor.invalid/base", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, err = c.Get(context.Background(), srv.URL+"/elsewhere/page2?$skiptoken=tok", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_JSONBodyAndHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "toolbelt", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"name": "Acme"}, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"001"}`))
	}, WithHeader("User-Agent", "toolbelt"), WithAuth(Bearer("s3cret")))

	var out map[string]string
	resp, err := c.Post(context.Background(), "/accounts", map[string]string{"name": "Acme"}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "001", out["id"])
}

func TestDo_FormBodyAndBasicAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "pass", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "v", r.PostForm.Get("k"))
		w.WriteHeader(http.StatusOK)
	}, WithAuth(Basic("user", "pass")))

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/form", Form: url.Values{"k": {"v"}}}, nil)
	require.NoError(t, err)
}

func TestDo_RequestHeaderOverridesContentType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/merge-patch+json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})
	_, err := c.Do(context.Background(), Request{
		Method: http.MethodPatch,
		Path:   "/x",
		Body:   map[string]int{"a": 1},
		Header: http.Header{"Content-Type": {"application/merge-patch+json"}},
	}, nil)
	require.NoError(t, err)
}

func TestDo_BodyAndFormExclusive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Body: 1, Form: url.Values{}}, nil)
	require.Error(t, err)
}

func TestDo_NonSuccessReturnsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist"]}`))
	})

	resp, err := c.Get(context.Background(), "/issue/NOPE-1", url.Values{"token": {"hidden"}}, nil)
	require.Error(t, err)
	require.NotNil(t, resp)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.NotContains(t, se.URL, "hidden")
	assert.Contains(t, se.Error(), "Issue does not exist")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("wrapped: %w", err)))
}

func TestDo_EmptyBodyLeavesOutUntouched(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	out := map[string]string{"keep": "me"}
	resp, err := c.Delete(context.Background(), "/thing/1", &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "me", out["keep"])
}

func TestDo_DecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	var out map[string]any
	_, err := c.Get(context.Background(), "/x", nil, &out)
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestDo_ResponseTooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", MaxResponseBytes+10)))
	})
	_, err := c.Get(context.Background(), "/big", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestCodeOf(t *testing.T) {
	code, err := CodeOf(&Response{StatusCode: 204}, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, code)

	code, err = CodeOf(&Response{StatusCode: 409}, &StatusError{StatusCode: 409})
	require.NoError(t, err)
	assert.Equal(t, 409, code)

	boom := errors.New("connection refused")
	code, err = CodeOf(nil, boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, code)
}

func TestWithRateLimit_WaitsOnCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, WithRateLimit(0.001, 1))

	_, err := c.Get(context.Background(), "/first", nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, "/second", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

// ──────────────────────────────────────────────────────────────────────────────
// Retrying transport
// ──────────────────────────────────────────────────────────────────────────────

func TestNewHTTPClient_PassesThroughFinalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHTTPClient(NewHTTPClient(HTTPConfig{Retries: 0, Timeout: 5 * time.Second})))
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestNewHTTPClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"n":1}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHTTPClient(NewHTTPClient(HTTPConfig{Retries: 2, Timeout: 5 * time.Second})))
	require.NoError(t, err)
	var out map[string]bool
	_, err = c.Put(context.Background(), "/", map[string]int{"n": 1}, &out)
	require.NoError(t, err)
	assert.True(t, out["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewHTTPClient_WritesAreNotResentAfterServerError(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.Header().Set("Retry-After", "0")
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"1","key":"OPS-1"}`))
			}))
			defer srv.Close()

			c, err := New(srv.URL, WithHTTPClient(NewHTTPClient(HTTPConfig{Retries: 3, Timeout: 5 * time.Second})))
			require.NoError(t, err)
			_, err = c.Do(context.Background(), Request{Method: method, Path: "/rest/api/3/issue", Body: map[string]string{"summary": "x"}}, nil)
			assert.Equal(t, http.StatusBadGateway, StatusCode(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestNewHTTPClient_WritesRetryTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"n":1}`, string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHTTPClient(NewHTTPClient(HTTPConfig{Retries: 2, Timeout: 5 * time.Second})))
	require.NoError(t, err)
	_, err = c.Post(context.Background(), "/", map[string]int{"n": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheckRetry_SingleShot(t *testing.T) {
	ctx := singleShot(context.Background())
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}

	retry, err := checkRetry(ctx, nil, fmt.Errorf("Post: %w", dial))
	require.NoError(t, err)
	assert.True(t, retry, "dial failure never reached the vendor")

	retry, _ = checkRetry(ctx, nil, read)
	assert.False(t, retry, "a reset after sending may follow a processed write")

	retry, _ = checkRetry(ctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	assert.False(t, retry)

	retry, _ = checkRetry(context.Background(), &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	assert.True(t, retry, "idempotent requests keep the default policy")
}

// ──────────────────────────────────────────────────────────────────────────────
// Tokens
// ──────────────────────────────────────────────────────────────────────────────

func TestCachedToken_ReusesUntilExpiry(t *testing.T) {
	var fetches atomic.Int32
	fetch := func(context.Context) (*oauth2.Token, error) {
		n := fetches.Add(1)
		return &oauth2.Token{
			AccessToken: fmt.Sprintf("tok-%d", n),
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	}
	ts := CachedToken(context.Background(), fetch, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Token()
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok.AccessToken)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fetches.Load())
}

func TestCachedToken_RefreshesInsideSkew(t *testing.T) {
	var fetches atomic.Int32
	fetch := func(context.Context) (*oauth2.Token, error) {
		fetches.Add(1)
		return &oauth2.Token{AccessToken: "short", Expiry: time.Now().Add(30 * time.Second)}, nil
	}
	ts := CachedToken(context.Background(), fetch, time.Minute)
	_, err := ts.Token()
	require.NoError(t, err)
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestClientCredentials_AttachesBearer(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ts := ClientCredentials(context.Background(), &clientcredentials.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/oauth/token",
	}, srv.Client())
	c, err := New(srv.URL+"/api", WithHTTPClient(srv.Client()), WithAuth(OAuth2(ts)))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.Get(context.Background(), "/me", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestOAuth2_TokenFailureStopsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}, WithAuth(OAuth2(CachedToken(context.Background(), func(context.Context) (*oauth2.Token, error) {
		return nil, errors.New("invalid_client")
	}, time.Minute))))

	_, err := c.Get(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client")
}

// ──────────────────────────────────────────────────────────────────────────────
// Pagination
// ──────────────────────────────────────────────────────────────────────────────

func TestCollect_FollowsCursorUntilExhausted(t *testing.T) {
	pages := map[string]Page[int]{
		"":   {Items: []int{1, 2}, Next: "c1"},
		"c1": {Items: []int{}, Next: "c2"},
		"c2": {Items: []int{3}},
	}
	got, err := Collect(context.Background(), 10, func(_ context.Context, cursor string) (Page[int], error) {
		return pages[cursor], nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestCollect_EmptyIsNotNil(t *testing.T) {
	got, err := Collect(context.Background(), 10, func(context.Context, string) (Page[int], error) {
		return Page[int]{}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestCollect_StopsAtLimit(t *testing.T) {
	var calls int
	got, err := Collect(context.Background(), 3, func(_ context.Context, cursor string) (Page[int], error) {
		calls++
		return Page[int]{Items: []int{calls * 10, calls*10 + 1}, Next: fmt.Sprint(calls)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 20}, got)
	assert.Equal(t, 2, calls)
}

func TestCollect_RepeatedCursorTerminates(t *testing.T) {
	got, err := Collect(context.Background(), 0, func(_ context.Context, cursor string) (Page[string], error) {
		return Page[string]{Items: []string{"x"}, Next: "same"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x"}, got)
}

func TestCollect_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(context.Background(), 5, func(context.Context, string) (Page[int], error) {
		return Page[int]{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, ClampLimit(0, 50))
	assert.Equal(t, 7, ClampLimit(7, 50))
	assert.Equal(t, MaxCollect, ClampLimit(5000, 50))
}

func TestWith_CopiesWithoutMutatingParent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"auth":"` + r.Header.Get("Authorization") + `","h":"` + r.Header.Get("X-Extra") + `"}`))
	}, WithHeader("X-Extra", "base"))

	authed := c.With(WithAuth(Bearer("t1")), WithHeader("X-Extra", "child"))
	assert.Same(t, c.HTTPClient(), authed.HTTPClient())

	var parent, child map[string]string
	_, err := c.Get(context.Background(), "/", nil, &parent)
	require.NoError(t, err)
	_, err = authed.Get(context.Background(), "/", nil, &child)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"auth": "", "h": "base"}, parent)
	assert.Equal(t, map[string]string{"auth": "Bearer t1", "h": "child"}, child)
}
