package rest

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Authenticator decorates an outgoing request with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// AuthFunc adapts a function to Authenticator.
type AuthFunc func(ctx context.Context, req *http.Request) error

func (f AuthFunc) Authenticate(ctx context.Context, req *http.Request) error { return f(ctx, req) }

// Bearer sends a static bearer token.
func Bearer(token string) Authenticator {
	return Header("Authorization", "Bearer "+token)
}

// Basic sends HTTP basic credentials.
func Basic(user, pass string) Authenticator {
	return AuthFunc(func(_ context.Context, req *http.Request) error {
		req.SetBasicAuth(user, pass)
		return nil
	})
}

// Header sends a static header, for vendors using API-key headers.
func Header(name, value string) Authenticator {
	return AuthFunc(func(_ context.Context, req *http.Request) error {
		req.Header.Set(name, value)
		return nil
	})
}

// OAuth2 attaches a token from ts. Use a caching source (CachedToken, or the
// sources returned by clientcredentials/oauth2.Config) so tokens are reused.
func OAuth2(ts oauth2.TokenSource) Authenticator {
	return AuthFunc(func(_ context.Context, req *http.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("oauth2 token: %w", err)
		}
		tok.SetAuthHeader(req)
		return nil
	})
}
