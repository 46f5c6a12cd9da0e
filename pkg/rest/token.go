package rest

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultExpirySkew refreshes tokens slightly before the vendor expires them.
const DefaultExpirySkew = 60 * time.Second

// TokenFetcher obtains a fresh token from a vendor-specific auth endpoint.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// CachedToken wraps fetch in a concurrency-safe cache. The fetcher runs again
// only once the cached token is within skew of its expiry; a token without an
// expiry is reused for the life of the source.
func CachedToken(ctx context.Context, fetch TokenFetcher, skew time.Duration) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, fetcherSource{ctx: ctx, fetch: fetch}, skew)
}

type fetcherSource struct {
	ctx   context.Context
	fetch TokenFetcher
}

func (s fetcherSource) Token() (*oauth2.Token, error) { return s.fetch(s.ctx) }

// TokenContext makes oauth2 token exchanges use hc.
func TokenContext(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// ClientCredentials returns a caching token source for the OAuth2 client
// credentials grant, exchanging tokens over hc.
func ClientCredentials(ctx context.Context, cfg *clientcredentials.Config, hc *http.Client) oauth2.TokenSource {
	return cfg.TokenSource(TokenContext(ctx, hc))
}

// RefreshToken returns a caching token source that exchanges a long-lived
// refresh token for access tokens.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string, hc *http.Client) oauth2.TokenSource {
	return cfg.TokenSource(TokenContext(ctx, hc), &oauth2.Token{RefreshToken: refreshToken})
}

// PasswordGrant returns a caching token source for the resource-owner
// password grant.
func PasswordGrant(ctx context.Context, cfg *oauth2.Config, user, pass string, hc *http.Client) oauth2.TokenSource {
	ctx = TokenContext(ctx, hc)
	return CachedToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return cfg.PasswordCredentialsToken(ctx, user, pass)
	}, DefaultExpirySkew)
}
