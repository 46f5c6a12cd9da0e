package rest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPConfig tunes the retrying transport shared by vendor clients.
type HTTPConfig struct {
	Retries int
	Timeout time.Duration
	// RPS puts a floor under the retry backoff; 0 disables it.
	RPS    int
	Logger *slog.Logger
}

// NewHTTPClient returns a standard *http.Client backed by go-retryablehttp.
// 429 and 5xx responses are retried with exponential backoff (1s..30s,
// honoring Retry-After); once retries are exhausted the last response is
// returned as-is so callers still see the vendor's status and body. Writes
// sent through Client.Do as POST or PATCH are only retried on 429 or when the
// connection could not be opened; see checkRetry.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.CheckRetry = checkRetry
	if cfg.Logger != nil {
		retryClient.Logger = cfg.Logger
	} else {
		retryClient.Logger = slog.New(slog.DiscardHandler)
	}

	if cfg.RPS > 0 {
		rps := cfg.RPS
		retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
			minWait := time.Second / time.Duration(rps)
			if min < minWait {
				min = minWait
			}
			return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		}
	}

	return retryClient.StandardClient()
}

type singleShotKey struct{}

// singleShot marks ctx as carrying a request the vendor may have acted on
// even if no reply arrived.
func singleShot(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleShotKey{}, true)
}

func isSingleShot(ctx context.Context) bool {
	v, _ := ctx.Value(singleShotKey{}).(bool)
	return v
}

// nonIdempotent reports whether a retry of method could create a second
// vendor record.
func nonIdempotent(method string) bool {
	return method == http.MethodPost || method == http.MethodPatch
}

// checkRetry is retryablehttp's default policy, narrowed for single-shot
// requests: those are retried on 429, which the vendor rejected unprocessed,
// and on dial failures, where nothing was sent.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if !isSingleShot(ctx) {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial", nil
	}
	return resp.StatusCode == http.StatusTooManyRequests, nil
}
