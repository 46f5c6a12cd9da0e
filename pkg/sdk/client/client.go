// Package client is a Go client for the toolbelt gateway API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/toolbelt/pkg/auth"
	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/types"
)

type Client struct {
	rc *rest.Client
}

// New returns a client for the gateway at baseURL. Extra options are applied
// after the API key header.
func New(baseURL, apiKey string, opts ...rest.Option) (*Client, error) {
	base := []rest.Option{
		rest.WithHTTPClient(rest.NewHTTPClient(rest.HTTPConfig{Retries: 2, Timeout: 15 * time.Second})),
		rest.WithHeader(auth.APIKeyHeader, apiKey),
	}
	rc, err := rest.New(baseURL, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{rc: rc}, nil
}

// Call submits a tool call, generating an idempotency key and trace id when
// they are missing.
func (c *Client) Call(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	var resp types.ToolCallResponse
	if _, err := c.rc.Post(ctx, "/v1/toolcalls", req, &resp); err != nil {
		return nil, apiError(err)
	}
	return &resp, nil
}

// GetEvent fetches a recorded tool call.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*types.ToolCallEnvelope, error) {
	var env types.ToolCallEnvelope
	if _, err := c.rc.Get(ctx, rest.Path("v1", "toolcalls", eventID), nil, &env); err != nil {
		return nil, apiError(err)
	}
	return &env, nil
}

// Tools lists the tools the gateway can route.
func (c *Client) Tools(ctx context.Context) ([]connectors.ToolInfo, error) {
	var out []connectors.ToolInfo
	if _, err := c.rc.Get(ctx, "/v1/tools", nil, &out); err != nil {
		return nil, apiError(err)
	}
	return out, nil
}

// apiError unwraps the gateway's error body into a *types.APIError when it
// has one.
func apiError(err error) error {
	var se *rest.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var apiErr types.APIError
	if json.Unmarshal(se.Body, &apiErr) == nil && apiErr.Code != "" {
		apiErr.HTTPCode = se.StatusCode
		return &apiErr
	}
	return fmt.Errorf("gateway returned %s", http.StatusText(se.StatusCode))
}
