package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bturcanu/toolbelt/pkg/rest"
)

// InternalTokenHeader authenticates the gateway to remote connectors.
const InternalTokenHeader = "X-Internal-Token"

// ErrNoConnector is returned for a vendor with no route.
var ErrNoConnector = errors.New("no connector registered")

// Registry routes vendors to a local connector or a remote connector URL.
// Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	local         map[string]Connector
	remote        map[string]*rest.Client
	httpClient    *http.Client
	internalToken string
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithTimeout bounds each call to a remote connector. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

// WithInternalToken sets the token sent to remote connectors.
func WithInternalToken(token string) Option {
	return func(r *Registry) { r.internalToken = token }
}

// NewRegistry returns an empty Registry. The transport and token are fixed
// here and shared by every remote connector registered later.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		local:      make(map[string]Connector),
		remote:     make(map[string]*rest.Client),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register maps a vendor to a remote connector base URL.
func (r *Registry) Register(vendor, baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts := []rest.Option{rest.WithHTTPClient(r.httpClient)}
	if r.internalToken != "" {
		opts = append(opts, rest.WithHeader(InternalTokenHeader, r.internalToken))
	}
	rc, err := rest.New(baseURL, opts...)
	if err != nil {
		return fmt.Errorf("connectors.Register %s: %w", vendor, err)
	}
	delete(r.local, vendor)
	r.remote[vendor] = rc
	return nil
}

// RegisterLocal maps vendors to an in-process connector.
func (r *Registry) RegisterLocal(c Connector, vendors ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vendors {
		delete(r.remote, v)
		r.local[v] = c
	}
}

// Vendors lists every routed vendor, sorted.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.local)+len(r.remote))
	for v := range r.local {
		out = append(out, v)
	}
	for v := range r.remote {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Exec routes the request to the connector for req.Tool. Transport failures
// and non-2xx connector replies are errors; vendor failures come back inside
// the ExecResponse.
func (r *Registry) Exec(ctx context.Context, req ExecRequest) (*ExecResponse, error) {
	r.mu.RLock()
	local, isLocal := r.local[req.Tool]
	remote, isRemote := r.remote[req.Tool]
	r.mu.RUnlock()

	switch {
	case isLocal:
		resp := local.Exec(ctx, req)
		return &resp, nil
	case isRemote:
		var resp ExecResponse
		if _, err := remote.Post(ctx, "/exec", req, &resp); err != nil {
			return nil, fmt.Errorf("connector %s: %w", req.Tool, err)
		}
		return &resp, nil
	default:
		return nil, fmt.Errorf("%w for tool %q", ErrNoConnector, req.Tool)
	}
}

// Tools lists the tools of every routed vendor. Remote connectors are asked
// for GET /tools and only entries for vendors routed to them are kept.
func (r *Registry) Tools(ctx context.Context) ([]ToolInfo, error) {
	r.mu.RLock()
	locals := make(map[Connector][]string)
	for v, c := range r.local {
		locals[c] = append(locals[c], v)
	}
	remotes := make(map[*rest.Client][]string)
	for v, rc := range r.remote {
		remotes[rc] = append(remotes[rc], v)
	}
	r.mu.RUnlock()

	var out []ToolInfo
	keep := func(infos []ToolInfo, vendors []string) {
		for _, info := range infos {
			for _, v := range vendors {
				if info.Vendor == v {
					out = append(out, info)
					break
				}
			}
		}
	}
	for c, vendors := range locals {
		if l, ok := c.(Lister); ok {
			keep(l.Tools(), vendors)
		}
	}
	for rc, vendors := range remotes {
		var infos []ToolInfo
		if _, err := rc.Get(ctx, "/tools", nil, &infos); err != nil {
			return nil, fmt.Errorf("connector tools %v: %w", vendors, err)
		}
		keep(infos, vendors)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
