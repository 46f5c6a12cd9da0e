package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/types"
)

// ErrNotFound is returned by Call for an unregistered tool name.
var ErrNotFound = errors.New("tool not found")

// Outcome labels for Observer and metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid_arguments"
	OutcomeUpstream = "upstream_error"
	OutcomeError    = "error"
)

// Outcome classifies the error returned by a tool call.
func Outcome(err error) string {
	var ve *types.ValidationError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &ve):
		return OutcomeInvalid
	case rest.StatusCode(err) != 0:
		return OutcomeUpstream
	default:
		return OutcomeError
	}
}

// Observer is notified after every call, e.g. to record metrics.
type Observer interface {
	ObserveCall(ctx context.Context, t Tool, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Tool, elapsed time.Duration, err error)

func (f ObserverFunc) ObserveCall(ctx context.Context, t Tool, elapsed time.Duration, err error) {
	f(ctx, t, elapsed, err)
}

// Registry holds the enabled tools. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	log       *slog.Logger
	tracer    trace.Tracer
	observers []Observer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

func WithTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(r *Registry) { r.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/bturcanu/toolbelt/pkg/tool"

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		log:    slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools. Names must be unique and MCP-safe; on error nothing
// from this call is registered.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if !namePattern.MatchString(t.Name) {
			return fmt.Errorf("tool.Register: invalid name %q", t.Name)
		}
		if t.Handler == nil {
			return fmt.Errorf("tool.Register: %s has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup || seen[t.Name] {
			return fmt.Errorf("tool.Register: %s already registered", t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Vendors returns the distinct vendors with at least one tool, sorted.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, t := range r.tools {
		set[t.Vendor] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call runs the named tool with raw JSON arguments.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ctx, span := r.tracer.Start(ctx, "tool "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.name", t.Name),
			attribute.String("tool.vendor", t.Vendor),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := t.Handler(ctx, args)
	elapsed := time.Since(start)

	if code := rest.StatusCode(err); code != 0 {
		span.SetAttributes(attribute.Int("http.status_code", code))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.WarnContext(ctx, "tool call failed",
			"tool", t.Name,
			"vendor", t.Vendor,
			"outcome", Outcome(err),
			"status", rest.StatusCode(err),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		r.log.InfoContext(ctx, "tool call",
			"tool", t.Name,
			"vendor", t.Vendor,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	for _, o := range r.observers {
		o.ObserveCall(ctx, t, elapsed, err)
	}
	return out, err
}
