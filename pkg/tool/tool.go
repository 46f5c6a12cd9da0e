// Package tool turns typed vendor operations into self-describing tools with a
// JSON input schema, argument validation and a uniform raw-JSON handler.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bturcanu/toolbelt/pkg/types"
)

// namePattern keeps names valid as MCP tool identifiers.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Handler executes a tool against raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one vendor operation exposed to an orchestration framework.
type Tool struct {
	Name        string
	Vendor      string
	Description string
	InputSchema json.RawMessage
	ReadOnly    bool
	Destructive bool
	Handler     Handler
}

// Option adjusts a Tool built by New.
type Option func(*Tool)

// ReadOnly marks a tool that never changes vendor state.
func ReadOnly() Option { return func(t *Tool) { t.ReadOnly = true } }

// Destructive marks a tool that deletes or archives vendor data.
func Destructive() Option { return func(t *Tool) { t.Destructive = true } }

// Validator is implemented by parameter types with checks the schema cannot
// express (one-of fields, cross-field rules).
type Validator interface {
	Validate() error
}

// New builds a Tool named "<vendor>_<name>" from a typed function. The input
// schema is reflected from P; `jsonschema:"required"` tags mark required
// fields and unknown fields are rejected. New panics if P does not produce a
// valid schema, which can only happen for a programming error.
func New[P, R any](vendor, name, description string, fn func(context.Context, P) (R, error), opts ...Option) Tool {
	full := vendor + "_" + name
	raw, schema, err := compileSchema[P](full)
	if err != nil {
		panic(fmt.Sprintf("tool.New %s: %v", full, err))
	}

	t := Tool{
		Name:        full,
		Vendor:      vendor,
		Description: description,
		InputSchema: raw,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			params, err := decodeArgs[P](schema, args)
			if err != nil {
				return nil, err
			}
			return fn(ctx, params)
		},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// ──────────────────────────────────────────────────────────────────────────────
// Schema
// ──────────────────────────────────────────────────────────────────────────────

func compileSchema[P any](name string) (json.RawMessage, *jsv.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
	}
	var zero P
	s := reflector.Reflect(zero)
	s.Version = ""
	s.ID = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsv.NewCompiler()
	compiler.Draft = jsv.Draft2020
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, nil, fmt.Errorf("compile schema: %w", err)
	}
	return raw, compiled, nil
}

func decodeArgs[P any](schema *jsv.Schema, args json.RawMessage) (P, error) {
	var params P
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var generic any
	if err := json.Unmarshal(trimmed, &generic); err != nil {
		return params, &types.ValidationError{Field: "arguments", Reason: "must be a JSON object: " + err.Error()}
	}
	if err := schema.Validate(generic); err != nil {
		return params, schemaError(err)
	}
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return params, &types.ValidationError{Field: "arguments", Reason: err.Error()}
	}

	if v, ok := any(&params).(Validator); ok {
		if err := v.Validate(); err != nil {
			return params, err
		}
	}
	return params, nil
}

// schemaError reduces a schema validation failure to its first leaf cause.
func schemaError(err error) error {
	var ve *jsv.ValidationError
	if !errors.As(err, &ve) {
		return &types.ValidationError{Field: "arguments", Reason: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
	if field == "" {
		field = "arguments"
	}
	return &types.ValidationError{Field: field, Reason: leaf.Message}
}
