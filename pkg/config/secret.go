package config

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"reflect"
	"strings"
)

// SecretPrefix marks a 1Password secret reference (op://vault/item/field).
const SecretPrefix = "op://"

var (
	// CommandContext is overridden in tests.
	CommandContext = exec.CommandContext
	// LookPath is overridden in tests.
	LookPath = exec.LookPath
)

// ResolveSecretReference resolves a 1Password secret reference through the op
// CLI. It reports whether value was a reference at all; plain values are
// returned unchanged.
func ResolveSecretReference(ctx context.Context, value string) (string, bool, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, false, nil
	}
	if strings.Count(strings.TrimPrefix(value, SecretPrefix), "/") < 2 {
		return "", true, fmt.Errorf("config.ResolveSecretReference: malformed reference %q", value)
	}
	if _, err := LookPath("op"); err != nil {
		return "", true, fmt.Errorf("config.ResolveSecretReference: 1Password CLI (op) not found in PATH: %w", err)
	}

	out, err := CommandContext(ctx, "op", "read", value).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", true, fmt.Errorf("config.ResolveSecretReference: op read: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", true, fmt.Errorf("config.ResolveSecretReference: op read: %w", err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// ResolveSecrets walks v (a pointer to a struct, map or slice) and replaces
// every string holding a secret reference with its resolved value. Unexported
// fields are skipped.
func ResolveSecrets(ctx context.Context, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("config.ResolveSecrets: want non-nil pointer, got %T", v)
	}
	return resolveValue(ctx, rv.Elem(), "")
}

func resolveValue(ctx context.Context, v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Interface {
			// Interface contents are not addressable; resolve a copy and store it back.
			inner := reflect.New(v.Elem().Type()).Elem()
			inner.Set(v.Elem())
			if err := resolveValue(ctx, inner, path); err != nil {
				return err
			}
			if v.CanSet() {
				v.Set(inner)
			}
			return nil
		}
		return resolveValue(ctx, v.Elem(), path)

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := resolveValue(ctx, v.Field(i), joinPath(path, t.Field(i).Name)); err != nil {
				return err
			}
		}

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		iter := v.MapRange()
		for iter.Next() {
			val := reflect.New(iter.Value().Type()).Elem()
			val.Set(iter.Value())
			if err := resolveValue(ctx, val, joinPath(path, fmt.Sprint(iter.Key().Interface()))); err != nil {
				return err
			}
			v.SetMapIndex(iter.Key(), val)
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := resolveValue(ctx, v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}

	case reflect.String:
		resolved, isRef, err := ResolveSecretReference(ctx, v.String())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if isRef && v.CanSet() {
			v.SetString(resolved)
		}
	}
	return nil
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
