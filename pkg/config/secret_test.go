package config

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubOp(t *testing.T, lookErr error, command func(ctx context.Context, name string, args ...string) *exec.Cmd) {
	t.Helper()
	origCommand, origLook := CommandContext, LookPath
	t.Cleanup(func() {
		CommandContext = origCommand
		LookPath = origLook
	})
	LookPath = func(string) (string, error) {
		if lookErr != nil {
			return "", lookErr
		}
		return "/usr/local/bin/op", nil
	}
	if command != nil {
		CommandContext = command
	}
}

func echoCommand(out string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", out)
	}
}

func TestResolveSecretReference(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		lookErr    error
		command    func(ctx context.Context, name string, args ...string) *exec.Cmd
		wantValue  string
		wantSecret bool
		wantErr    bool
	}{
		{name: "plain value", input: "regular-value", wantValue: "regular-value"},
		{name: "empty", input: ""},
		{
			name:       "resolved",
			input:      "op://vault/item/field",
			command:    echoCommand("secret-value"),
			wantValue:  "secret-value",
			wantSecret: true,
		},
		{
			name:       "cli missing",
			input:      "op://vault/item/field",
			lookErr:    exec.ErrNotFound,
			wantSecret: true,
			wantErr:    true,
		},
		{
			name:  "cli fails",
			input: "op://vault/item/field",
			command: func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
				return exec.CommandContext(ctx, "false")
			},
			wantSecret: true,
			wantErr:    true,
		},
		{name: "malformed", input: "op://invalid", wantSecret: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubOp(t, tt.lookErr, tt.command)

			got, isSecret, err := ResolveSecretReference(context.Background(), tt.input)
			assert.Equal(t, tt.wantSecret, isSecret)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

type secretTarget struct {
	Token   string
	Plain   string
	Nested  *secretNested
	Headers map[string]string
	List    []string
	hidden  string
}

type secretNested struct {
	Password string
}

func TestResolveSecrets_WalksNestedValues(t *testing.T) {
	stubOp(t, nil, echoCommand("resolved"))

	target := &secretTarget{
		Token:   "op://vault/api/token",
		Plain:   "keep-me",
		Nested:  &secretNested{Password: "op://vault/db/password"},
		Headers: map[string]string{"X-Key": "op://vault/h/key", "X-Plain": "p"},
		List:    []string{"a", "op://vault/l/item"},
		hidden:  "op://vault/hidden/field",
	}
	require.NoError(t, ResolveSecrets(context.Background(), target))

	assert.Equal(t, "resolved", target.Token)
	assert.Equal(t, "keep-me", target.Plain)
	assert.Equal(t, "resolved", target.Nested.Password)
	assert.Equal(t, map[string]string{"X-Key": "resolved", "X-Plain": "p"}, target.Headers)
	assert.Equal(t, []string{"a", "resolved"}, target.List)
	assert.Equal(t, "op://vault/hidden/field", target.hidden)
}

func TestResolveSecrets_ReportsFieldPath(t *testing.T) {
	stubOp(t, exec.ErrNotFound, nil)

	target := &secretTarget{Nested: &secretNested{Password: "op://vault/db/password"}}
	err := ResolveSecrets(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nested.Password")
}

func TestResolveSecrets_RequiresPointer(t *testing.T) {
	require.Error(t, ResolveSecrets(context.Background(), secretTarget{}))
}
