package experiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellCommand_String(t *testing.T) {
	out, err := ShellCommand().Execute(context.Background(), Parameters{
		"command": "echo hello; echo oops 1>&2; exit 3",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, "oops\n", out["stderr"])
	assert.Equal(t, 3, out["returncode"])
}

func TestShellCommand_ArgList(t *testing.T) {
	out, err := ShellCommand().Execute(context.Background(), Parameters{
		"command": []interface{}{"echo", "a b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "a b\n", out["stdout"])
	assert.Equal(t, 0, out["returncode"])
}

func TestShellCommand_InvocationFailure(t *testing.T) {
	tests := []struct {
		name    string
		command interface{}
	}{
		{"missing", nil},
		{"empty string", ""},
		{"empty list", []interface{}{}},
		{"non-string arg", []interface{}{"echo", 42}},
		{"wrong type", 12},
		{"not found", []string{"/definitely/not/a/binary"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := Parameters{}
			if tt.command != nil {
				params["command"] = tt.command
			}
			out, err := ShellCommand().Execute(context.Background(), params)
			require.NoError(t, err)
			assert.Contains(t, out, "error")
			assert.NotContains(t, out, "returncode")
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	exp, ok := r.Lookup(ShellExperimentName)
	require.True(t, ok)
	assert.Equal(t, ShellExperimentName, exp.Name())

	err := r.Register(ShellCommand())
	assert.Error(t, err, "duplicate names must be rejected")

	require.NoError(t, r.Register(NewFunc("noop", func(ctx context.Context, p Parameters) (Output, error) {
		return Output{}, nil
	})))
	assert.Equal(t, []string{"noop", "shell"}, r.Names())

	assert.Error(t, r.Register(NewFunc("", nil)))
}
