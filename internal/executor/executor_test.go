package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/observe"
)

func executors() map[string]Executor {
	return map[string]Executor{
		"inline":  NewInline(),
		"process": NewProcess(testRegistry, WithWorkerOutput(io.Discard, io.Discard)),
	}
}

// asJSON normalizes an output the way it ends up on disk
func asJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestExecute_Success(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), okExperiment, experiment.Parameters{"value": 42}, 5*time.Second)
			require.NoError(t, err)

			assert.Equal(t, StatusCompleted, o.Status)
			assert.Equal(t, ExitReasonSuccess, o.ExitReason)
			assert.JSONEq(t, `{"result":"ok","echo":42}`, asJSON(t, o.Output))
			assert.False(t, o.EndTime.Before(o.StartTime))
		})
	}
}

func TestExecute_LargeIntegerParameter(t *testing.T) {
	const value = int64(9007199254740993) // 2^53 + 1, not representable as float64

	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), okExperiment, experiment.Parameters{"value": value}, 5*time.Second)
			require.NoError(t, err)
			require.Equal(t, StatusCompleted, o.Status)

			assert.Equal(t, "9007199254740993", fmt.Sprint(o.Output["echo"]))
			assert.Contains(t, asJSON(t, o.Output), `"echo":9007199254740993`)
		})
	}
}

func TestExecute_FunctionError(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), boomExperiment, experiment.Parameters{}, 5*time.Second)
			require.NoError(t, err, "function errors must not propagate")

			assert.Equal(t, StatusFunctionError, o.Status)
			assert.JSONEq(t, `{"error":"boom"}`, asJSON(t, o.Output))
		})
	}
}

func TestExecute_Panic(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), panicExperiment, experiment.Parameters{}, 5*time.Second)
			require.NoError(t, err)

			assert.Equal(t, StatusFunctionError, o.Status)
			assert.Equal(t, "panic: kaboom", o.Output["error"])
		})
	}
}

func TestExecute_NonSerializableOutput(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), badOutputExperiment, experiment.Parameters{}, 5*time.Second)
			require.NoError(t, err)

			assert.Equal(t, StatusFunctionError, o.Status)
			assert.Contains(t, o.Output["error"], "not JSON-serializable")
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			o, err := ex.Execute(context.Background(), hangExperiment, experiment.Parameters{}, time.Second)
			require.NoError(t, err)

			assert.Less(t, time.Since(start), 10*time.Second)
			assert.Equal(t, StatusTimedOut, o.Status)
			assert.Equal(t, ExitReasonTimeout, o.ExitReason)
			assert.JSONEq(t,
				`{"error":"Experiment timed out","timeout_info":{"timeout_seconds":1}}`,
				asJSON(t, o.Output))
			assert.NotContains(t, o.Output, "partial")
		})
	}
}

func TestProcess_TimeoutLeavesNoWorker(t *testing.T) {
	ex := NewProcess(testRegistry, WithWorkerOutput(io.Discard, io.Discard))

	o, err := ex.Execute(context.Background(), hangExperiment, experiment.Parameters{}, 500*time.Millisecond)
	require.NoError(t, err)
	require.NotZero(t, o.PID)

	assert.False(t, observe.New(o.PID).Exists(), "worker %d must be reaped", o.PID)
	assert.Equal(t, StateKilled, o.Events[len(o.Events)-1].State)
}

func TestProcess_TimeoutKillsGrandchildren(t *testing.T) {
	ex := NewProcess(testRegistry, WithWorkerOutput(io.Discard, io.Discard))

	start := time.Now()
	o, err := ex.Execute(context.Background(), experiment.ShellCommand(),
		experiment.Parameters{"command": "sleep 30"}, 500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, o.Status)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProcess_WorkerCrash(t *testing.T) {
	ex := NewProcess(testRegistry, WithWorkerOutput(io.Discard, io.Discard))

	o, err := ex.Execute(context.Background(), exitExperiment, experiment.Parameters{}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusFunctionError, o.Status)
	assert.Equal(t, 7, o.ExitCode)
	assert.Equal(t, ExitReasonError, o.ExitReason)
	assert.Contains(t, o.Output["error"], "without a result")
}

func TestProcess_ShellExperiment(t *testing.T) {
	ex := NewProcess(testRegistry, WithWorkerOutput(io.Discard, io.Discard))

	o, err := ex.Execute(context.Background(), experiment.ShellCommand(),
		experiment.Parameters{"command": "echo hi"}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, o.Status)
	assert.JSONEq(t, `{"stdout":"hi\n","stderr":"","returncode":0}`, asJSON(t, o.Output))
}

func TestProcess_NotRegistered(t *testing.T) {
	ex := NewProcess(testRegistry)
	anon := experiment.NewFunc("anonymous", func(ctx context.Context, p experiment.Parameters) (experiment.Output, error) {
		return nil, nil
	})

	_, err := ex.Execute(context.Background(), anon, experiment.Parameters{}, time.Second)
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestExecute_InvalidDuration(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			for _, d := range []time.Duration{0, -time.Second} {
				_, err := ex.Execute(context.Background(), okExperiment, experiment.Parameters{}, d)
				assert.ErrorIs(t, err, ErrInvalidDuration)
			}
		})
	}
}

func TestExecute_NoTimeout(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			o, err := ex.Execute(context.Background(), okExperiment, experiment.Parameters{}, NoTimeout)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, o.Status)
		})
	}
}

func TestExecute_ContextCancel(t *testing.T) {
	for name, ex := range executors() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			_, err := ex.Execute(ctx, hangExperiment, experiment.Parameters{}, 30*time.Second)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestTimeoutOutput(t *testing.T) {
	out := TimeoutOutput(5 * time.Second)
	assert.Equal(t, TimeoutMessage, out["error"])
	assert.Equal(t, 5.0, out["timeout_info"].(map[string]interface{})["timeout_seconds"])
}
