package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/expharness/internal/executor"
	"github.com/psantana5/expharness/internal/experiment"
	"github.com/psantana5/expharness/internal/logging"
)

func sampleResult(status executor.Status, output experiment.Output) *Result {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := Run{
		RunID:          "t_2024-05-01T12-00-00.000000",
		Experiment:     "t",
		Repetition:     1,
		StartTime:      start,
		Parameters:     experiment.Parameters{"k": "v"},
		ParametersPath: "base/t/parameters.json",
		OutputPath:     "base/t/output.json",
	}
	return NewResult(run, &executor.Outcome{Status: status, Output: output, PID: 99}, start.Add(1500*time.Millisecond))
}

func TestNewResult(t *testing.T) {
	r := sampleResult(executor.StatusCompleted, experiment.Output{"result": "ok"})

	assert.Equal(t, 1500*time.Millisecond, r.Duration)
	assert.Equal(t, 99, r.PID)
	assert.Empty(t, r.ErrorMessage())

	row := r.SummaryRow()
	assert.Equal(t, r.RunID, row.RunID)
	assert.Equal(t, r.OutputPath, row.OutputPath)
}

func TestMetrics_RecordResult(t *testing.T) {
	m := NewMetrics()
	m.RecordResult(sampleResult(executor.StatusCompleted, experiment.Output{}))
	m.RecordResult(sampleResult(executor.StatusCompleted, experiment.Output{}))
	m.RecordResult(sampleResult(executor.StatusTimedOut, executor.TimeoutOutput(time.Second)))
	m.RecordStorageError("t")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.repetitions.WithLabelValues("t", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repetitions.WithLabelValues("t", "timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageErrors.WithLabelValues("t")))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordResult(sampleResult(executor.StatusFunctionError, executor.ErrorOutput("boom")))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteTextfile(path, m.Gatherer()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `expharness_repetitions_total{experiment="t",status="function_error"} 1`), text)
	assert.Contains(t, text, "# TYPE expharness_repetition_duration_seconds histogram")
}

func TestLogSummary(t *testing.T) {
	lggr, logs := logging.TestObserved(t, logging.INFO)

	sampleResult(executor.StatusCompleted, experiment.Output{}).LogSummary(lggr)
	sampleResult(executor.StatusFunctionError, executor.ErrorOutput("boom")).LogSummary(lggr)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "completed", entries[0].ContextMap()["status"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
