package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/psantana5/expharness/internal/experiment"
)

// WorkerEnv marks a re-executed process as an experiment worker
const WorkerEnv = "EXPHARNESS_WORKER"

// resultFD is the descriptor the parent hands the worker for its response.
// It is the first entry of exec.Cmd.ExtraFiles.
const resultFD = 3

// workerRequest is sent to the worker on stdin
type workerRequest struct {
	Experiment string                `json:"experiment"`
	Parameters experiment.Parameters `json:"parameters"`
}

// workerResponse is written by the worker to resultFD
type workerResponse struct {
	Output experiment.Output `json:"output,omitempty"`
	Error  *string           `json:"error,omitempty"`
}

// IsWorker reports whether this process was started as a worker
func IsWorker() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// ServeWorkerIfRequested turns the current process into a worker when it was
// re-executed by Process, and exits when done. Call it first thing in main
// (and in TestMain) with the registry holding every experiment that may run
// out of process. It returns immediately in a normal process.
func ServeWorkerIfRequested(registry *experiment.Registry) {
	if !IsWorker() {
		return
	}
	// Experiments that re-run this binary must get a normal process.
	os.Unsetenv(WorkerEnv)

	// Grandchildren must not hold the result pipe open.
	syscall.CloseOnExec(resultFD)

	result := os.NewFile(resultFD, "expharness-result")
	if result == nil {
		fmt.Fprintln(os.Stderr, "expharness worker: result descriptor missing")
		os.Exit(2)
	}
	os.Exit(ServeWorker(registry, os.Stdin, result))
}

// ServeWorker reads one request from in, runs it and writes the response to out.
// The returned value is the worker's exit code.
func ServeWorker(registry *experiment.Registry, in io.Reader, out io.WriteCloser) int {
	defer out.Close()

	// Numbers stay json.Number so integers beyond 2^53 reach the experiment intact.
	var req workerRequest
	dec := json.NewDecoder(in)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return writeResponse(out, failure(fmt.Sprintf("invalid worker request: %v", err)), 2)
	}

	exp, ok := registry.Lookup(req.Experiment)
	if !ok {
		return writeResponse(out, failure(fmt.Sprintf("%v: %q", ErrNotRegistered, req.Experiment)), 2)
	}

	output, err := invoke(context.Background(), exp, req.Parameters)
	if err != nil {
		return writeResponse(out, failure(err.Error()), 0)
	}
	if output, err = checkSerializable(output); err != nil {
		return writeResponse(out, failure(err.Error()), 0)
	}
	return writeResponse(out, workerResponse{Output: output}, 0)
}

func failure(message string) workerResponse {
	return workerResponse{Error: &message}
}

func writeResponse(out io.Writer, resp workerResponse, code int) int {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "expharness worker: write result: %v\n", err)
		return 2
	}
	return code
}
