package experiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ShellExperimentName is the registry name of the shell-command experiment
const ShellExperimentName = "shell"

// ShellCommand returns the experiment that runs parameters["command"].
//
// A string command is run through /bin/sh -c. A list is executed directly
// as argv. The result is {stdout, stderr, returncode}; a non-zero exit code
// is still a result. If the command cannot be invoked at all the result is
// {error: <message>}.
func ShellCommand() Experiment {
	return NewFunc(ShellExperimentName, runShellCommand)
}

func runShellCommand(ctx context.Context, params Parameters) (Output, error) {
	argv, err := commandArgv(params["command"])
	if err != nil {
		return Output{"error": err.Error()}, nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	returnCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Output{"error": err.Error()}, nil
		}
		returnCode = exitErr.ExitCode()
	}

	return Output{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returnCode,
	}, nil
}

// commandArgv turns the command parameter into an argv slice
func commandArgv(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("missing command parameter")
	case string:
		if v == "" {
			return nil, fmt.Errorf("empty command")
		}
		return []string{"/bin/sh", "-c", v}, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		return v, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		argv := make([]string, 0, len(v))
		for i, arg := range v {
			s, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("command argument %d is %T, expected string", i, arg)
			}
			argv = append(argv, s)
		}
		return argv, nil
	default:
		return nil, fmt.Errorf("command must be a string or a list of strings, got %T", raw)
	}
}
