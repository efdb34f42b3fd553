package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	ErrTimeout     = errors.New("terminal command timed out")
	ErrMissingTool = errors.New("terminal multiplexer binary not found")
)

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Runner executes multiplexer commands. env entries are added to the
// inherited environment.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, nil
	}
	if ctx.Err() != nil {
		return output, fmt.Errorf("%w: %s %s", ErrTimeout, name, strings.Join(args, " "))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return output, fmt.Errorf("%w: %s", ErrMissingTool, name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, &ExitError{Code: exitErr.ExitCode(), Output: strings.TrimSpace(string(output))}
	}
	return output, err
}

func isExit(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

func commandError(action string, err error, output []byte) error {
	outputStr := strings.TrimSpace(string(output))
	if outputStr != "" && isExit(err) {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if outputStr != "" {
		return fmt.Errorf("failed to %s: %w: %s", action, err, outputStr)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func splitLines(output []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
