// Package execx runs external commands and captures their output.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env entries ("K=V") are appended to the inherited environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Executor runs commands to completion and returns their captured stdout.
type Executor interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// CommandError reports a command that could not start or exited non-zero.
// Output holds whatever stdout was captured before the failure.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Command)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ShellExecutor implements Executor using os/exec.
type ShellExecutor struct{}

// NewShellExecutor returns an executor that spawns real processes.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

// Run starts the command, waits for it and returns stdout. A non-zero exit
// or a start failure yields a *CommandError carrying stderr and the exit code.
func (e *ShellExecutor) Run(ctx context.Context, c Command) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), &CommandError{
			Command:  c.String(),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Output:   stdout.String(),
			Err:      err,
		}
	}

	return stdout.String(), nil
}
