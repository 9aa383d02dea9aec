// Package shell runs the external tools simlens drives: xcrun, adb,
// emulator, avdmanager and git.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/devicelab-dev/simlens/pkg/logger"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command exits non-zero.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %s", e.Name, strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Output returns the stderr text of a *CommandError, or "".
func Output(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stderr
	}
	return ""
}

// Exec runs commands with os/exec.
type Exec struct {
	Dir string // Working directory; empty means the current one
}

// Run executes name with args. When the command fails, stderr (or stdout if
// stderr is empty) is carried in the returned *CommandError.
func (e Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("exec: %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return stdout.Bytes(), &CommandError{Name: name, Args: args, Stderr: errMsg, Err: err}
	}
	return stdout.Bytes(), nil
}

// LookPath reports whether name is on PATH.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
