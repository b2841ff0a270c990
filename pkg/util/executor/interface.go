package executor

import (
	"context"
	"fmt"
	"strings"
)

// Executor runs the external usbip tooling. Every call blocks until the
// process has exited.
type Executor interface {
	// Output runs cmd and returns its stdout. A non-zero exit status is an error.
	Output(ctx context.Context, cmd string, args []string) ([]byte, error)
	// Stderr runs cmd and returns what it wrote to stderr. The exit status is
	// ignored, only failing to run the command at all is an error.
	Stderr(ctx context.Context, cmd string, args []string) ([]byte, error)
	// Run runs cmd with its output attached to the current process.
	Run(ctx context.Context, cmd string, args []string) error
}

// CommandError describes a command that could not be run or exited non-zero.
type CommandError struct {
	Cmd    string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("error running %s: %v", CommandLine(e.Cmd, e.Args), e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandLine renders cmd and args the way a user would type them.
func CommandLine(cmd string, args []string) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", cmd, strings.Join(args, " ")))
}
