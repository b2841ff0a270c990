package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	utilexec "k8s.io/utils/exec"
)

type LocalExecutor struct {
	exec    utilexec.Interface
	envVars []string
	timeout time.Duration
}

// NewLocalExecutor runs commands on the current host. envVars are appended
// to the environment of every command, a zero timeout disables the per
// command deadline.
func NewLocalExecutor(envVars []string, timeout time.Duration) *LocalExecutor {
	return NewLocalExecutorWithInterface(utilexec.New(), envVars, timeout)
}

func NewLocalExecutorWithInterface(exec utilexec.Interface, envVars []string, timeout time.Duration) *LocalExecutor {
	return &LocalExecutor{
		exec:    exec,
		envVars: envVars,
		timeout: timeout,
	}
}

func (l *LocalExecutor) command(ctx context.Context, cmd string, args []string) (utilexec.Cmd, context.Context, context.CancelFunc) {
	cancel := func() {}
	if l.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	localCommand := l.exec.CommandContext(ctx, cmd, args...)
	if len(l.envVars) > 0 {
		localCommand.SetEnv(append(os.Environ(), l.envVars...))
	}
	logrus.Debugf("running %s", CommandLine(cmd, args))
	return localCommand, ctx, cancel
}

// interrupted reports a command killed because ctx expired or was cancelled.
// Its exit status is whatever the kill produced and says nothing about usbip.
func interrupted(ctx context.Context, cmd string, args []string, stderr string, err error) error {
	if err == nil || ctx.Err() == nil {
		return nil
	}
	return &CommandError{Cmd: cmd, Args: args, Stderr: stderr, Err: fmt.Errorf("%w: %v", ctx.Err(), err)}
}

func (l *LocalExecutor) Output(ctx context.Context, cmd string, args []string) ([]byte, error) {
	localCommand, ctx, cancel := l.command(ctx, cmd, args)
	defer cancel()

	var stdout, stderr bytes.Buffer
	localCommand.SetStdout(&stdout)
	localCommand.SetStderr(&stderr)
	err := localCommand.Run()
	if cmdErr := interrupted(ctx, cmd, args, stderr.String(), err); cmdErr != nil {
		return stdout.Bytes(), cmdErr
	}
	if err != nil {
		return stdout.Bytes(), &CommandError{Cmd: cmd, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func (l *LocalExecutor) Stderr(ctx context.Context, cmd string, args []string) ([]byte, error) {
	localCommand, ctx, cancel := l.command(ctx, cmd, args)
	defer cancel()

	var stderr bytes.Buffer
	localCommand.SetStderr(&stderr)
	err := localCommand.Run()
	if cmdErr := interrupted(ctx, cmd, args, stderr.String(), err); cmdErr != nil {
		return stderr.Bytes(), cmdErr
	}
	var exitErr utilexec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return stderr.Bytes(), &CommandError{Cmd: cmd, Args: args, Stderr: stderr.String(), Err: err}
	}
	if exitErr != nil {
		logrus.Debugf("%s exited with status %d", CommandLine(cmd, args), exitErr.ExitStatus())
	}
	return stderr.Bytes(), nil
}

// Run is meant for long running processes such as usbipd, so the per
// command timeout does not apply. Cancel ctx to stop the process.
func (l *LocalExecutor) Run(ctx context.Context, cmd string, args []string) error {
	localCommand := l.exec.CommandContext(ctx, cmd, args...)
	if len(l.envVars) > 0 {
		localCommand.SetEnv(append(os.Environ(), l.envVars...))
	}
	logrus.Debugf("running %s", CommandLine(cmd, args))
	localCommand.SetStdout(os.Stdout)
	localCommand.SetStderr(os.Stderr)
	if err := localCommand.Run(); err != nil {
		return &CommandError{Cmd: cmd, Args: args, Err: err}
	}
	return nil
}
