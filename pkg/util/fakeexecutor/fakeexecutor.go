package fakeexecutor

import (
	"context"
	"fmt"
	"sync"

	"github.com/harvester/usbip-helper/pkg/util/executor"
)

// Result is what a scripted command returns.
type Result struct {
	Stdout string
	Stderr string
	Err    error
}

// FakeExecutor replays scripted results keyed by the full command line,
// e.g. "usbip list --parsable --local". Results for a command line are
// consumed in order and the last one repeats.
type FakeExecutor struct {
	mu      sync.Mutex
	results map[string][]Result
	calls   []string
}

func New() *FakeExecutor {
	return &FakeExecutor{
		results: make(map[string][]Result),
	}
}

// On scripts the results for commandLine.
func (f *FakeExecutor) On(commandLine string, results ...Result) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[commandLine] = append(f.results[commandLine], results...)
	return f
}

// Calls returns the command lines run so far.
func (f *FakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeExecutor) next(cmd string, args []string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commandLine := executor.CommandLine(cmd, args)
	f.calls = append(f.calls, commandLine)
	results, ok := f.results[commandLine]
	if !ok || len(results) == 0 {
		return Result{}, fmt.Errorf("fakeexecutor: unexpected command %q", commandLine)
	}
	if len(results) > 1 {
		f.results[commandLine] = results[1:]
	}
	return results[0], nil
}

func (f *FakeExecutor) Output(_ context.Context, cmd string, args []string) ([]byte, error) {
	r, err := f.next(cmd, args)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return []byte(r.Stdout), &executor.CommandError{Cmd: cmd, Args: args, Stderr: r.Stderr, Err: r.Err}
	}
	return []byte(r.Stdout), nil
}

func (f *FakeExecutor) Stderr(_ context.Context, cmd string, args []string) ([]byte, error) {
	r, err := f.next(cmd, args)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return []byte(r.Stderr), &executor.CommandError{Cmd: cmd, Args: args, Stderr: r.Stderr, Err: r.Err}
	}
	return []byte(r.Stderr), nil
}

func (f *FakeExecutor) Run(_ context.Context, cmd string, args []string) error {
	r, err := f.next(cmd, args)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return &executor.CommandError{Cmd: cmd, Args: args, Err: r.Err}
	}
	return nil
}
