// Package process implements generic subprocess management functions.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/cli"
)

var log = logging.MustGetLogger("process")

// A Result is the outcome of a subprocess that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// An Executor handles starting, running and monitoring a set of subprocesses.
// It registers as a signal handler to attempt to terminate them all at process exit.
type Executor struct {
	processes map[*exec.Cmd]chan struct{}
	mutex     sync.Mutex
}

// New returns a new Executor.
func New() *Executor {
	e := &Executor{
		processes: map[*exec.Cmd]chan struct{}{},
	}
	cli.AtExit(e.killAll) // Kill any subprocess if we are ourselves killed
	return e
}

// Exec runs an external command with no input and collects its output.
func (e *Executor) Exec(ctx context.Context, env []string, argv ...string) (*Result, error) {
	return e.ExecWithStdin(ctx, env, nil, argv...)
}

// ExecWithStdin runs an external command, writes stdin to it and closes it, and collects
// both output streams until the process exits.
// A nil env inherits this process' environment.
// A non-zero exit is reported through the result's ExitCode, not as an error; the error is
// only non-nil if the process couldn't be run or was terminated because ctx was cancelled.
// There is no timeout; a hung subprocess blocks the caller until ctx is done.
func (e *Executor) ExecWithStdin(ctx context.Context, env []string, stdin []byte, argv ...string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("no command given")
	}
	cmd := e.ExecCommand(argv[0], argv[1:]...)
	cmd.Env = env
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		e.removeProcess(cmd)
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		e.removeProcess(cmd)
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		e.removeProcess(cmd)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		e.removeProcess(cmd)
		return nil, err
	}
	done := e.doneChan(cmd)
	defer e.removeProcess(cmd)

	go func() {
		select {
		case <-ctx.Done():
			log.Debug("Terminating %s: %s", argv[0], ctx.Err())
			e.KillProcess(cmd)
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		defer stdinPipe.Close()
		if _, err := stdinPipe.Write(stdin); err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})
	pumpErr := g.Wait()
	// All reads must be complete before we wait, since Wait closes the pipes.
	waitErr := cmd.Wait()
	close(done)

	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		return result, waitErr
	}
	if pumpErr != nil {
		return result, pumpErr
	}
	return result, nil
}

// KillProcess kills a process, attempting to send it a SIGTERM first followed by a SIGKILL
// shortly after if it hasn't exited.
func (e *Executor) KillProcess(cmd *exec.Cmd) {
	done := e.doneChan(cmd)
	success := killProcess(cmd, done, syscall.SIGTERM, 30*time.Millisecond)
	if !success && !killProcess(cmd, done, syscall.SIGKILL, time.Second) {
		log.Error("Failed to kill inferior process")
	}
}

func (e *Executor) doneChan(cmd *exec.Cmd) chan struct{} {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.processes[cmd]
}

func (e *Executor) removeProcess(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.processes, cmd)
}

// killProcess implements the two-step killing of processes with a SIGTERM and a SIGKILL if
// that's unsuccessful. It returns true if the process exited within the timeout.
// The done channel is closed by whoever is waiting on the process; we never wait on it twice.
func killProcess(cmd *exec.Cmd, done <-chan struct{}, sig syscall.Signal, timeout time.Duration) bool {
	if cmd.Process == nil {
		log.Debug("Not terminating process, it seems to have not started yet")
		return false
	}
	log.Debug("Sending signal %s to -%d", sig, cmd.Process.Pid)
	syscall.Kill(-cmd.Process.Pid, sig) // Kill the group - we always set one in ExecCommand.
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// killAll kills all subprocesses of this executor.
func (e *Executor) killAll() {
	e.mutex.Lock()
	processes := make([]*exec.Cmd, 0, len(e.processes))
	for proc := range e.processes {
		processes = append(processes, proc)
	}
	e.mutex.Unlock()

	if len(processes) > 0 {
		var wg sync.WaitGroup
		wg.Add(len(processes))
		for _, proc := range processes {
			go func(proc *exec.Cmd) {
				e.KillProcess(proc)
				wg.Done()
			}(proc)
		}
		wg.Wait()
	}
}

func (e *Executor) registerProcess(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.processes[cmd] = make(chan struct{})
}
