/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCommand     = "claude"
	defaultGracePeriod = 5 * time.Second
	defaultTimeout     = 10 * time.Minute

	// timeoutExitCode is the conventional exit code for a command that
	// exceeded its time budget, matching timeout(1).
	timeoutExitCode = 124

	// maxLineBytes bounds a single scanned line. Agent events can embed
	// whole file contents, so this is generous.
	maxLineBytes = 4 * 1024 * 1024
)

// ErrProcessTimeout reports that the main timeout fired before the
// agent process finished.
var ErrProcessTimeout = errors.New("process timed out")

func defaultArgs() []string {
	return []string{"--print", "--verbose", "--output-format", "stream-json"}
}

// Interface is the public interface for supervising one agent run
type Interface interface {
	// Run spawns the agent with the given prompt and supervises it until
	// a terminal state is reached. The returned Outcome is non-nil
	// whenever the process was spawned, including on timeout.
	Run(ctx context.Context, prompt string) (*Outcome, error)
}

// Sink consumes the agent's output streams as they are scanned.
// Implementations must not block; a slow sink stalls the process pipes.
type Sink interface {
	// Line receives every stdout line, parsed or malformed.
	Line(event Event)
	// Stderr receives every stderr line verbatim.
	Stderr(line string)
}

type noopSink struct{}

func (noopSink) Line(Event) {}

func (noopSink) Stderr(string) {}

// Outcome is the terminal state of one supervised run.
type Outcome struct {
	// ExitCode is the process exit code. A signal exit that follows a
	// result event reports 0: the agent finished, the process was just
	// slow to leave.
	ExitCode int
	// Lines holds every stdout line in arrival order.
	Lines []string
	// ResultEvent is the first result event observed, if any.
	ResultEvent *Event
	// TimedOut is set when the main timeout forced termination.
	TimedOut bool
	// Killed is set when the supervisor killed the process group.
	Killed bool
	// Duration is wall-clock time from spawn to resolution.
	Duration time.Duration
}

// Succeeded reports whether the run produced a usable result: a result
// event arrived and the run did not hit the main timeout.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.ResultEvent != nil && !o.TimedOut
}

// supervisor provides the private implementation
type supervisor struct {
	command       string
	args          []string
	dir           string
	env           []string
	gracePeriod   time.Duration
	timeout       time.Duration
	sink          Sink
	promptOnStdin bool

	// kill is swapped in tests to observe signal delivery.
	kill func(pid int, sig syscall.Signal) error
}

// New creates a supervisor with minimal required configuration
func New(opts ...Option) (Interface, error) {
	s := &supervisor{
		command:     defaultCommand,
		args:        defaultArgs(),
		gracePeriod: defaultGracePeriod,
		timeout:     defaultTimeout,
		sink:        noopSink{},
		kill:        syscall.Kill,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return s, nil
}

// Run spawns the agent process and drives the supervision state machine.
func (s *supervisor) Run(ctx context.Context, prompt string) (*Outcome, error) {
	log := clog.FromContext(ctx)
	start := time.Now()

	args := append([]string(nil), s.args...)
	if s.promptOnStdin {
		args = append(args, "-")
	} else {
		args = append(args, prompt)
	}

	cmd := exec.Command(s.command, args...)
	cmd.Dir = s.dir
	if s.env != nil {
		cmd.Env = s.env
	}
	if s.promptOnStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}
	// Own process group so kills reach agent-spawned children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.command, err)
	}
	pid := cmd.Process.Pid

	log.With("command", s.command).
		With("pid", pid).
		With("timeout", s.timeout).
		Info("Started agent process")

	outcome := &Outcome{}
	resultCh := make(chan Event, 1)

	var grp errgroup.Group
	grp.Go(func() error {
		sawResult := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			outcome.Lines = append(outcome.Lines, line)

			ev := parseEvent(line)
			s.sink.Line(ev)
			if !sawResult && ev.IsResult() {
				sawResult = true
				resultCh <- ev
			}
		}
		return scanner.Err()
	})
	grp.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			s.sink.Stderr(scanner.Text())
		}
		return scanner.Err()
	})

	// done carries the process exit after both pipes drained. Wait must
	// run after the pumps finish or it races the pipe reads.
	done := make(chan error, 1)
	go func() {
		pumpErr := grp.Wait()
		waitErr := cmd.Wait()
		if waitErr == nil {
			waitErr = pumpErr
		}
		done <- waitErr
	}()

	mainTimer := time.NewTimer(s.timeout)
	defer mainTimer.Stop()

	var graceTimer *time.Timer
	var graceCh <-chan time.Time
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	for {
		select {
		case waitErr := <-done:
			// The result event can arrive in the same instant the process
			// exits; prefer it over losing the terminal signal.
			select {
			case ev := <-resultCh:
				outcome.ResultEvent = &ev
			default:
			}
			s.finalize(outcome, waitErr, start)
			log.With("exit_code", outcome.ExitCode).
				With("duration", outcome.Duration).
				Info("Agent process exited")
			return outcome, nil

		case ev := <-resultCh:
			outcome.ResultEvent = &ev
			graceTimer = time.NewTimer(s.gracePeriod)
			graceCh = graceTimer.C
			log.With("subtype", ev.Subtype).
				With("grace_period", s.gracePeriod).
				Info("Result event received, waiting for process exit")

		case <-graceCh:
			graceCh = nil
			outcome.Killed = true
			log.With("grace_period", s.gracePeriod).
				Warn("Process still running after grace period, killing process group")
			s.killGroup(ctx, pid)
			// Loop back around: the close still resolves the run as a
			// success since the result already arrived.

		case <-mainTimer.C:
			outcome.TimedOut = true
			outcome.Killed = true
			log.With("timeout", s.timeout).
				Error("Agent process hit the main timeout, killing process group")
			s.killGroup(ctx, pid)
			<-done
			select {
			case ev := <-resultCh:
				outcome.ResultEvent = &ev
			default:
			}
			outcome.ExitCode = timeoutExitCode
			outcome.Duration = time.Since(start)
			return outcome, fmt.Errorf("%w after %v", ErrProcessTimeout, s.timeout)

		case <-ctx.Done():
			outcome.Killed = true
			s.killGroup(ctx, pid)
			<-done
			outcome.Duration = time.Since(start)
			return outcome, ctx.Err()
		}
	}
}

// finalize fills in the terminal exit code and duration once the
// process has been reaped.
func (s *supervisor) finalize(outcome *Outcome, waitErr error, start time.Time) {
	code, signaled := exitStatus(waitErr)
	if signaled && outcome.ResultEvent != nil {
		// Forced termination after a result is a successful run with a
		// slow-exiting subprocess.
		code = 0
	}
	outcome.ExitCode = code
	outcome.Duration = time.Since(start)
}

// exitStatus extracts the exit code from a Wait error. signaled is true
// when the process died to a signal and reported no code of its own.
func exitStatus(err error) (code int, signaled bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if c := exitErr.ExitCode(); c >= 0 {
			return c, false
		}
		return -1, true
	}
	return -1, false
}

// killGroup delivers SIGKILL to the whole process group. Failure is
// logged and ignored: the group may already be gone.
func (s *supervisor) killGroup(ctx context.Context, pid int) {
	if err := s.kill(-pid, syscall.SIGKILL); err != nil {
		clog.FromContext(ctx).
			With("pid", pid).
			With("error", err).
			Warn("Killing agent process group failed")
	}
}
