/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

const resultLine = `{"type":"result","subtype":"success","result":"done"}`

// collectSink records everything the supervisor hands it.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	errs   []string
}

func (c *collectSink) Line(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectSink) Stderr(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, line)
}

func (c *collectSink) snapshot() ([]Event, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...), append([]string(nil), c.errs...)
}

// newScriptSupervisor builds a supervisor around `sh -c script` with a
// counting kill function that still delivers the signal for real.
func newScriptSupervisor(t *testing.T, script string, kills *atomic.Int32, opts ...Option) (*supervisor, *collectSink) {
	t.Helper()

	sink := &collectSink{}
	opts = append([]Option{
		WithCommand("sh", "-c", script),
		WithSink(sink),
	}, opts...)

	iface, err := New(opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	sup := iface.(*supervisor)
	sup.kill = func(pid int, sig syscall.Signal) error {
		kills.Add(1)
		return syscall.Kill(pid, sig)
	}
	return sup, sink
}

func TestRunResultThenCleanExit(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`printf '{"type":"system","subtype":"init"}\n'; printf '%s\n' '`+resultLine+`'`,
		&kills,
		WithGracePeriod(5*time.Second),
		WithTimeout(30*time.Second),
	)

	outcome, err := sup.Run(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if outcome.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", outcome.ExitCode)
	}
	if outcome.Killed {
		t.Error("Killed = true for a process that exited on its own")
	}
	if kills.Load() != 0 {
		t.Errorf("kill called %d times, want 0", kills.Load())
	}
	if outcome.ResultEvent == nil {
		t.Fatal("ResultEvent = nil, want the result event")
	}
	if outcome.ResultEvent.Subtype != "success" {
		t.Errorf("ResultEvent.Subtype = %q, want success", outcome.ResultEvent.Subtype)
	}
	if !outcome.Succeeded() {
		t.Error("Succeeded() = false")
	}
	if len(outcome.Lines) != 2 {
		t.Errorf("Lines = %v, want 2 entries", outcome.Lines)
	}
}

func TestRunKillsAfterGracePeriod(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`printf '%s\n' '`+resultLine+`'; sleep 30`,
		&kills,
		WithGracePeriod(200*time.Millisecond),
		WithTimeout(30*time.Second),
	)

	start := time.Now()
	outcome, err := sup.Run(context.Background(), "ignored")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	// The kill fires roughly one grace period after the result; well
	// before the 30s sleep would have let the process exit by itself.
	if elapsed < 200*time.Millisecond {
		t.Errorf("resolved after %v, before the grace period elapsed", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Errorf("resolved after %v, the process group was not killed", elapsed)
	}
	if !outcome.Killed {
		t.Error("Killed = false, want true")
	}
	if kills.Load() != 1 {
		t.Errorf("kill called %d times, want 1", kills.Load())
	}
	if outcome.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 for a kill that followed a result", outcome.ExitCode)
	}
	if !outcome.Succeeded() {
		t.Error("Succeeded() = false, a forced exit after a result is still a success")
	}
}

func TestRunMainTimeoutWithoutResult(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`sleep 30`,
		&kills,
		WithGracePeriod(10*time.Second),
		WithTimeout(200*time.Millisecond),
	)

	outcome, err := sup.Run(context.Background(), "ignored")
	if !errors.Is(err, ErrProcessTimeout) {
		t.Fatalf("Run() = %v, want ErrProcessTimeout", err)
	}
	if !strings.Contains(err.Error(), "process timed out") {
		t.Errorf("error %q should say the process timed out", err)
	}

	if outcome == nil {
		t.Fatal("outcome = nil, want the timeout outcome")
	}
	if outcome.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124", outcome.ExitCode)
	}
	if !outcome.TimedOut || !outcome.Killed {
		t.Errorf("TimedOut = %t, Killed = %t, want both true", outcome.TimedOut, outcome.Killed)
	}
	if kills.Load() != 1 {
		t.Errorf("kill called %d times, want 1", kills.Load())
	}
	if outcome.Succeeded() {
		t.Error("Succeeded() = true for a timed-out run")
	}
}

func TestRunNoStrayKillAfterResolution(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`printf '%s\n' '`+resultLine+`'`,
		&kills,
		WithGracePeriod(100*time.Millisecond),
		WithTimeout(300*time.Millisecond),
	)

	if _, err := sup.Run(context.Background(), "ignored"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	// Outlive both timers; a stray timer would fire a kill now.
	time.Sleep(500 * time.Millisecond)
	if kills.Load() != 0 {
		t.Errorf("kill called %d times after resolution, want 0", kills.Load())
	}
}

func TestRunNonZeroExitWithoutResult(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`printf '{"type":"system"}\n'; exit 3`,
		&kills,
		WithGracePeriod(time.Second),
		WithTimeout(30*time.Second),
	)

	outcome, err := sup.Run(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("Run() = %v, an agent crash resolves normally with its exit code", err)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", outcome.ExitCode)
	}
	if outcome.ResultEvent != nil {
		t.Errorf("ResultEvent = %+v, want nil", outcome.ResultEvent)
	}
	if outcome.Succeeded() {
		t.Error("Succeeded() = true without a result event")
	}
	if kills.Load() != 0 {
		t.Errorf("kill called %d times, want 0", kills.Load())
	}
}

func TestRunMalformedLinesPassThrough(t *testing.T) {
	var kills atomic.Int32
	sup, sink := newScriptSupervisor(t,
		`printf 'warming up, not JSON yet\n'; printf '%s\n' '`+resultLine+`'`,
		&kills,
		WithGracePeriod(time.Second),
		WithTimeout(30*time.Second),
	)

	outcome, err := sup.Run(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if outcome.ResultEvent == nil {
		t.Fatal("ResultEvent = nil, a malformed line must not end supervision")
	}

	events, _ := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("sink saw %d events, want 2", len(events))
	}
	if !events[0].Malformed {
		t.Error("first event should be marked malformed")
	}
	if events[0].Raw != "warming up, not JSON yet" {
		t.Errorf("Raw = %q, want the line verbatim", events[0].Raw)
	}
	if events[1].Malformed {
		t.Error("result line misclassified as malformed")
	}
}

func TestRunStderrToSink(t *testing.T) {
	var kills atomic.Int32
	sup, sink := newScriptSupervisor(t,
		`echo 'diagnostic noise' >&2; printf '%s\n' '`+resultLine+`'`,
		&kills,
		WithGracePeriod(time.Second),
		WithTimeout(30*time.Second),
	)

	if _, err := sup.Run(context.Background(), "ignored"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	_, errs := sink.snapshot()
	if len(errs) != 1 || errs[0] != "diagnostic noise" {
		t.Errorf("stderr lines = %v, want [diagnostic noise]", errs)
	}
}

func TestRunContextCancelKills(t *testing.T) {
	var kills atomic.Int32
	sup, _ := newScriptSupervisor(t,
		`sleep 30`,
		&kills,
		WithGracePeriod(10*time.Second),
		WithTimeout(10*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome, err := sup.Run(ctx, "ignored")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("resolved after %v, cancellation did not kill the process group", elapsed)
	}
	if !outcome.Killed {
		t.Error("Killed = false, want true")
	}
	if kills.Load() != 1 {
		t.Errorf("kill called %d times, want 1", kills.Load())
	}
}

func TestRunPromptOnStdin(t *testing.T) {
	var kills atomic.Int32
	sink := &collectSink{}
	iface, err := New(
		WithCommand("cat"),
		WithPromptOnStdin(),
		WithSink(sink),
		WithGracePeriod(time.Second),
		WithTimeout(30*time.Second),
	)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	sup := iface.(*supervisor)
	sup.kill = func(pid int, sig syscall.Signal) error {
		kills.Add(1)
		return syscall.Kill(pid, sig)
	}

	// cat echoes stdin, so the prompt itself becomes the result event.
	outcome, err := sup.Run(context.Background(), resultLine+"\n")
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if outcome.ResultEvent == nil {
		t.Fatal("ResultEvent = nil, prompt was not delivered on stdin")
	}
	if outcome.ResultEvent.Result != "done" {
		t.Errorf("Result = %q, want done", outcome.ResultEvent.Result)
	}
}

func TestNewOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty command", WithCommand("")},
		{"zero grace period", WithGracePeriod(0)},
		{"negative timeout", WithTimeout(-time.Minute)},
		{"nil sink", WithSink(nil)},
		{"empty dir", WithDir("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opt); err == nil {
				t.Error("New() = nil error, want validation failure")
			}
		})
	}
}

func TestWithExtraArgsAppendsAfterBase(t *testing.T) {
	iface, err := New(WithExtraArgs("--model", "claude-sonnet-4-5"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	sup := iface.(*supervisor)

	n := len(sup.args)
	if n < 2 || sup.args[n-2] != "--model" || sup.args[n-1] != "claude-sonnet-4-5" {
		t.Errorf("args = %v, want the extra args trailing the base invocation", sup.args)
	}
	if sup.args[0] != "--print" {
		t.Errorf("args = %v, extra args must not displace the base invocation", sup.args)
	}
}

func TestDefaultsAreSane(t *testing.T) {
	iface, err := New()
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	sup := iface.(*supervisor)

	if sup.command != "claude" {
		t.Errorf("command = %q, want claude", sup.command)
	}
	if sup.gracePeriod <= 0 || sup.timeout <= 0 {
		t.Errorf("gracePeriod = %v, timeout = %v, want positive defaults", sup.gracePeriod, sup.timeout)
	}
	found := false
	for _, arg := range sup.args {
		if arg == "stream-json" {
			found = true
		}
	}
	if !found {
		t.Errorf("args = %v, want stream-json output mode", sup.args)
	}
}
