package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeCommandRunner struct {
	calls  []runnerCall
	stdout []byte
	stderr []byte
	err    error
}

type runnerCall struct {
	dir  string
	name string
	args []string
}

func (f *fakeCommandRunner) Run(
	_ context.Context,
	dir string,
	_ []string,
	name string,
	args ...string,
) ([]byte, []byte, error) {
	f.calls = append(f.calls, runnerCall{dir: dir, name: name, args: append([]string(nil), args...)})
	return f.stdout, f.stderr, f.err
}

func testProbe(t *testing.T) *Probe {
	t.Helper()
	probe, err := NewProbe("octave", WithLookPath(func(string) (string, error) {
		return "/usr/bin/octave", nil
	}))
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	return probe
}

func TestEvalComposesBatchInvocation(t *testing.T) {
	runner := &fakeCommandRunner{stdout: []byte("ans = 2\n")}
	oneshot, err := NewRunnerWithCommandRunner(testProbe(t), RunnerConfig{WorkDir: "/tmp/work"}, runner)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := oneshot.Eval(context.Background(), "disp(1+1)")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if result.Stdout != "ans = 2\n" {
		t.Fatalf("stdout = %q", result.Stdout)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(runner.calls))
	}
	call := runner.calls[0]
	if call.name != "/usr/bin/octave" {
		t.Fatalf("binary = %q", call.name)
	}
	if call.dir != "/tmp/work" {
		t.Fatalf("dir = %q, want /tmp/work", call.dir)
	}
	joined := strings.Join(call.args, " ")
	for _, expected := range []string{"--no-gui", "--silent", "--norc", "--eval disp(1+1)"} {
		if !strings.Contains(joined, expected) {
			t.Fatalf("args %q missing %q", joined, expected)
		}
	}
}

func TestEvalClassifiesStderrDiagnostics(t *testing.T) {
	runner := &fakeCommandRunner{stderr: []byte("error: 'foo' undefined\n")}
	oneshot, err := NewRunnerWithCommandRunner(testProbe(t), RunnerConfig{}, runner)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	_, err = oneshot.Eval(context.Background(), "foo")
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("err = %v, want runtime", err)
	}
	var engineErr *Error
	if !errors.As(err, &engineErr) {
		t.Fatalf("err %T is not *Error", err)
	}
	if engineErr.Class != ClassRuntime {
		t.Fatalf("class = %q, want runtime", engineErr.Class)
	}
	if !strings.Contains(engineErr.Message, "'foo' undefined") {
		t.Fatalf("message %q should carry stderr payload", engineErr.Message)
	}
}

func TestEvalRejectsImmediatelyWhenContextAlreadyCancelled(t *testing.T) {
	runner := &fakeCommandRunner{}
	oneshot, err := NewRunnerWithCommandRunner(testProbe(t), RunnerConfig{}, runner)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = oneshot.Eval(ctx, "disp(1)")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want aborted", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("calls = %d, want 0 (no spawn on pre-cancelled context)", len(runner.calls))
	}
}

func TestEvalSurfacesMissingEngine(t *testing.T) {
	probe, err := NewProbe("octave", WithLookPath(func(string) (string, error) {
		return "", errors.New("not found")
	}))
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	oneshot, err := NewRunnerWithCommandRunner(probe, RunnerConfig{}, &fakeCommandRunner{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	_, err = oneshot.Eval(context.Background(), "disp(1)")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v, want not-installed", err)
	}
}

func TestEvalTimeoutCarriesConfiguredDuration(t *testing.T) {
	runner := &slowRunner{delay: 50 * time.Millisecond}
	oneshot, err := NewRunnerWithCommandRunner(testProbe(t), RunnerConfig{Timeout: 10 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	_, err = oneshot.Eval(context.Background(), "pause(60)")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err = %v, want command-timeout", err)
	}
	var engineErr *Error
	if !errors.As(err, &engineErr) {
		t.Fatalf("err %T is not *Error", err)
	}
	if engineErr.Timeout != 10*time.Millisecond {
		t.Fatalf("timeout = %s, want 10ms", engineErr.Timeout)
	}
}

func TestEvalCallerDeadlineIsAbortedNotZeroTimeout(t *testing.T) {
	runner := &slowRunner{delay: 50 * time.Millisecond}
	oneshot, err := NewRunnerWithCommandRunner(testProbe(t), RunnerConfig{}, runner)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = oneshot.Eval(ctx, "pause(60)")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want aborted for the caller's own deadline", err)
	}
	if errors.Is(err, ErrCommandTimeout) {
		t.Fatal("caller deadline must not surface as a zero-duration command timeout")
	}
}

type slowRunner struct {
	delay time.Duration
}

func (s *slowRunner) Run(ctx context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-time.After(s.delay):
		return nil, nil, nil
	}
}

var _ CommandRunner = (*fakeCommandRunner)(nil)
