package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// batchArgs select the engine's non-GUI, non-interactive batch mode.
var batchArgs = []string{"--no-gui", "--silent", "--norc"}

// Result captures one completed engine invocation.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandRunner executes the engine binary and returns stdout and stderr
// separately. stderr content is meaningful even when err is nil.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr []byte, err error)
}

type defaultCommandRunner struct{}

func (defaultCommandRunner) Run(
	ctx context.Context,
	dir string,
	env []string,
	name string,
	args ...string,
) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// RunnerConfig configures one-shot engine invocations.
type RunnerConfig struct {
	// ExtraArgs are appended after the batch-mode flags.
	ExtraArgs []string
	WorkDir   string
	// Env overrides are layered over the parent environment.
	Env     map[string]string
	Timeout time.Duration
}

// Runner performs one-shot batch evaluations: spawn, wait for exit, collect
// output. Each Eval call owns its own short-lived process.
type Runner struct {
	probe *Probe
	cfg   RunnerConfig
	run   CommandRunner
}

// NewRunner builds a one-shot runner resolving the engine through probe.
func NewRunner(probe *Probe, cfg RunnerConfig) (*Runner, error) {
	if probe == nil {
		return nil, errors.New("probe is required")
	}
	return &Runner{probe: probe, cfg: cfg, run: defaultCommandRunner{}}, nil
}

// NewRunnerWithCommandRunner builds a one-shot runner with an injected executor.
func NewRunnerWithCommandRunner(probe *Probe, cfg RunnerConfig, run CommandRunner) (*Runner, error) {
	if probe == nil {
		return nil, errors.New("probe is required")
	}
	if run == nil {
		return nil, errors.New("command runner is required")
	}
	return &Runner{probe: probe, cfg: cfg, run: run}, nil
}

// Eval runs one composed command string in batch mode.
//
// An already-cancelled context rejects before any process is spawned. Exit
// code zero with no error indicator on stderr is success; anything else is
// surfaced as a classified runtime error (or spawn failure when the process
// could not run at all).
func (r *Runner) Eval(ctx context.Context, code string) (Result, error) {
	if r == nil {
		return Result{}, errors.New("runner is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Kind: KindAborted, Message: "cancelled before spawn", Err: err}
	}
	if strings.TrimSpace(code) == "" {
		return Result{}, errors.New("code is required")
	}

	binPath, err := r.probe.Check()
	if err != nil {
		return Result{}, err
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, batchArgs...), r.cfg.ExtraArgs...)
	args = append(args, "--eval", code)

	started := time.Now()
	stdout, stderr, runErr := r.run.Run(ctx, r.cfg.WorkDir, mergedEnv(r.cfg.Env), binPath, args...)
	result := Result{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(started),
	}

	if runErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			if r.cfg.Timeout > 0 {
				return result, NewTimeoutError(r.cfg.Timeout)
			}
			// The caller's own deadline expired, not the configured timeout.
			return result, &Error{Kind: KindAborted, Message: "context deadline exceeded", Err: runErr}
		case errors.Is(ctx.Err(), context.Canceled):
			return result, &Error{Kind: KindAborted, Message: "cancelled during execution", Err: runErr}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, NewRuntimeError(rejectionPayload(result.Stderr, result.Stdout))
		}
		return result, &Error{Kind: KindSpawn, Message: fmt.Sprintf("start %s", binPath), Err: runErr}
	}

	if stderrIndicatesError(result.Stderr) {
		return result, NewRuntimeError(rejectionPayload(result.Stderr, result.Stdout))
	}
	return result, nil
}

// stderrIndicatesError applies the textual heuristic for engines that report
// diagnostics on stderr without a nonzero exit code.
func stderrIndicatesError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "error")
}

// rejectionPayload prefers stderr content when present, falling back to the
// stdout capture.
func rejectionPayload(stderr, stdout string) string {
	if strings.TrimSpace(stderr) != "" {
		return stderr
	}
	return stdout
}

func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	for key, value := range overrides {
		env = append(env, key+"="+value)
	}
	return env
}
