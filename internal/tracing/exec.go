package tracing

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputEventBytes = 1024

// CommandRunner executes the engine binary under an OpenTelemetry span,
// recording exit code, duration, and truncated output events. It satisfies
// engine.CommandRunner.
type CommandRunner struct {
	tracer trace.Tracer
}

// NewCommandRunner builds a traced engine executor.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{tracer: otel.Tracer("mlbridge/engine")}
}

// Run spawns one engine process and waits for it to exit.
func (r *CommandRunner) Run(
	ctx context.Context,
	dir string,
	env []string,
	name string,
	args ...string,
) ([]byte, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := r.tracer.Start(ctx, "engine.exec", trace.WithAttributes(
		attribute.String("binary", name),
		attribute.String("args", strings.Join(redactArgs(args), " ")),
		attribute.String("cwd", dir),
	))
	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	span.SetAttributes(attribute.Int("exit_code", resolveExitCode(ctx, cmd, err)))
	if text := strings.TrimSpace(stdout.String()); text != "" {
		span.AddEvent("engine.stdout", trace.WithAttributes(
			attribute.String("output", truncateOutput(text, maxOutputEventBytes)),
		))
	}
	if text := strings.TrimSpace(stderr.String()); text != "" {
		span.AddEvent("engine.stderr", trace.WithAttributes(
			attribute.String("output", truncateOutput(text, maxOutputEventBytes)),
		))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stdout.Bytes(), stderr.Bytes(), err
	}
	span.SetStatus(codes.Ok, "engine process completed")
	return stdout.Bytes(), stderr.Bytes(), nil
}

func resolveExitCode(ctx context.Context, cmd *exec.Cmd, runErr error) int {
	if runErr == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return 0
}

func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

// redactArgs masks values that follow credential-shaped flags so spans never
// carry secrets even when the engine invocation does.
func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if strings.Contains(trimmed, "=") {
			parts := strings.SplitN(trimmed, "=", 2)
			if len(parts) == 2 && isSensitiveToken(strings.ToLower(parts[0])) {
				redacted = append(redacted, parts[0]+"=<redacted>")
				continue
			}
		}

		if isSensitiveToken(strings.ToLower(trimmed)) {
			maskNext = true
			redacted = append(redacted, trimmed)
			continue
		}
		redacted = append(redacted, trimmed)
	}
	return redacted
}

func isSensitiveToken(value string) bool {
	sensitiveSubstrings := []string{
		"token",
		"password",
		"passwd",
		"secret",
		"api-key",
		"apikey",
		"auth",
		"bearer",
	}
	for _, candidate := range sensitiveSubstrings {
		if strings.Contains(value, candidate) {
			return true
		}
	}
	return false
}
