package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mlbridge/mlbridge/internal/engine"
)

func TestReplLoopExecutesLinesUntilExit(t *testing.T) {
	var executed []string
	exec := func(_ context.Context, code string) (engine.Result, error) {
		executed = append(executed, code)
		return engine.Result{}, nil
	}

	in := strings.NewReader("x = 1;\n\ny = 2;\nexit\nnever\n")
	var out, errOut bytes.Buffer
	if err := replLoop(context.Background(), in, &out, &errOut, exec); err != nil {
		t.Fatalf("repl loop: %v", err)
	}

	if len(executed) != 2 || executed[0] != "x = 1;" || executed[1] != "y = 2;" {
		t.Fatalf("executed = %v", executed)
	}
	if !strings.Contains(out.String(), replPrompt) {
		t.Fatal("prompt never printed")
	}
}

func TestReplLoopContinuesAfterRuntimeError(t *testing.T) {
	calls := 0
	exec := func(_ context.Context, code string) (engine.Result, error) {
		calls++
		if code == "foo" {
			return engine.Result{}, engine.NewRuntimeError("error: 'foo' undefined")
		}
		return engine.Result{}, nil
	}

	in := strings.NewReader("foo\nx = 1;\nquit\n")
	var out, errOut bytes.Buffer
	if err := replLoop(context.Background(), in, &out, &errOut, exec); err != nil {
		t.Fatalf("repl loop: %v", err)
	}

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !strings.Contains(errOut.String(), "'foo' undefined") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestReplLoopStopsOnSessionDeath(t *testing.T) {
	exec := func(_ context.Context, _ string) (engine.Result, error) {
		return engine.Result{}, &engine.Error{Kind: engine.KindSessionClosed, Message: "engine exited"}
	}

	in := strings.NewReader("x = 1;\ny = 2;\n")
	var out, errOut bytes.Buffer
	err := replLoop(context.Background(), in, &out, &errOut, exec)
	if err == nil {
		t.Fatal("expected error when the session died")
	}
}

func TestReplLoopReturnsNilOnEOF(t *testing.T) {
	exec := func(_ context.Context, _ string) (engine.Result, error) {
		return engine.Result{}, nil
	}
	var out, errOut bytes.Buffer
	if err := replLoop(context.Background(), strings.NewReader(""), &out, &errOut, exec); err != nil {
		t.Fatalf("repl loop: %v", err)
	}
}
