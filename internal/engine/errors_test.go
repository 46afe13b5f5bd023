package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassifyMapsDiagnosticsToClasses(t *testing.T) {
	cases := []struct {
		name       string
		diagnostic string
		want       Class
	}{
		{"syntax", "parse error:\n  syntax error near line 1", ClassSyntax},
		{"index", "error: index (4): out of bound 3", ClassIndex},
		{"dimension", "error: operator +: nonconformant arguments (op1 is 2x2, op2 is 3x3)", ClassDimension},
		{"memory", "error: out of memory or dimension too large", ClassMemory},
		{"permission", "error: fopen: Permission denied", ClassPermission},
		{"toolbox", "License checkout failed for Signal Processing Toolbox", ClassToolbox},
		{"file", "error: load: unable to open file missing.mat", ClassFileNotFound},
		{"runtime undefined", "error: 'foo' undefined", ClassRuntime},
		{"runtime variable", "Undefined function or variable 'foo'", ClassRuntime},
		{"unknown", "something unusual happened", ClassUnknown},
		{"empty", "   ", ClassUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.diagnostic); got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.diagnostic, got, tc.want)
			}
		})
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	timeoutErr := NewTimeoutError(2 * time.Second)
	if !errors.Is(timeoutErr, ErrCommandTimeout) {
		t.Fatal("timeout error should match ErrCommandTimeout")
	}
	if errors.Is(timeoutErr, ErrAborted) {
		t.Fatal("timeout error must not match ErrAborted")
	}

	runtimeErr := NewRuntimeError("error: 'foo' undefined")
	if !errors.Is(runtimeErr, ErrRuntime) {
		t.Fatal("runtime error should match ErrRuntime")
	}
	if runtimeErr.Class != ClassRuntime {
		t.Fatalf("class = %q, want %q", runtimeErr.Class, ClassRuntime)
	}
}

func TestErrorIsSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("start session: %w", &Error{Kind: KindNotInstalled, Message: "octave not found on PATH"})
	if !errors.Is(wrapped, ErrNotInstalled) {
		t.Fatal("wrapped error should match ErrNotInstalled")
	}
}

func TestTimeoutErrorCarriesDuration(t *testing.T) {
	err := NewTimeoutError(1500 * time.Millisecond)
	if err.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout = %s, want 1.5s", err.Timeout)
	}
	if !strings.Contains(err.Error(), "1.5s") {
		t.Fatalf("message %q should carry the configured duration", err.Error())
	}
}
