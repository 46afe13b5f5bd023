package engine

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the coarse error category surfaced to callers.
type Kind string

const (
	// KindNotInstalled indicates the engine binary is not resolvable on PATH.
	KindNotInstalled Kind = "not-installed"
	// KindStartupTimeout indicates the interpreter never signaled readiness.
	KindStartupTimeout Kind = "startup-timeout"
	// KindCommandTimeout indicates a submitted command exceeded its deadline.
	KindCommandTimeout Kind = "command-timeout"
	// KindAborted indicates a command was cancelled before completion.
	KindAborted Kind = "aborted"
	// KindWrongState indicates a submit against a closed or errored session.
	KindWrongState Kind = "wrong-state"
	// KindSessionClosed indicates the session shut down with the command unresolved.
	KindSessionClosed Kind = "session-closed"
	// KindSpawn indicates the engine process could not be started.
	KindSpawn Kind = "spawn-failure"
	// KindRuntime indicates the engine reported a diagnostic for the command.
	KindRuntime Kind = "runtime"
)

// Class subdivides runtime diagnostics by the shape of the engine message.
type Class string

const (
	ClassSyntax       Class = "syntax"
	ClassRuntime      Class = "runtime"
	ClassIndex        Class = "index"
	ClassDimension    Class = "dimension"
	ClassMemory       Class = "memory"
	ClassPermission   Class = "permission"
	ClassToolbox      Class = "toolbox"
	ClassFileNotFound Class = "file-not-found"
	ClassUnknown      Class = "unknown"
)

// Error is the typed failure value delivered through rejected command outcomes.
type Error struct {
	Kind    Kind
	Class   Class
	Message string
	// Timeout carries the configured duration for KindCommandTimeout errors.
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	message := strings.TrimSpace(e.Message)
	switch {
	case e.Kind == KindCommandTimeout && e.Timeout > 0:
		return fmt.Sprintf("engine: command timed out after %s", e.Timeout)
	case e.Kind == KindRuntime && message != "":
		return fmt.Sprintf("engine: %s error: %s", e.Class, message)
	case message != "":
		return fmt.Sprintf("engine: %s: %s", e.Kind, message)
	case e.Err != nil:
		return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("engine: %s", e.Kind)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so callers can compare against
// the exported Err* sentinels without caring about message text.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Category sentinels for errors.Is checks.
var (
	ErrNotInstalled   = &Error{Kind: KindNotInstalled}
	ErrStartupTimeout = &Error{Kind: KindStartupTimeout}
	ErrCommandTimeout = &Error{Kind: KindCommandTimeout}
	ErrAborted        = &Error{Kind: KindAborted}
	ErrWrongState     = &Error{Kind: KindWrongState}
	ErrSessionClosed  = &Error{Kind: KindSessionClosed}
	ErrSpawn          = &Error{Kind: KindSpawn}
	ErrRuntime        = &Error{Kind: KindRuntime}
)

// classPatterns is evaluated in order; the first matching pattern wins.
// Patterns mirror the diagnostic phrasing of MATLAB-family interpreters.
var classPatterns = []struct {
	class    Class
	patterns []string
}{
	{ClassSyntax, []string{"parse error", "syntax error", "unexpected token"}},
	{ClassIndex, []string{"index out of bound", "out of bound", "index exceeds", "subscript indices"}},
	{ClassDimension, []string{"nonconformant", "dimension mismatch", "dimensions must agree"}},
	{ClassMemory, []string{"out of memory", "memory exhausted"}},
	{ClassPermission, []string{"permission denied", "access denied"}},
	{ClassToolbox, []string{"toolbox", "license checkout failed", "no license"}},
	{ClassFileNotFound, []string{"no such file", "file not found", "unable to open file", "cannot open"}},
	{ClassRuntime, []string{"undefined function", "undefined variable", "undefined near", "error:"}},
}

// Classify maps an engine diagnostic to a Class via case-insensitive
// substring matching. Unrecognized text classifies as unknown.
func Classify(diagnostic string) Class {
	lowered := strings.ToLower(diagnostic)
	if strings.TrimSpace(lowered) == "" {
		return ClassUnknown
	}
	for _, entry := range classPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(lowered, pattern) {
				return entry.class
			}
		}
	}
	return ClassUnknown
}

// NewRuntimeError builds a classified runtime error from engine diagnostics.
func NewRuntimeError(diagnostic string) *Error {
	return &Error{
		Kind:    KindRuntime,
		Class:   Classify(diagnostic),
		Message: strings.TrimSpace(diagnostic),
	}
}

// NewTimeoutError builds a command-timeout error carrying the configured duration.
func NewTimeoutError(timeout time.Duration) *Error {
	return &Error{Kind: KindCommandTimeout, Timeout: timeout}
}
