package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesLogFileUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := New(context.Background())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			t.Fatalf("close logger: %v", closeErr)
		}
	}()

	logDir := filepath.Join(home, ".mlbridge", "logs")
	if !strings.HasPrefix(logger.Path(), logDir) {
		t.Fatalf("log path %q not under %q", logger.Path(), logDir)
	}
	if _, err := os.Stat(logger.Path()); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}

func TestNewWithSessionIDNamesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	logger, err := New(context.Background(), WithSessionID("abc123"))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer func() {
		_ = logger.Close()
	}()

	if !strings.HasSuffix(logger.Path(), "-abc123.log") {
		t.Fatalf("log path %q missing session suffix", logger.Path())
	}
}

func TestLogRecordsAreJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	logger, err := New(context.Background(), WithSessionID("s1"), WithTraceID("t1"))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Logger.Info("command resolved", "duration_ms", 12)
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"session_id":"s1"`, `"trace_id":"t1"`, "command resolved"} {
		if !strings.Contains(text, want) {
			t.Fatalf("log output missing %q: %s", want, text)
		}
	}
}
