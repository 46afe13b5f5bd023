package session

import (
	"bufio"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeResponse scripts how the fake interpreter reacts to one command.
type fakeResponse struct {
	stdout string
	stderr string
	// fail emits the error sentinel after the payload.
	fail bool
	// hang never emits a sentinel, leaving the command in flight.
	hang bool
	// exit simulates a crash after the payload: streams close, process dies.
	exit  bool
	delay time.Duration
}

// fakeEngine is a scripted serial interpreter wired to a session over
// in-memory pipes. It parses the try/catch command blocks the session
// writes, replies per its response table, and keeps an event log so tests
// can assert write/sentinel interleaving.
type fakeEngine struct {
	// responses are matched by substring against the received command; the
	// longest matching key wins. Unmatched commands succeed with no output.
	responses map[string]fakeResponse
	prompt    string

	mu     sync.Mutex
	events []string

	stdinReader  *io.PipeReader
	stdinWriter  *io.PipeWriter
	stdoutReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrReader *io.PipeReader
	stderrWriter *io.PipeWriter

	exitErr  chan error
	exitOnce sync.Once
}

func newFakeEngine(responses map[string]fakeResponse) *fakeEngine {
	f := &fakeEngine{
		responses: responses,
		prompt:    ">> ",
		exitErr:   make(chan error, 1),
	}
	f.stdinReader, f.stdinWriter = io.Pipe()
	f.stdoutReader, f.stdoutWriter = io.Pipe()
	f.stderrReader, f.stderrWriter = io.Pipe()
	return f
}

func (f *fakeEngine) launcher(launchSpec) (process, io.Reader, io.Reader, error) {
	go f.run()
	return f, f.stdoutReader, f.stderrReader, nil
}

func (f *fakeEngine) Stdin() io.Writer {
	return recordingWriter{f}
}

func (f *fakeEngine) Wait() error {
	return <-f.exitErr
}

func (f *fakeEngine) Kill() error {
	f.terminate(errors.New("signal: killed"))
	return nil
}

func (f *fakeEngine) terminate(err error) {
	f.exitOnce.Do(func() {
		_ = f.stdoutWriter.Close()
		_ = f.stderrWriter.Close()
		_ = f.stdinReader.Close()
		f.exitErr <- err
	})
}

func (f *fakeEngine) run() {
	if f.prompt != "" {
		_, _ = io.WriteString(f.stdoutWriter, f.prompt)
	}

	scanner := bufio.NewScanner(f.stdinReader)
	var code []string
	inBlock := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "quit":
			f.terminate(nil)
			return
		case line == "try":
			inBlock = true
			code = nil
		case strings.HasPrefix(line, "catch "):
			inBlock = false
		case strings.HasPrefix(line, "disp('"+doneMarkPrefix):
			doneMark := strings.TrimSuffix(strings.TrimPrefix(line, "disp('"), "');")
			if !f.respond(strings.Join(code, "\n"), doneMark) {
				return
			}
			code = nil
		case inBlock:
			code = append(code, line)
		}
	}
}

func (f *fakeEngine) respond(code, doneMark string) bool {
	failMark := failMarkPrefix + strings.TrimPrefix(doneMark, doneMarkPrefix)
	f.record("recv:" + code)

	resp := f.lookup(code)
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}
	if resp.stdout != "" {
		_, _ = io.WriteString(f.stdoutWriter, ensureNewline(resp.stdout))
	}
	if resp.stderr != "" {
		_, _ = io.WriteString(f.stderrWriter, ensureNewline(resp.stderr))
		// Stderr and stdout travel on separate pipes; give the stderr reader
		// time to hand its chunk to the framer before the sentinel lands.
		time.Sleep(10 * time.Millisecond)
	}

	switch {
	case resp.exit:
		f.terminate(errors.New("exit status 1"))
		return false
	case resp.hang:
		return true
	case resp.fail:
		_, _ = io.WriteString(f.stdoutWriter, failMark+"\n")
	}

	f.record("done:" + code)
	_, _ = io.WriteString(f.stdoutWriter, doneMark+"\n")
	return true
}

func (f *fakeEngine) lookup(code string) fakeResponse {
	keys := make([]string, 0, len(f.responses))
	for key := range f.responses {
		if strings.Contains(code, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return fakeResponse{}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return f.responses[keys[0]]
}

func (f *fakeEngine) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeEngine) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

// recordingWriter logs each command write before forwarding it, so tests can
// check that command K+1 is only written after sentinel K was emitted.
type recordingWriter struct {
	f *fakeEngine
}

func (w recordingWriter) Write(p []byte) (int, error) {
	w.f.record("write:" + firstCodeLine(string(p)))
	n, err := w.f.stdinWriter.Write(p)
	return n, err
}

func firstCodeLine(block string) string {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) > 1 && lines[0] == "try" {
		return lines[1]
	}
	return lines[0]
}

func ensureNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

var _ process = (*fakeEngine)(nil)
