package session

import (
	"bytes"
	"regexp"
	"strings"
)

// frame is the demarcated capture of one finished command.
type frame struct {
	Stdout string
	Stderr string
	// Failed reports the error sentinel, which takes precedence over the
	// stderr heuristic when present.
	Failed bool
}

// framer turns the interpreter's boundary-less output streams into discrete
// per-command frames by scanning the stdout accumulation buffer for the
// completion sentinels after every append.
//
// Sentinel-substring detection is inherently fragile: a command that echoes
// its own marker text would falsely trigger completion. The marks therefore
// carry a random per-session suffix chosen at construction.
//
// Stderr travels on its own pipe with no ordering guarantee against stdout,
// so a diagnostic written just before the sentinel can still be in flight
// when the frame completes. The stderr capture is best-effort; a late chunk
// attributes to the next frame.
type framer struct {
	doneMark string
	failMark string
	prompt   *regexp.Regexp

	out  bytes.Buffer
	errs bytes.Buffer
}

func newFramer(doneMark, failMark string, prompt *regexp.Regexp) *framer {
	return &framer{doneMark: doneMark, failMark: failMark, prompt: prompt}
}

// AppendStdout accumulates a stdout chunk and reports a completed frame once
// the done sentinel has arrived. The done sentinel alone keys completion: the
// command block always prints it, including after a caught error, so a fail
// sentinel arriving in an earlier read cannot leave a residual done sentinel
// behind to falsely resolve the next command. Text past the consumed sentinel
// is kept for the next frame; the fail sentinel inside the captured region
// marks the frame failed.
func (f *framer) AppendStdout(chunk string) (frame, bool) {
	f.out.WriteString(chunk)

	captured := f.out.String()
	idx := strings.Index(captured, f.doneMark)
	if idx < 0 {
		return frame{}, false
	}
	region := captured[:idx]
	rest := captured[idx+len(f.doneMark):]

	completed := frame{
		Stdout: f.clean(region),
		Stderr: strings.TrimSpace(f.errs.String()),
		Failed: strings.Contains(region, f.failMark),
	}
	f.Reset()
	f.out.WriteString(rest)
	return completed, true
}

// AppendStderr accumulates a stderr chunk.
func (f *framer) AppendStderr(chunk string) {
	f.errs.WriteString(chunk)
}

// StdoutContains reports whether the live stdout buffer contains the given
// literal. Used for readiness detection during startup.
func (f *framer) StdoutContains(pattern *regexp.Regexp) bool {
	return pattern.MatchString(f.out.String())
}

// Reset clears both accumulation buffers.
func (f *framer) Reset() {
	f.out.Reset()
	f.errs.Reset()
}

// StderrIndicatesError applies the textual fallback heuristic consulted when
// no error sentinel arrived.
func (f *framer) StderrIndicatesError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "error")
}

// clean strips sentinel tokens and residual interpreter prompts from the
// captured text, producing the user-visible result string.
func (f *framer) clean(captured string) string {
	captured = strings.ReplaceAll(captured, f.doneMark, "")
	captured = strings.ReplaceAll(captured, f.failMark, "")
	if f.prompt != nil {
		captured = f.prompt.ReplaceAllString(captured, "")
	}
	return strings.TrimSpace(captured)
}

// lineSplitter re-chunks a byte stream into complete lines for progress
// callbacks, holding partial trailing lines until their newline arrives.
type lineSplitter struct {
	pending string
}

// Feed returns the complete lines contained in chunk (plus any held prefix).
func (l *lineSplitter) Feed(chunk string) []string {
	l.pending += chunk
	if !strings.Contains(l.pending, "\n") {
		return nil
	}
	parts := strings.Split(l.pending, "\n")
	l.pending = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Flush returns any held partial line and clears it.
func (l *lineSplitter) Flush() string {
	pending := l.pending
	l.pending = ""
	return pending
}
