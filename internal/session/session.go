package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mlbridge/mlbridge/internal/engine"
	"github.com/mlbridge/mlbridge/internal/events"
	"github.com/mlbridge/mlbridge/internal/state"
)

const (
	defaultStartupTimeout = 60 * time.Second
	defaultShutdownGrace  = 5 * time.Second

	doneMarkPrefix = "__MLBRIDGE_CMD_DONE__"
	failMarkPrefix = "__MLBRIDGE_CMD_FAIL__"

	streamStdout = "stdout"
	streamStderr = "stderr"
)

var defaultPromptPattern = regexp.MustCompile(`(?m)^\s*(>>|octave(:\d+)?>)`)

// Config carries everything one interactive session needs.
type Config struct {
	// Probe resolves the engine binary; required.
	Probe *engine.Probe
	// ExtraArgs are appended after the interactive-mode flags.
	ExtraArgs []string
	WorkDir   string
	Env       map[string]string
	// CommandTimeout of zero disables per-command deadlines.
	CommandTimeout time.Duration
	StartupTimeout time.Duration
	ShutdownGrace  time.Duration
	// SearchPaths are added via addpath before the session reports ready.
	SearchPaths   []string
	PromptPattern *regexp.Regexp
	// OnLine receives each non-empty line of live output, in arrival order.
	// It stops firing once Close has returned.
	OnLine func(stream, line string)
	Bus    events.Bus
	Logger *log.Logger
	Tracer trace.Tracer
}

func (c *Config) applyDefaults() {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.PromptPattern == nil {
		c.PromptPattern = defaultPromptPattern
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer("mlbridge/session")
	}
}

// Outcome is the single terminal result of one submitted command.
type Outcome struct {
	Result engine.Result
	Err    error
}

// Pending is one submitted, not-yet-completed command. It is resolved or
// rejected exactly once.
type Pending struct {
	session     *Session
	code        string
	submittedAt time.Time
	timer       *time.Timer
	outcome     chan Outcome

	// resolved is guarded by the session mutex.
	resolved bool
}

// Wait blocks until the command resolves or ctx is cancelled. Cancellation
// rejects this command only: a queued command is removed, an in-flight one
// is rejected while the interpreter keeps executing it.
func (p *Pending) Wait(ctx context.Context) (engine.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case outcome := <-p.outcome:
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		p.session.reject(p, &engine.Error{Kind: engine.KindAborted, Message: "wait cancelled", Err: ctx.Err()})
		outcome := <-p.outcome
		return outcome.Result, outcome.Err
	}
}

// Session wraps one interactive interpreter process and serializes command
// execution against it: strict FIFO, at most one command in flight.
type Session struct {
	cfg      Config
	id       string
	machine  *state.Machine
	logger   *log.Logger
	launch   launcher
	now      func() time.Time
	doneMark string
	failMark string

	mu        sync.Mutex
	proc      process
	stdin     io.Writer
	framer    *framer
	outLines  lineSplitter
	errLines  lineSplitter
	queue     []*Pending
	inflight  *Pending
	readySeen bool
	closing   bool

	readyCh   chan struct{}
	exitCh    chan struct{}
	readersWG sync.WaitGroup
}

// New builds a session; Start must be called before submitting commands.
func New(cfg Config) (*Session, error) {
	if cfg.Probe == nil {
		return nil, errors.New("engine probe is required")
	}
	cfg.applyDefaults()

	id := uuid.NewString()
	machine, err := state.NewMachine(id)
	if err != nil {
		return nil, err
	}

	// Random suffix hardens the sentinels against command text that happens
	// to echo the marker prefix.
	suffix := strings.ReplaceAll(id, "-", "")[:12]
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Session{
		cfg:      cfg,
		id:       id,
		machine:  machine,
		logger:   logger.With("session_id", id),
		launch:   launchExec,
		now:      time.Now,
		doneMark: doneMarkPrefix + suffix,
		failMark: failMarkPrefix + suffix,
		readyCh:  make(chan struct{}),
		exitCh:   make(chan struct{}),
	}
	s.framer = newFramer(s.doneMark, s.failMark, cfg.PromptPattern)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *Session) Status() state.Status {
	return s.machine.Current()
}

// History returns the lifecycle transitions applied so far.
func (s *Session) History() []state.TransitionRecord {
	return s.machine.History()
}

// Start spawns the interpreter, waits for the ready prompt in early output,
// and applies configured search paths before declaring the session usable.
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.machine.Current() != state.StatusStarting {
		return &engine.Error{Kind: engine.KindWrongState, Message: "session already started"}
	}

	binPath, err := s.cfg.Probe.Check()
	if err != nil {
		s.transition(state.StatusError, "engine not installed")
		return err
	}

	args := append(append([]string{}, interactiveArgs...), s.cfg.ExtraArgs...)
	proc, stdout, stderr, launchErr := s.launch(launchSpec{
		Binary: binPath,
		Args:   args,
		Dir:    s.cfg.WorkDir,
		Env:    mergedEnv(s.cfg.Env),
	})
	if launchErr != nil {
		s.transition(state.StatusError, "spawn failed")
		return &engine.Error{Kind: engine.KindSpawn, Message: fmt.Sprintf("start %s", binPath), Err: launchErr}
	}

	s.mu.Lock()
	s.proc = proc
	s.stdin = proc.Stdin()
	s.mu.Unlock()

	s.readersWG.Add(2)
	go s.readStream(stdout, streamStdout)
	go s.readStream(stderr, streamStderr)
	go s.waitProcess()

	s.logger.With("binary", binPath).Info("engine spawned")

	select {
	case <-s.readyCh:
	case <-s.exitCh:
		s.rejectAll(&engine.Error{Kind: engine.KindSpawn, Message: "engine exited during startup"})
		return &engine.Error{Kind: engine.KindSpawn, Message: "engine exited during startup"}
	case <-time.After(s.cfg.StartupTimeout):
		_ = proc.Kill()
		s.transition(state.StatusError, "ready signal never appeared")
		return &engine.Error{
			Kind:    engine.KindStartupTimeout,
			Message: fmt.Sprintf("no ready signal within %s", s.cfg.StartupTimeout),
		}
	case <-ctx.Done():
		_ = proc.Kill()
		s.transition(state.StatusError, "startup cancelled")
		return &engine.Error{Kind: engine.KindAborted, Message: "startup cancelled", Err: ctx.Err()}
	}

	s.transition(state.StatusReady, "prompt detected")
	s.logger.Info("session ready")

	if len(s.cfg.SearchPaths) > 0 {
		initCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
		defer cancel()
		if _, err := s.Submit(addPathCommand(s.cfg.SearchPaths)).Wait(initCtx); err != nil {
			_ = s.Close()
			return fmt.Errorf("apply search paths: %w", err)
		}
	}
	return nil
}

// Submit appends a command to the tail of the queue and returns its pending
// outcome. A session in a terminal state rejects immediately without
// enqueueing.
func (s *Session) Submit(code string) *Pending {
	p := &Pending{
		session:     s,
		code:        code,
		submittedAt: s.now(),
		outcome:     make(chan Outcome, 1),
	}

	s.mu.Lock()
	status := s.machine.Current()
	if status != state.StatusReady && status != state.StatusBusy {
		s.mu.Unlock()
		p.resolved = true
		p.outcome <- Outcome{Err: &engine.Error{
			Kind:    engine.KindWrongState,
			Message: fmt.Sprintf("cannot submit in state %q", status),
		}}
		return p
	}

	s.queue = append(s.queue, p)
	if s.cfg.CommandTimeout > 0 {
		timeout := s.cfg.CommandTimeout
		p.timer = time.AfterFunc(timeout, func() {
			s.reject(p, engine.NewTimeoutError(timeout))
		})
	}
	if s.inflight == nil && status == state.StatusReady {
		s.advanceLocked()
	}
	s.mu.Unlock()
	return p
}

// Exec submits one command and waits for its outcome.
func (s *Session) Exec(ctx context.Context, code string) (engine.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.cfg.Tracer.Start(ctx, "session.exec", trace.WithAttributes(
		attribute.String("session_id", s.id),
		attribute.Int("code_bytes", len(code)),
	))
	defer span.End()

	result, err := s.Submit(code).Wait(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "command resolved")
	return result, nil
}

// Close shuts the interpreter down: a graceful quit, a bounded grace period,
// then a kill. Every unresolved command is rejected with a session-closed
// error. Close never fails and is safe to call repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.machine.Current().Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	proc := s.proc
	stdin := s.stdin
	s.mu.Unlock()

	if proc != nil {
		if stdin != nil {
			_, _ = io.WriteString(stdin, "quit\n")
		}
		select {
		case <-s.exitCh:
		case <-time.After(s.cfg.ShutdownGrace):
			_ = proc.Kill()
			<-s.exitCh
		}
		s.readersWG.Wait()
	}

	s.transition(state.StatusClosed, "explicit close")
	s.rejectAll(&engine.Error{Kind: engine.KindSessionClosed, Message: "session closed"})
	s.logger.Info("session closed")
	return nil
}

// readStream pumps one output stream into the framer chunk by chunk.
func (s *Session) readStream(r io.Reader, stream string) {
	defer s.readersWG.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.consume(stream, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) consume(stream, chunk string) {
	s.mu.Lock()

	var splitter *lineSplitter
	if stream == streamStdout {
		splitter = &s.outLines
	} else {
		splitter = &s.errLines
	}
	var emits []string
	for _, line := range splitter.Feed(chunk) {
		// Residual prompts are interpreter chrome, not command output.
		if s.cfg.PromptPattern != nil {
			line = s.cfg.PromptPattern.ReplaceAllString(line, "")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || s.isSentinelLine(trimmed) {
			continue
		}
		emits = append(emits, trimmed)
	}

	if stream == streamStderr {
		s.framer.AppendStderr(chunk)
	} else if !s.readySeen {
		s.framer.AppendStdout(chunk)
		if s.framer.StdoutContains(s.cfg.PromptPattern) {
			s.readySeen = true
			s.framer.Reset()
			close(s.readyCh)
		}
	} else if completed, ok := s.framer.AppendStdout(chunk); ok {
		s.completeLocked(completed)
	}

	onLine := s.cfg.OnLine
	s.mu.Unlock()

	for _, line := range emits {
		if onLine != nil {
			onLine(stream, line)
		}
		s.publish(events.EventTypeLine, events.LinePayload{Stream: stream, Text: line}, events.SeverityInfo)
	}
}

// completeLocked resolves the in-flight command from a detected frame and
// begins the next queued command, if any.
func (s *Session) completeLocked(completed frame) {
	p := s.inflight
	s.inflight = nil

	if p != nil && !p.resolved {
		failed := completed.Failed || s.framer.StderrIndicatesError(completed.Stderr)
		if failed {
			payload := completed.Stderr
			if strings.TrimSpace(payload) == "" {
				payload = completed.Stdout
			}
			s.resolveLocked(p, Outcome{
				Result: engine.Result{Stdout: completed.Stdout, Stderr: completed.Stderr},
				Err:    engine.NewRuntimeError(payload),
			})
		} else {
			s.resolveLocked(p, Outcome{Result: engine.Result{
				Stdout:   completed.Stdout,
				Stderr:   completed.Stderr,
				Duration: s.now().Sub(p.submittedAt),
			}})
		}
		s.publish(events.EventTypeCommandDone, p.code, events.SeverityInfo)
	}

	s.transitionLocked(state.StatusReady, "command resolved")
	if len(s.queue) > 0 && s.machine.Current() == state.StatusReady {
		s.advanceLocked()
	}
}

// advanceLocked dequeues the head command and writes it to the interpreter.
func (s *Session) advanceLocked() {
	if s.inflight != nil || len(s.queue) == 0 {
		return
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	s.inflight = p
	s.transitionLocked(state.StatusBusy, "command in flight")

	block := s.commandBlock(p.code)
	// The write happens off the lock path; the pipe buffer may be full while
	// the readers contend for the mutex.
	go s.writeCommand(p, block)
}

func (s *Session) writeCommand(p *Pending, block string) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		s.reject(p, &engine.Error{Kind: engine.KindSessionClosed, Message: "engine stdin unavailable"})
		return
	}
	if _, err := io.WriteString(stdin, block); err != nil {
		s.reject(p, &engine.Error{Kind: engine.KindSessionClosed, Message: "write command", Err: err})
	}
}

// commandBlock wraps user code so the interpreter reports a sentinel once the
// command has finished executing. Caught errors print their message to
// stderr, then the error sentinel; the success sentinel always follows.
func (s *Session) commandBlock(code string) string {
	return fmt.Sprintf(
		"try\n%s\ncatch mlbridge_err\nfprintf(2, '%%s\\n', mlbridge_err.message);\ndisp('%s');\nend\ndisp('%s');\n",
		code,
		s.failMark,
		s.doneMark,
	)
}

func addPathCommand(paths []string) string {
	parts := make([]string, len(paths))
	for i, path := range paths {
		parts[i] = fmt.Sprintf("addpath('%s');", strings.ReplaceAll(path, "'", "''"))
	}
	return strings.Join(parts, " ")
}

// reject resolves p with err unless it already has an outcome. A queued
// command is removed from the queue; an in-flight one stays in place so the
// serializer still waits for its sentinel before starting the next command.
func (s *Session) reject(p *Pending, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.resolved {
		return
	}
	for i, queued := range s.queue {
		if queued == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.resolveLocked(p, Outcome{Err: err})
}

// rejectAll drains the queue and the in-flight command with err.
func (s *Session) rejectAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil && !s.inflight.resolved {
		s.resolveLocked(s.inflight, Outcome{Err: err})
	}
	s.inflight = nil
	for _, p := range s.queue {
		if !p.resolved {
			s.resolveLocked(p, Outcome{Err: err})
		}
	}
	s.queue = nil
}

func (s *Session) resolveLocked(p *Pending, outcome Outcome) {
	p.resolved = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.outcome <- outcome
}

func (s *Session) waitProcess() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	err := proc.Wait()
	close(s.exitCh)

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}

	// Unexpected exit is fatal to the session: every pending command is
	// rejected and further submissions fail until a new session is started.
	s.transition(state.StatusError, "engine process exited unexpectedly")
	s.rejectAll(&engine.Error{Kind: engine.KindSessionClosed, Message: "engine process exited unexpectedly", Err: err})
	s.publish(events.EventTypeProcessExit, err, events.SeverityError)
	s.logger.With("error", err).Error("engine exited unexpectedly")
}

func (s *Session) isSentinelLine(line string) bool {
	return strings.Contains(line, s.doneMark) || strings.Contains(line, s.failMark)
}

// transition applies a lifecycle transition, tolerating races where a
// terminal state won first.
func (s *Session) transition(to state.Status, reason string) {
	from := s.machine.Current()
	if err := s.machine.Transition(to, reason); err != nil {
		s.logger.With("from", from, "to", to).Debug("transition skipped")
		return
	}
	s.publish(events.EventTypeStateTransition, events.TransitionPayload{
		From:   string(from),
		To:     string(to),
		Reason: reason,
	}, events.SeverityInfo)
}

func (s *Session) transitionLocked(to state.Status, reason string) {
	// The machine carries its own mutex; holding s.mu here only orders the
	// transition against queue mutations.
	s.transition(to, reason)
}

func (s *Session) publish(eventType string, payload any, severity string) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(events.Event{
		Type:      eventType,
		SessionID: s.id,
		Payload:   payload,
		Severity:  severity,
	})
}
