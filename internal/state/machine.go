package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is one session lifecycle state.
type Status string

const (
	// StatusStarting covers spawn through readiness detection.
	StatusStarting Status = "starting"
	// StatusReady means the interpreter is idle and accepting submissions.
	StatusReady Status = "ready"
	// StatusBusy means exactly one command is in flight.
	StatusBusy Status = "busy"
	// StatusClosed is the terminal state after graceful shutdown.
	StatusClosed Status = "closed"
	// StatusError is the terminal state after spawn failure or unexpected exit.
	StatusError Status = "error"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// Any state may fall to error on unexpected process exit; close is reachable
// from every live state so shutdown always wins.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusStarting: {
		StatusReady:  {},
		StatusClosed: {},
		StatusError:  {},
	},
	StatusReady: {
		StatusBusy:   {},
		StatusClosed: {},
		StatusError:  {},
	},
	StatusBusy: {
		StatusReady:  {},
		StatusClosed: {},
		StatusError:  {},
	},
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	SessionID string
	From      Status
	To        Status
	Reason    string
	Timestamp time.Time
}

// IllegalTransitionError is returned for a disallowed transition.
type IllegalTransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf(
		"cannot transition session %q from %q to %q",
		e.SessionID,
		e.From,
		e.To,
	)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Machine validates session lifecycle transitions and records history.
type Machine struct {
	sessionID string
	now       func() time.Time

	mu      sync.Mutex
	current Status
	history []TransitionRecord
}

// Option configures Machine construction.
type Option func(*Machine)

// WithClock injects the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(machine *Machine) {
		if now != nil {
			machine.now = now
		}
	}
}

// NewMachine builds a lifecycle machine starting in the starting state.
func NewMachine(sessionID string, options ...Option) (*Machine, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	machine := &Machine{
		sessionID: sessionID,
		now:       time.Now,
		current:   StatusStarting,
		history:   []TransitionRecord{},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(machine)
	}
	return machine, nil
}

// Current returns the present lifecycle state.
func (m *Machine) Current() Status {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition validates and applies one lifecycle transition.
func (m *Machine) Transition(to Status, reason string) error {
	if m == nil {
		return errors.New("machine is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if !isAllowed(from, to) {
		return &IllegalTransitionError{SessionID: m.sessionID, From: from, To: to}
	}

	m.current = to
	m.history = append(m.history, TransitionRecord{
		SessionID: m.sessionID,
		From:      from,
		To:        to,
		Reason:    strings.TrimSpace(reason),
		Timestamp: m.now().UTC(),
	})
	return nil
}

// History returns a copy of the transition records applied so far.
func (m *Machine) History() []TransitionRecord {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

func isAllowed(from, to Status) bool {
	nextStates, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = nextStates[to]
	return ok
}
