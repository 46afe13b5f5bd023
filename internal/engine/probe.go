package engine

import (
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultProbeTTL = 5 * time.Minute

// ProbeResult is one cached installation check.
type ProbeResult struct {
	Path      string
	Err       error
	CheckedAt time.Time
}

// Probe resolves the engine binary on PATH and caches the answer with a TTL.
// The cache is an explicit object rather than package state so independent
// components and tests control invalidation themselves.
type Probe struct {
	binary   string
	ttl      time.Duration
	lookPath func(file string) (string, error)
	now      func() time.Time

	mu     sync.Mutex
	cached *ProbeResult
}

// ProbeOption configures Probe construction.
type ProbeOption func(*Probe)

// WithProbeTTL overrides how long a probe result stays valid.
func WithProbeTTL(ttl time.Duration) ProbeOption {
	return func(p *Probe) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithLookPath injects the PATH resolver used by the probe.
func WithLookPath(lookPath func(file string) (string, error)) ProbeOption {
	return func(p *Probe) {
		if lookPath != nil {
			p.lookPath = lookPath
		}
	}
}

// WithClock injects the clock used for TTL expiry.
func WithClock(now func() time.Time) ProbeOption {
	return func(p *Probe) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProbe builds an installation probe for the given engine binary.
func NewProbe(binary string, options ...ProbeOption) (*Probe, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("engine binary name is required")
	}

	probe := &Probe{
		binary:   binary,
		ttl:      defaultProbeTTL,
		lookPath: exec.LookPath,
		now:      time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(probe)
	}
	return probe, nil
}

// Check returns the resolved binary path, consulting the cache when fresh.
// A missing binary yields a not-installed error.
func (p *Probe) Check() (string, error) {
	if p == nil {
		return "", errors.New("probe is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.cached.CheckedAt) < p.ttl {
		return p.cached.Path, p.cached.Err
	}

	path, err := p.lookPath(p.binary)
	result := &ProbeResult{Path: path, CheckedAt: p.now()}
	if err != nil {
		result.Path = ""
		result.Err = &Error{
			Kind:    KindNotInstalled,
			Message: p.binary + " not found on PATH",
			Err:     err,
		}
	}
	p.cached = result
	return result.Path, result.Err
}

// ClearCache drops the cached result so the next Check re-resolves.
func (p *Probe) ClearCache() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Binary returns the configured engine binary name.
func (p *Probe) Binary() string {
	if p == nil {
		return ""
	}
	return p.binary
}
