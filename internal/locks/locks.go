package locks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LockFileName is the claim file written into a locked working directory.
	LockFileName = ".mlbridge.lock"
	// DefaultLease is the lock lease duration when no override is provided.
	DefaultLease = 30 * time.Minute
)

// ErrConflict indicates another live session already holds the directory.
var ErrConflict = errors.New("working directory is locked by another session")

// Lock records one session's claim on a working directory. Stale claims are
// reclaimed after the lease expires, so a crashed process cannot wedge the
// directory forever.
type Lock struct {
	SessionID  string    `json:"sessionId"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ManagerConfig controls lease duration.
type ManagerConfig struct {
	Lease time.Duration
}

// Manager serializes engine sessions per working directory through a JSON
// claim file.
type Manager struct {
	path  string
	lease time.Duration
	now   func() time.Time
	pid   func() int
}

// NewManager builds a lock manager for the given working directory.
func NewManager(dir string, cfg ManagerConfig) (*Manager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("working directory is required")
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Manager{
		path:  filepath.Join(dir, LockFileName),
		lease: cfg.Lease,
		now:   time.Now,
		pid:   os.Getpid,
	}, nil
}

// Acquire claims the directory for sessionID. An unexpired claim held by a
// different session yields ErrConflict; re-acquiring an own claim renews it.
func (m *Manager) Acquire(sessionID string) error {
	if m == nil {
		return errors.New("lock manager is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	now := m.now().UTC()
	existing, err := m.read()
	if err != nil {
		return err
	}
	if existing != nil && existing.SessionID != sessionID && now.Before(existing.ExpiresAt) {
		return fmt.Errorf("%w (held by session %s until %s)",
			ErrConflict, existing.SessionID, existing.ExpiresAt.Format(time.RFC3339))
	}

	return m.write(Lock{
		SessionID:  sessionID,
		PID:        m.pid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.lease),
	})
}

// Release drops the claim when held by sessionID. Releasing an unheld or
// foreign claim is a no-op.
func (m *Manager) Release(sessionID string) error {
	if m == nil {
		return errors.New("lock manager is nil")
	}
	existing, err := m.read()
	if err != nil {
		return err
	}
	if existing == nil || existing.SessionID != strings.TrimSpace(sessionID) {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Holder returns the current unexpired claim, or nil when the directory is free.
func (m *Manager) Holder() (*Lock, error) {
	if m == nil {
		return nil, errors.New("lock manager is nil")
	}
	existing, err := m.read()
	if err != nil {
		return nil, err
	}
	if existing == nil || !m.now().UTC().Before(existing.ExpiresAt) {
		return nil, nil
	}
	return existing, nil
}

func (m *Manager) read() (*Lock, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		// A corrupt claim file is treated as absent rather than wedging the
		// directory.
		return nil, nil
	}
	return &lock, nil
}

func (m *Manager) write(lock Lock) error {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}
