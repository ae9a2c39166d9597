// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opsmesh/cmdbd/internal/logging"
)

// LockoutConfig configures the failed-login lockout system.
type LockoutConfig struct {
	// MaxAttempts is the number of failed attempts before lockout.
	MaxAttempts int

	// LockoutDuration is how long an account stays locked.
	LockoutDuration time.Duration

	// CleanupInterval is how often expired entries are purged.
	CleanupInterval time.Duration
}

// DefaultLockoutConfig returns sensible defaults.
func DefaultLockoutConfig() *LockoutConfig {
	return &LockoutConfig{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// LockoutEntry tracks failed login attempts for a username.
type LockoutEntry struct {
	Subject        string    `json:"subject"`
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	LockedUntil    time.Time `json:"locked_until"`
	LastFailedIP   string    `json:"last_failed_ip,omitempty"`
}

// IsLocked reports whether the entry is currently locked.
func (e *LockoutEntry) IsLocked() bool {
	return time.Now().Before(e.LockedUntil)
}

// ErrEntryNotFound is returned by stores when no entry exists for a
// subject.
var ErrEntryNotFound = errors.New("lockout entry not found")

// LockoutStore persists lockout state. The memory store covers tests
// and single-node default deployments; the Badger store survives
// restarts.
type LockoutStore interface {
	GetEntry(ctx context.Context, subject string) (*LockoutEntry, error)
	SaveEntry(ctx context.Context, entry *LockoutEntry) error
	DeleteEntry(ctx context.Context, subject string) error
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

// LockoutManager applies the lockout policy around login attempts.
type LockoutManager struct {
	config *LockoutConfig
	store  LockoutStore

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLockoutManager creates a manager and starts the background
// cleanup loop.
func NewLockoutManager(store LockoutStore, config *LockoutConfig) *LockoutManager {
	if config == nil {
		config = DefaultLockoutConfig()
	}
	m := &LockoutManager{
		config: config,
		store:  store,
		stopCh: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// CheckLocked returns ErrAccountLocked if the subject is locked out.
func (m *LockoutManager) CheckLocked(ctx context.Context, subject string) error {
	entry, err := m.store.GetEntry(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		return err
	}
	if entry.IsLocked() {
		return ErrAccountLocked
	}
	return nil
}

// RecordFailure registers a failed attempt and locks the subject once
// the threshold is reached. Returns true if this failure triggered the
// lockout.
func (m *LockoutManager) RecordFailure(ctx context.Context, subject, ip string) (bool, error) {
	entry, err := m.store.GetEntry(ctx, subject)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			return false, err
		}
		entry = &LockoutEntry{Subject: subject}
	}

	entry.FailedAttempts++
	entry.LastAttempt = time.Now()
	entry.LastFailedIP = ip

	locked := false
	if entry.FailedAttempts >= m.config.MaxAttempts && !entry.IsLocked() {
		entry.LockedUntil = time.Now().Add(m.config.LockoutDuration)
		locked = true
		logging.Ctx(ctx).Warn().
			Str("subject", logging.SanitizeSubject(subject)).
			Int("failed_attempts", entry.FailedAttempts).
			Time("locked_until", entry.LockedUntil).
			Msg("Account locked after repeated login failures")
	}

	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return locked, err
	}
	return locked, nil
}

// RecordSuccess clears the subject's failure history.
func (m *LockoutManager) RecordSuccess(ctx context.Context, subject string) error {
	err := m.store.DeleteEntry(ctx, subject)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	return err
}

// Close stops the cleanup loop and the underlying store.
func (m *LockoutManager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return m.store.Close()
}

func (m *LockoutManager) cleanupLoop() {
	interval := m.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n, err := m.store.CleanupExpired(context.Background()); err != nil {
				logging.Error().Err(err).Msg("Lockout cleanup failed")
			} else if n > 0 {
				logging.Debug().Int("removed", n).Msg("Expired lockout entries removed")
			}
		}
	}
}

// MemoryLockoutStore is an in-memory LockoutStore.
type MemoryLockoutStore struct {
	mu      sync.RWMutex
	entries map[string]*LockoutEntry
}

// NewMemoryLockoutStore creates an empty in-memory store.
func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{entries: make(map[string]*LockoutEntry)}
}

// GetEntry implements LockoutStore.
func (s *MemoryLockoutStore) GetEntry(_ context.Context, subject string) (*LockoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[subject]
	if !ok {
		return nil, ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

// SaveEntry implements LockoutStore.
func (s *MemoryLockoutStore) SaveEntry(_ context.Context, entry *LockoutEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.entries[entry.Subject] = &copied
	return nil
}

// DeleteEntry implements LockoutStore.
func (s *MemoryLockoutStore) DeleteEntry(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[subject]; !ok {
		return ErrEntryNotFound
	}
	delete(s.entries, subject)
	return nil
}

// CleanupExpired implements LockoutStore. An entry is expired when it
// is not locked and its last attempt is older than an hour.
func (s *MemoryLockoutStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Hour)
	removed := 0
	for subject, entry := range s.entries {
		if !entry.IsLocked() && entry.LastAttempt.Before(cutoff) {
			delete(s.entries, subject)
			removed++
		}
	}
	return removed, nil
}

// Close implements LockoutStore.
func (s *MemoryLockoutStore) Close() error { return nil }
