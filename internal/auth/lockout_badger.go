// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const lockoutKeyPrefix = "lockout:"

// BadgerLockoutStore implements LockoutStore on BadgerDB so lockout
// state survives restarts. An attacker cannot reset the failure
// counter by forcing a process restart.
type BadgerLockoutStore struct {
	db *badger.DB
}

// NewBadgerLockoutStore opens (or creates) a Badger database at path.
func NewBadgerLockoutStore(path string) (*BadgerLockoutStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockout store at %s: %w", path, err)
	}
	return &BadgerLockoutStore{db: db}, nil
}

// GetEntry implements LockoutStore.
func (s *BadgerLockoutStore) GetEntry(_ context.Context, subject string) (*LockoutEntry, error) {
	var entry LockoutEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lockoutKeyPrefix + subject))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get lockout entry: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SaveEntry implements LockoutStore.
func (s *BadgerLockoutStore) SaveEntry(_ context.Context, entry *LockoutEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal lockout entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lockoutKeyPrefix+entry.Subject), data)
	})
}

// DeleteEntry implements LockoutStore.
func (s *BadgerLockoutStore) DeleteEntry(_ context.Context, subject string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(lockoutKeyPrefix + subject)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		return txn.Delete(key)
	})
}

// CleanupExpired implements LockoutStore.
func (s *BadgerLockoutStore) CleanupExpired(_ context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Hour)
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(lockoutKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry LockoutEntry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				continue
			}
			if !entry.IsLocked() && entry.LastAttempt.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan lockout entries: %w", err)
	}

	removed := 0
	for _, key := range stale {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close implements LockoutStore.
func (s *BadgerLockoutStore) Close() error {
	return s.db.Close()
}
