// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package supervisor

import (
	"context"
	"time"

	"github.com/opsmesh/cmdbd/internal/logging"
)

// PolicyReloader reloads the in-memory policy state from the store.
type PolicyReloader interface {
	Reload() error
}

// PolicyReloadService periodically refreshes the policy engine from
// the backing store. This picks up rows written by other processes or
// by direct database maintenance; the engine's own mutations are
// write-through and do not depend on it.
type PolicyReloadService struct {
	reloader PolicyReloader
	interval time.Duration
}

// NewPolicyReloadService creates the reload loop. A non-positive
// interval falls back to 5 minutes.
func NewPolicyReloadService(reloader PolicyReloader, interval time.Duration) *PolicyReloadService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PolicyReloadService{reloader: reloader, interval: interval}
}

// Serve implements suture.Service. Reload failures are logged and
// retried on the next tick; the stale in-memory policy keeps serving.
func (s *PolicyReloadService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.reloader.Reload(); err != nil {
				logging.Error().Err(err).Msg("Policy reload failed")
				continue
			}
			logging.Debug().Msg("Policy engine reloaded from store")
		}
	}
}

func (s *PolicyReloadService) String() string {
	return "policy-reload"
}
