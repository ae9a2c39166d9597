// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"net/http"

	"github.com/opsmesh/cmdbd/internal/logging"
)

// Middleware resolves the request identity and stores it on the
// context. It never rejects: requests without valid credentials
// proceed as Anonymous, and the authorization layer decides what an
// anonymous subject may reach.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := resolver.Resolve(r)
			if !subject.IsAnonymous() {
				logging.Ctx(r.Context()).Debug().
					Str("subject", logging.SanitizeSubject(subject.Name)).
					Str("source", string(subject.Source)).
					Msg("Request authenticated")
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}
