// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package authz

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/opsmesh/cmdbd/internal/auth"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/models"
)

// PublicPaths are reachable without any authorization check. Prefix
// entries end with "/".
var PublicPaths = []string{
	"/health",
	"/metrics",
	"/openapi.json",
	"/docs",
	"/docs/",
	"/api/v1/auth/login",
	"/api/v1/auth/logout",
	"/api/v1/auth/register",
	"/api/v1/auth/jwt-cookie/",
}

// IsPublicPath reports whether the path bypasses authorization.
func IsPublicPath(path string) bool {
	for _, p := range PublicPaths {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Middleware enforces the policy engine on every request.
type Middleware struct {
	enforcer *Enforcer
	seclog   *logging.SecurityLogger
}

// NewMiddleware creates the enforcement middleware.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{
		enforcer: enforcer,
		seclog:   logging.NewSecurityLogger(),
	}
}

// Handler authorizes each request against the policy engine. Public
// paths pass through, superusers are always allowed, everything else
// needs a matching policy for (subject, path, action). Denials are 403
// regardless of whether the subject is anonymous; identity resolution
// already ran and degraded, the decision here is purely about policy.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		subject := auth.SubjectFromContext(r.Context())
		action := methodToAction(r.Method)

		if subject.IsSuperuser {
			m.seclog.LogPermission(subject.Name, r.URL.Path, action, true)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		allowed, err := m.enforcer.Enforce(subject.Name, r.URL.Path, action)
		if err == nil && !allowed && !subject.IsAnonymous() {
			// Logged-in subjects also carry the authenticated scope,
			// which grants the baseline endpoints (own profile, menu
			// tree) without a per-user grouping row.
			allowed, err = m.enforcer.Enforce(models.RoleAuthenticated, r.URL.Path, action)
		}
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization check failed")
			writeForbidden(w, "authorization unavailable", http.StatusInternalServerError)
			return
		}
		RecordDecision(subject.Name, action, allowed, time.Since(start))
		m.seclog.LogPermission(subject.Name, r.URL.Path, action, allowed)

		if !allowed {
			writeForbidden(w, "insufficient permissions", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// methodToAction maps HTTP methods to policy actions.
func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "write"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func writeForbidden(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
