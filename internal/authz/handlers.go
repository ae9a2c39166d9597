// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package authz

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/opsmesh/cmdbd/internal/auth"
	"github.com/opsmesh/cmdbd/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Synchronizer pushes relational superuser flags into the policy
// engine. Implemented by the rbac service.
type Synchronizer interface {
	SyncSuperusers(ctx context.Context) (int, error)
}

// Handlers provides the policy administration endpoints.
type Handlers struct {
	enforcer *Enforcer
	syncer   Synchronizer

	// onRoleChange, if non-nil, runs after a successful engine role
	// grant or revocation so relational state can follow.
	onRoleChange func(ctx context.Context, user, role string, granted bool)
}

// NewHandlers creates the policy administration handler set.
func NewHandlers(enforcer *Enforcer, syncer Synchronizer,
	onRoleChange func(ctx context.Context, user, role string, granted bool)) *Handlers {
	return &Handlers{enforcer: enforcer, syncer: syncer, onRoleChange: onRoleChange}
}

// Routes mounts the administration endpoints. Every route re-checks
// superuser status even though the enforcement middleware already ran;
// policy administration must not depend on the policy being correct.
func (h *Handlers) Routes(r chi.Router) {
	r.Use(RequireSuperuser)
	r.Get("/policies", h.ListPolicies)
	r.Post("/policies", h.AddPolicy)
	r.Delete("/policies", h.RemovePolicy)
	r.Get("/roles", h.ListRoles)
	r.Post("/users/roles", h.AddUserRole)
	r.Delete("/users/roles", h.RemoveUserRole)
	r.Get("/users/{username}/roles", h.GetUserRoles)
	r.Post("/check", h.Check)
	r.Post("/sync", h.Sync)
	r.Post("/initialize", h.Initialize)
	r.Post("/reload", h.Reload)
}

// RequireSuperuser rejects non-superuser subjects with 403.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := auth.SubjectFromContext(r.Context())
		if !subject.IsSuperuser {
			writeForbidden(w, "superuser required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type policyRequest struct {
	Subject string `json:"subject" validate:"required,max=255"`
	Object  string `json:"object" validate:"required,max=512"`
	Action  string `json:"action" validate:"required,max=64"`
}

type userRoleRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Role     string `json:"role" validate:"required,max=255"`
}

// ListPolicies returns all permission and grouping rules.
// GET /admin/casbin/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.enforcer.GetAllPolicies()
	if err != nil {
		h.internalError(w, r, err, "Failed to list policies")
		return
	}
	groupings, err := h.enforcer.GetGroupingPolicies()
	if err != nil {
		h.internalError(w, r, err, "Failed to list grouping policies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies":          policies,
		"grouping_policies": groupings,
	})
}

// AddPolicy adds a permission rule. Adding an existing rule is a 400:
// the caller's view of the policy is stale and should be refreshed.
// POST /admin/casbin/policies
func (h *Handlers) AddPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !decodeValid(w, r, &req) {
		return
	}
	added, err := h.enforcer.AddPolicy(req.Subject, req.Object, req.Action)
	if err != nil {
		h.internalError(w, r, err, "Failed to add policy")
		return
	}
	if !added {
		writeError(w, http.StatusBadRequest, "policy already exists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "policy added"})
}

// RemovePolicy removes a permission rule; removing a missing rule is a 400.
// DELETE /admin/casbin/policies
func (h *Handlers) RemovePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !decodeValid(w, r, &req) {
		return
	}
	removed, err := h.enforcer.RemovePolicy(req.Subject, req.Object, req.Action)
	if err != nil {
		h.internalError(w, r, err, "Failed to remove policy")
		return
	}
	if !removed {
		writeError(w, http.StatusBadRequest, "policy does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "policy removed"})
}

// ListRoles returns every role known to the engine.
// GET /admin/casbin/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.enforcer.GetAllRoles()
	if err != nil {
		h.internalError(w, r, err, "Failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// AddUserRole grants a role to a user in the engine.
// POST /admin/casbin/users/roles
func (h *Handlers) AddUserRole(w http.ResponseWriter, r *http.Request) {
	var req userRoleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	added, err := h.enforcer.AddRoleForUser(req.Username, req.Role)
	if err != nil {
		h.internalError(w, r, err, "Failed to add role")
		return
	}
	if !added {
		writeError(w, http.StatusBadRequest, "user already has role")
		return
	}
	if h.onRoleChange != nil {
		h.onRoleChange(r.Context(), req.Username, req.Role, true)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role added"})
}

// RemoveUserRole revokes a role from a user in the engine.
// DELETE /admin/casbin/users/roles
func (h *Handlers) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	var req userRoleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	removed, err := h.enforcer.DeleteRoleForUser(req.Username, req.Role)
	if err != nil {
		h.internalError(w, r, err, "Failed to remove role")
		return
	}
	if !removed {
		writeError(w, http.StatusBadRequest, "user does not have role")
		return
	}
	if h.onRoleChange != nil {
		h.onRoleChange(r.Context(), req.Username, req.Role, false)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role removed"})
}

// GetUserRoles returns the roles a user holds in the engine.
// GET /admin/casbin/users/{username}/roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	roles, err := h.enforcer.GetRolesForUser(username)
	if err != nil {
		h.internalError(w, r, err, "Failed to get roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "roles": roles})
}

// Check evaluates a policy decision without side effects.
// POST /admin/casbin/check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !decodeValid(w, r, &req) {
		return
	}
	allowed, err := h.enforcer.Enforce(req.Subject, req.Object, req.Action)
	if err != nil {
		h.internalError(w, r, err, "Failed to check policy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

// Sync pushes relational superusers into the policy engine and reports
// how many accounts were newly granted the admin role.
// POST /admin/casbin/sync
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	synced, err := h.syncer.SyncSuperusers(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Superuser sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}

// Initialize loads the default policy set into an empty store.
// POST /admin/casbin/initialize
func (h *Handlers) Initialize(w http.ResponseWriter, r *http.Request) {
	added, err := h.enforcer.InitializeDefaultPolicies()
	if err != nil {
		h.internalError(w, r, err, "Policy initialization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

// Reload discards the in-memory model and reloads from storage.
// POST /admin/casbin/reload
func (h *Handlers) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.enforcer.Reload(); err != nil {
		h.internalError(w, r, err, "Policy reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "policy reloaded"})
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logging.Ctx(r.Context()).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeValid(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
