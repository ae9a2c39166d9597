// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handlers exposes the relational role endpoints.
type Handlers struct {
	service *Service
}

// NewHandlers creates the role handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Routes mounts the role endpoints.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/", h.ListRoles)
	r.Post("/", h.CreateRole)
	r.Put("/{id}", h.RenameRole)
	r.Delete("/{id}", h.DeleteRole)
	r.Get("/{id}/permissions", h.PermissionsForRole)
	r.Post("/{id}/permissions", h.GrantPermission)
	r.Delete("/{id}/permissions/{code}", h.RevokePermission)
}

// PermissionRoutes mounts the permission catalog endpoints.
func (h *Handlers) PermissionRoutes(r chi.Router) {
	r.Get("/", h.ListPermissions)
	r.Post("/", h.CreatePermission)
	r.Delete("/{id}", h.DeletePermission)
}

// UserRoutes mounts the per-user role assignment endpoints.
func (h *Handlers) UserRoutes(r chi.Router) {
	r.Get("/{username}/roles", h.RolesForUser)
	r.Post("/{username}/roles", h.AssignRole)
	r.Delete("/{username}/roles/{role}", h.RemoveRole)
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=512"`
}

type assignRequest struct {
	Role string `json:"role" validate:"required,max=128"`
}

type permissionRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Code        string `json:"code" validate:"required,max=128"`
	Description string `json:"description" validate:"max=512"`
}

type grantRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

// ListRoles returns all relational roles.
// GET /api/v1/roles/
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// CreateRole creates a relational role.
// POST /api/v1/roles/
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "role already exists")
			return
		}
		h.internalError(w, r, err, "Failed to create role")
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// RenameRole updates a role's name and description.
// PUT /api/v1/roles/{id}
func (h *Handlers) RenameRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req roleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.service.RenameRole(r.Context(), id, req.Name, req.Description); err != nil {
		if errors.Is(err, ErrProtectedRole) {
			writeError(w, http.StatusBadRequest, "the admin role cannot be renamed")
			return
		}
		h.internalError(w, r, err, "Failed to rename role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role updated"})
}

// DeleteRole removes a role.
// DELETE /api/v1/roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, ErrProtectedRole) {
			writeError(w, http.StatusBadRequest, "the admin role cannot be deleted")
			return
		}
		h.internalError(w, r, err, "Failed to delete role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role deleted"})
}

// ListPermissions returns the permission catalog.
// GET /api/v1/permissions/
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to list permissions")
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// CreatePermission creates a permission record.
// POST /api/v1/permissions/
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !decodeValid(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Code, req.Description)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "permission already exists")
			return
		}
		h.internalError(w, r, err, "Failed to create permission")
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

// DeletePermission removes a permission and its role grants.
// DELETE /api/v1/permissions/{id}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid permission id")
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "permission not found")
			return
		}
		h.internalError(w, r, err, "Failed to delete permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "permission deleted"})
}

// PermissionsForRole returns the permissions attached to a role.
// GET /api/v1/roles/{id}/permissions
func (h *Handlers) PermissionsForRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	perms, err := h.service.PermissionsForRole(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err, "Failed to list role permissions")
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// GrantPermission attaches a permission to a role by code.
// POST /api/v1/roles/{id}/permissions
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req grantRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.service.GrantPermission(r.Context(), id, req.Code); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role or permission not found")
			return
		}
		h.internalError(w, r, err, "Failed to grant permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "permission granted"})
}

// RevokePermission detaches a permission from a role.
// DELETE /api/v1/roles/{id}/permissions/{code}
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.service.RevokePermission(r.Context(), id, code); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "permission not found")
			return
		}
		h.internalError(w, r, err, "Failed to revoke permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "permission revoked"})
}

// RolesForUser returns the relational roles a user holds.
// GET /api/v1/users/{username}/roles
func (h *Handlers) RolesForUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	roles, err := h.service.RolesForUser(r.Context(), username)
	if err != nil {
		h.internalError(w, r, err, "Failed to list user roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": username, "roles": roles})
}

// AssignRole grants a role to a user in both layers.
// POST /api/v1/users/{username}/roles
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req assignRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.service.AssignRole(r.Context(), username, req.Role); err != nil {
		h.internalError(w, r, err, "Failed to assign role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role assigned"})
}

// RemoveRole revokes a role from a user in both layers.
// DELETE /api/v1/users/{username}/roles/{role}
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	role := chi.URLParam(r, "role")
	if err := h.service.RemoveRole(r.Context(), username, role); err != nil {
		h.internalError(w, r, err, "Failed to remove role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "role removed"})
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
