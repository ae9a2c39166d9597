// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package menu

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/opsmesh/cmdbd/internal/auth"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handlers exposes the menu tree endpoints.
type Handlers struct {
	service *Service
}

// NewHandlers creates the menu handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Routes mounts the menu endpoints.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/tree", h.VisibleTree)
	r.Get("/", h.FullTree)
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

type menuRequest struct {
	Name           string `json:"name" validate:"required,max=128"`
	Title          string `json:"title" validate:"required,max=255"`
	Path           string `json:"path" validate:"max=512"`
	Component      string `json:"component" validate:"max=255"`
	ParentID       *int64 `json:"parent_id"`
	Sort           int    `json:"sort"`
	Icon           string `json:"icon" validate:"max=128"`
	IsVisible      *bool  `json:"is_visible"`
	IsEnabled      *bool  `json:"is_enabled"`
	PermissionCode string `json:"permission_code" validate:"max=128"`
}

func (req *menuRequest) toModel() *models.Menu {
	m := &models.Menu{
		Name:           req.Name,
		Title:          req.Title,
		Path:           req.Path,
		Component:      req.Component,
		ParentID:       req.ParentID,
		Sort:           req.Sort,
		Icon:           req.Icon,
		IsVisible:      true,
		IsEnabled:      true,
		PermissionCode: req.PermissionCode,
	}
	if req.IsVisible != nil {
		m.IsVisible = *req.IsVisible
	}
	if req.IsEnabled != nil {
		m.IsEnabled = *req.IsEnabled
	}
	return m
}

// VisibleTree returns the tree the current account may see.
// GET /api/v1/menus/tree
func (h *Handlers) VisibleTree(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	tree, err := h.service.VisibleTree(r.Context(), subject.UserID, subject.IsSuperuser)
	if err != nil {
		h.internalError(w, r, err, "Failed to build menu tree")
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// FullTree returns the unfiltered tree for administration.
// GET /api/v1/menus/
func (h *Handlers) FullTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.Tree(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to build menu tree")
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// Create adds a menu node.
// POST /api/v1/menus/
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req menuRequest
	if !decodeValid(w, r, &req) {
		return
	}
	created, err := h.service.Create(r.Context(), req.toModel())
	if err != nil {
		if errors.Is(err, ErrDepthExceeded) {
			writeError(w, http.StatusBadRequest, "menu depth limit exceeded")
			return
		}
		h.internalError(w, r, err, "Failed to create menu")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update modifies a menu node, including reparenting.
// PUT /api/v1/menus/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid menu id")
		return
	}
	var req menuRequest
	if !decodeValid(w, r, &req) {
		return
	}
	m := req.toModel()
	m.ID = id
	if err := h.service.Update(r.Context(), m); err != nil {
		switch {
		case errors.Is(err, ErrCycle):
			writeError(w, http.StatusBadRequest, "reparent would create a cycle")
		case errors.Is(err, ErrDepthExceeded):
			writeError(w, http.StatusBadRequest, "menu depth limit exceeded")
		default:
			h.internalError(w, r, err, "Failed to update menu")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "menu updated"})
}

// Delete removes a node and its subtree.
// DELETE /api/v1/menus/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid menu id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.internalError(w, r, err, "Failed to delete menu")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "menu deleted"})
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
