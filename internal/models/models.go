// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package models defines the persistent entities shared across cmdbd:
// accounts, the relational RBAC tables, menu nodes, and policy rules.
package models

import "time"

// Well-known role names. RoleAdmin is protected: it cannot be renamed or
// deleted, and granting it through the relational path marks the account
// superuser.
const (
	RoleAdmin         = "admin"
	RoleUserManager   = "user_manager"
	RoleViewer        = "viewer"
	RoleAuthenticated = "authenticated"
)

// User is an account record. Passwords are stored hashed only; the hash
// column accepts both argon2id (current) and bcrypt (legacy) encodings.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a relational RBAC role. The policy engine keeps its own role
// set in grouping rules; this table is the normalized join-table variant.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Permission is a relational RBAC permission, identified by a stable code
// such as "user:read" or "asset:manage".
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// MaxMenuDepth caps the menu tree depth.
const MaxMenuDepth = 5

// Menu is a tree node. Level is derived from the parent chain and is
// never deeper than MaxMenuDepth; PermissionCode gates visibility.
type Menu struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	Path           string `json:"path,omitempty"`
	Component      string `json:"component,omitempty"`
	ParentID       *int64 `json:"parent_id,omitempty"`
	Sort           int    `json:"sort"`
	Level          int    `json:"level"`
	Icon           string `json:"icon,omitempty"`
	IsVisible      bool   `json:"is_visible"`
	IsEnabled      bool   `json:"is_enabled"`
	PermissionCode string `json:"permission_code,omitempty"`
}

// MenuTree is a Menu with resolved children, for tree responses.
type MenuTree struct {
	Menu
	Children []*MenuTree `json:"children,omitempty"`
}

// PolicyRule is one row of the casbin_rule table. Ptype "p" rows are
// policy tuples (V0=subject, V1=object, V2=action); ptype "g" rows are
// grouping tuples (V0=user, V1=role).
type PolicyRule struct {
	Ptype string
	V0    string
	V1    string
	V2    string
	V3    string
	V4    string
	V5    string
}

// Values returns the non-empty rule values after Ptype, in order.
func (r *PolicyRule) Values() []string {
	all := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	out := make([]string, 0, len(all))
	for _, v := range all {
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}
