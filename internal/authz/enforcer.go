// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package authz provides authorization using Casbin: an RBAC policy
// engine backed by the relational policy store, path-based permissions
// with keyMatch wildcards, and the request enforcement middleware.
package authz

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/casbin/casbin/v2/util"

	"github.com/opsmesh/cmdbd/internal/config"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Enforcer wraps the Casbin enforcer. All mutations write through the
// storage adapter before updating the in-memory model, so the store and
// the engine cannot drift.
type Enforcer struct {
	enforcer  *casbin.SyncedEnforcer
	bootstrap string
}

// NewEnforcer creates an enforcer with the embedded model and the given
// storage adapter, and loads the stored policy.
func NewEnforcer(adapter persist.Adapter) (*Enforcer, error) {
	return newEnforcer(adapter, embeddedModel, embeddedPolicy)
}

// NewEnforcerFromConfig is NewEnforcer with optional file overrides for
// the model and the default-policy bootstrap.
func NewEnforcerFromConfig(adapter persist.Adapter, cfg *config.CasbinConfig) (*Enforcer, error) {
	modelText := embeddedModel
	bootstrap := embeddedPolicy
	if cfg != nil && cfg.ModelPath != "" {
		data, err := os.ReadFile(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read casbin model %s: %w", cfg.ModelPath, err)
		}
		modelText = string(data)
	}
	if cfg != nil && cfg.BootstrapPath != "" {
		data, err := os.ReadFile(cfg.BootstrapPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy bootstrap %s: %w", cfg.BootstrapPath, err)
		}
		bootstrap = string(data)
	}
	return newEnforcer(adapter, modelText, bootstrap)
}

func newEnforcer(adapter persist.Adapter, modelText, bootstrap string) (*Enforcer, error) {
	m, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)

	return &Enforcer{enforcer: enforcer, bootstrap: bootstrap}, nil
}

// Enforce checks whether the subject may perform the action on the
// object. Unknown subjects simply match no rules and are denied.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// AddPolicy adds a permission rule. Returns false if the rule already
// exists; storage is only touched for new rules.
func (e *Enforcer) AddPolicy(subject, object, action string) (bool, error) {
	added, err := e.enforcer.AddPolicy(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("failed to add policy: %w", err)
	}
	return added, nil
}

// RemovePolicy removes a permission rule. Returns false if the rule was
// not present.
func (e *Enforcer) RemovePolicy(subject, object, action string) (bool, error) {
	removed, err := e.enforcer.RemovePolicy(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("failed to remove policy: %w", err)
	}
	return removed, nil
}

// AddRoleForUser grants a role. Returns false if already granted.
func (e *Enforcer) AddRoleForUser(user, role string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to add role: %w", err)
	}
	return added, nil
}

// DeleteRoleForUser revokes a role. Returns false if not held.
func (e *Enforcer) DeleteRoleForUser(user, role string) (bool, error) {
	removed, err := e.enforcer.RemoveGroupingPolicy(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}
	return removed, nil
}

// GetRolesForUser returns the roles granted to a user.
func (e *Enforcer) GetRolesForUser(user string) ([]string, error) {
	roles, err := e.enforcer.GetRolesForUser(user)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	return roles, nil
}

// GetUsersForRole returns the users holding a role.
func (e *Enforcer) GetUsersForRole(role string) ([]string, error) {
	users, err := e.enforcer.GetUsersForRole(role)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	return users, nil
}

// HasRoleForUser reports whether the user holds the role.
func (e *Enforcer) HasRoleForUser(user, role string) (bool, error) {
	has, err := e.enforcer.HasRoleForUser(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return has, nil
}

// GetPermissionsForUser returns the permission rules that apply to the
// subject directly or through its roles.
func (e *Enforcer) GetPermissionsForUser(user string) ([][]string, error) {
	perms, err := e.enforcer.GetImplicitPermissionsForUser(user)
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	return perms, nil
}

// GetAllPolicies returns every permission rule.
func (e *Enforcer) GetAllPolicies() ([][]string, error) {
	policies, err := e.enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to get policies: %w", err)
	}
	return policies, nil
}

// GetGroupingPolicies returns every role assignment rule.
func (e *Enforcer) GetGroupingPolicies() ([][]string, error) {
	policies, err := e.enforcer.GetGroupingPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to get grouping policies: %w", err)
	}
	return policies, nil
}

// GetAllRoles returns the union of permission-rule subjects and the
// role positions of grouping rules, sorted. A role mentioned only as a
// grant target still counts.
func (e *Enforcer) GetAllRoles() ([]string, error) {
	seen := make(map[string]struct{})

	policies, err := e.GetAllPolicies()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if len(p) > 0 {
			seen[p[0]] = struct{}{}
		}
	}

	groupings, err := e.GetGroupingPolicies()
	if err != nil {
		return nil, err
	}
	for _, g := range groupings {
		if len(g) > 1 {
			seen[g[1]] = struct{}{}
		}
	}

	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles, nil
}

// InitializeDefaultPolicies loads the embedded policy bootstrap. It is
// a no-op when any policy already exists, so it never clobbers a
// configured deployment. Returns the number of rules added.
func (e *Enforcer) InitializeDefaultPolicies() (int, error) {
	existing, err := e.GetAllPolicies()
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	added := 0
	for _, line := range strings.Split(e.bootstrap, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) < 4 {
				continue
			}
			ok, err := e.AddPolicy(parts[1], parts[2], parts[3])
			if err != nil {
				return added, fmt.Errorf("failed to load default policy %v: %w", parts[1:], err)
			}
			if ok {
				added++
			}
		case "g":
			if len(parts) < 3 {
				continue
			}
			ok, err := e.AddRoleForUser(parts[1], parts[2])
			if err != nil {
				return added, fmt.Errorf("failed to load default grouping %v: %w", parts[1:], err)
			}
			if ok {
				added++
			}
		}
	}
	return added, nil
}

// Reload discards the in-memory model and reloads from storage.
func (e *Enforcer) Reload() error {
	if err := e.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	return nil
}

// MatchesObject reports whether a request path matches a policy object
// pattern, using the same keyMatch semantics as the enforcement
// matcher.
func MatchesObject(requestPath, pattern string) bool {
	return util.KeyMatch(requestPath, pattern)
}
