// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package rbac coordinates the relational role tables with the policy
// engine. The engine is authoritative for enforcement; this service
// keeps the normalized tables and the engine's grouping rules moving
// together.
package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/models"
)

// ErrProtectedRole is returned for rename or delete of the admin role.
var ErrProtectedRole = errors.New("role is protected")

// Store is the relational surface the service needs.
type Store interface {
	CreateRole(ctx context.Context, name, description string) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	RenameRole(ctx context.Context, id int64, name, description string) error
	DeleteRole(ctx context.Context, id int64) error
	AddUserRole(ctx context.Context, userID, roleID int64) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	ListRolesForUser(ctx context.Context, userID int64) ([]*models.Role, error)
	CreatePermission(ctx context.Context, p *models.Permission) (*models.Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (*models.Permission, error)
	ListPermissions(ctx context.Context) ([]*models.Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	AddRolePermission(ctx context.Context, roleID, permissionID int64) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error
	ListPermissionsForRole(ctx context.Context, roleID int64) ([]*models.Permission, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListSuperusers(ctx context.Context) ([]*models.User, error)
	SetSuperuser(ctx context.Context, username string, super bool) error
}

// Engine is the policy-engine surface the service needs.
type Engine interface {
	AddRoleForUser(user, role string) (bool, error)
	DeleteRoleForUser(user, role string) (bool, error)
	HasRoleForUser(user, role string) (bool, error)
}

// Service keeps relational role state and engine grouping rules in
// step.
type Service struct {
	store  Store
	engine Engine
}

// NewService creates the rbac service.
func NewService(store Store, engine Engine) *Service {
	return &Service{store: store, engine: engine}
}

// CreateRole creates a relational role record.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*models.Role, error) {
	return s.store.CreateRole(ctx, name, description)
}

// EnsureRole returns the named role, creating it if missing. A
// concurrent create racing the lookup resolves to the existing row.
func (s *Service) EnsureRole(ctx context.Context, name, description string) (*models.Role, error) {
	role, err := s.store.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	role, err = s.store.CreateRole(ctx, name, description)
	if errors.Is(err, database.ErrDuplicate) {
		return s.store.GetRoleByName(ctx, name)
	}
	return role, err
}

// ListRoles returns all relational roles.
func (s *Service) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return s.store.ListRoles(ctx)
}

// RenameRole renames a role. The admin role cannot be renamed; every
// superuser grant in the engine points at its name.
func (s *Service) RenameRole(ctx context.Context, id int64, name, description string) error {
	role, err := s.roleByID(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == models.RoleAdmin {
		return ErrProtectedRole
	}
	return s.store.RenameRole(ctx, id, name, description)
}

// DeleteRole deletes a role. The admin role cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.roleByID(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == models.RoleAdmin {
		return ErrProtectedRole
	}
	return s.store.DeleteRole(ctx, id)
}

func (s *Service) roleByID(ctx context.Context, id int64) (*models.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("role %d: %w", id, database.ErrNotFound)
}

// AssignRole grants a role to a user in both the relational tables and
// the engine. Assigning an already-held role succeeds. Granting the
// admin role marks the account superuser.
func (s *Service) AssignRole(ctx context.Context, username, roleName string) error {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to resolve user %s: %w", username, err)
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %s: %w", roleName, err)
	}

	if err := s.store.AddUserRole(ctx, user.ID, role.ID); err != nil {
		return err
	}
	if _, err := s.engine.AddRoleForUser(username, roleName); err != nil {
		return err
	}

	if roleName == models.RoleAdmin && !user.IsSuperuser {
		if err := s.store.SetSuperuser(ctx, username, true); err != nil {
			return fmt.Errorf("failed to mark %s superuser: %w", username, err)
		}
	}
	return nil
}

// RemoveRole revokes a role in both layers. Revoking the admin role
// clears the superuser flag.
func (s *Service) RemoveRole(ctx context.Context, username, roleName string) error {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to resolve user %s: %w", username, err)
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %s: %w", roleName, err)
	}

	if err := s.store.RemoveUserRole(ctx, user.ID, role.ID); err != nil {
		return err
	}
	if _, err := s.engine.DeleteRoleForUser(username, roleName); err != nil {
		return err
	}

	if roleName == models.RoleAdmin && user.IsSuperuser {
		if err := s.store.SetSuperuser(ctx, username, false); err != nil {
			return fmt.Errorf("failed to clear superuser on %s: %w", username, err)
		}
	}
	return nil
}

// CreatePermission creates a permission record. Codes are how menu
// entries reference permissions, so they are unique.
func (s *Service) CreatePermission(ctx context.Context, name, code, description string) (*models.Permission, error) {
	return s.store.CreatePermission(ctx, &models.Permission{
		Name:        name,
		Code:        code,
		Description: description,
		IsActive:    true,
	})
}

// ListPermissions returns all permission records.
func (s *Service) ListPermissions(ctx context.Context) ([]*models.Permission, error) {
	return s.store.ListPermissions(ctx)
}

// DeletePermission removes a permission and its role grants.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.store.DeletePermission(ctx, id)
}

// GrantPermission attaches a permission to a role by code. Granting an
// already-held permission succeeds.
func (s *Service) GrantPermission(ctx context.Context, roleID int64, code string) error {
	if _, err := s.roleByID(ctx, roleID); err != nil {
		return err
	}
	perm, err := s.store.GetPermissionByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to resolve permission %s: %w", code, err)
	}
	return s.store.AddRolePermission(ctx, roleID, perm.ID)
}

// RevokePermission detaches a permission from a role by code.
func (s *Service) RevokePermission(ctx context.Context, roleID int64, code string) error {
	perm, err := s.store.GetPermissionByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to resolve permission %s: %w", code, err)
	}
	return s.store.RemoveRolePermission(ctx, roleID, perm.ID)
}

// PermissionsForRole returns the permissions attached to a role.
func (s *Service) PermissionsForRole(ctx context.Context, roleID int64) ([]*models.Permission, error) {
	return s.store.ListPermissionsForRole(ctx, roleID)
}

// RolesForUser returns the relational roles held by a user.
func (s *Service) RolesForUser(ctx context.Context, username string) ([]*models.Role, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %s: %w", username, err)
	}
	return s.store.ListRolesForUser(ctx, user.ID)
}

// SyncSuperusers grants the admin role in the engine to every
// relational superuser that does not hold it yet, and returns how many
// accounts were newly granted. Individual failures are logged and
// skipped; one broken account must not block the rest.
func (s *Service) SyncSuperusers(ctx context.Context) (int, error) {
	supers, err := s.store.ListSuperusers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list superusers: %w", err)
	}

	synced := 0
	for _, user := range supers {
		has, err := s.engine.HasRoleForUser(user.Username, models.RoleAdmin)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("username", logging.SanitizeSubject(user.Username)).
				Msg("Superuser sync: role check failed")
			continue
		}
		if has {
			continue
		}
		added, err := s.engine.AddRoleForUser(user.Username, models.RoleAdmin)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("username", logging.SanitizeSubject(user.Username)).
				Msg("Superuser sync: grant failed")
			continue
		}
		if added {
			synced++
		}
	}
	if synced > 0 {
		logging.Ctx(ctx).Info().Int("synced", synced).Msg("Superusers synced to policy engine")
	}
	return synced, nil
}

// OnEngineRoleChange mirrors engine-level admin grants into the
// superuser flag. Wired as the callback for the policy administration
// endpoints.
func (s *Service) OnEngineRoleChange(ctx context.Context, username, role string, granted bool) {
	if role != models.RoleAdmin {
		return
	}
	if err := s.store.SetSuperuser(ctx, username, granted); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("username", logging.SanitizeSubject(username)).
			Msg("Failed to update superuser flag")
	}
}
