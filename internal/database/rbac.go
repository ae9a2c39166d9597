// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opsmesh/cmdbd/internal/models"
)

// CreateRole inserts a role. Returns ErrDuplicate if the name is taken.
func (db *DB) CreateRole(ctx context.Context, name, description string) (*models.Role, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	r := &models.Role{}
	var desc sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO roles (name, description) VALUES (?, ?)
		 RETURNING id, name, description`,
		name, nullable(description)).Scan(&r.ID, &r.Name, &desc)
	if err != nil {
		if isConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create role %s: %w", name, err)
	}
	r.Description = desc.String
	return r, nil
}

// GetRoleByName returns the role with the given name, or ErrNotFound.
func (db *DB) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	r := &models.Role{}
	var desc sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, description FROM roles WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %s: %w", name, err)
	}
	r.Description = desc.String
	return r, nil
}

// ListRoles returns all roles ordered by id.
func (db *DB) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, description FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r := &models.Role{}
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.Description = desc.String
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// RenameRole updates a role's name and description.
func (db *DB) RenameRole(ctx context.Context, id int64, name, description string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE roles SET name = ?, description = ? WHERE id = ?`,
		name, nullable(description), id)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to rename role %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role and its join rows.
func (db *DB) DeleteRole(ctx context.Context, id int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_role WHERE role_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete user_role rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permission WHERE role_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete role_permission rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// CreatePermission inserts a permission. Returns ErrDuplicate on a name
// or code collision.
func (db *DB) CreatePermission(ctx context.Context, p *models.Permission) (*models.Permission, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	created := &models.Permission{}
	var desc sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO permissions (name, code, description, is_active) VALUES (?, ?, ?, ?)
		 RETURNING id, name, code, description, is_active`,
		p.Name, p.Code, nullable(p.Description), p.IsActive).
		Scan(&created.ID, &created.Name, &created.Code, &desc, &created.IsActive)
	if err != nil {
		if isConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create permission %s: %w", p.Code, err)
	}
	created.Description = desc.String
	return created, nil
}

// GetPermissionByCode returns the permission with the given code.
func (db *DB) GetPermissionByCode(ctx context.Context, code string) (*models.Permission, error) {
	p := &models.Permission{}
	var desc sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, code, description, is_active FROM permissions WHERE code = ?`, code).
		Scan(&p.ID, &p.Name, &p.Code, &desc, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission %s: %w", code, err)
	}
	p.Description = desc.String
	return p, nil
}

// ListPermissions returns all permissions ordered by id.
func (db *DB) ListPermissions(ctx context.Context) ([]*models.Permission, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, code, description, is_active FROM permissions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*models.Permission
	for rows.Next() {
		p := &models.Permission{}
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &desc, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// DeletePermission removes a permission and its join rows.
func (db *DB) DeletePermission(ctx context.Context, id int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM role_permission WHERE permission_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete role_permission rows: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM permissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUserRole links a user to a role. Idempotent: linking an existing
// pair is a no-op success.
func (db *DB) AddUserRole(ctx context.Context, userID, roleID int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_role (user_id, role_id) VALUES (?, ?)
		 ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to add user_role (%d, %d): %w", userID, roleID, err)
	}
	return nil
}

// RemoveUserRole unlinks a user from a role. Removing a missing pair is
// a no-op success.
func (db *DB) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_role WHERE user_id = ? AND role_id = ?`, userID, roleID); err != nil {
		return fmt.Errorf("failed to remove user_role (%d, %d): %w", userID, roleID, err)
	}
	return nil
}

// AddRolePermission links a role to a permission, idempotently.
func (db *DB) AddRolePermission(ctx context.Context, roleID, permissionID int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO role_permission (role_id, permission_id) VALUES (?, ?)
		 ON CONFLICT DO NOTHING`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to add role_permission (%d, %d): %w", roleID, permissionID, err)
	}
	return nil
}

// RemoveRolePermission unlinks a role from a permission.
func (db *DB) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM role_permission WHERE role_id = ? AND permission_id = ?`, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to remove role_permission (%d, %d): %w", roleID, permissionID, err)
	}
	return nil
}

// ListRolesForUser returns the roles linked to an account.
func (db *DB) ListRolesForUser(ctx context.Context, userID int64) ([]*models.Role, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT r.id, r.name, r.description FROM roles r
		 JOIN user_role ur ON ur.role_id = r.id
		 WHERE ur.user_id = ? ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for user %d: %w", userID, err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r := &models.Role{}
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.Description = desc.String
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListPermissionsForRole returns the permissions linked to a role.
func (db *DB) ListPermissionsForRole(ctx context.Context, roleID int64) ([]*models.Permission, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.id, p.name, p.code, p.description, p.is_active FROM permissions p
		 JOIN role_permission rp ON rp.permission_id = p.id
		 WHERE rp.role_id = ? ORDER BY p.id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions for role %d: %w", roleID, err)
	}
	defer rows.Close()

	var perms []*models.Permission
	for rows.Next() {
		p := &models.Permission{}
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &desc, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListPermissionCodesForUser returns the distinct permission codes an
// account holds through its relational roles. Used by the menu service
// for visibility filtering.
func (db *DB) ListPermissionCodesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT p.code FROM permissions p
		 JOIN role_permission rp ON rp.permission_id = p.id
		 JOIN user_role ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = ? AND p.is_active`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission codes for user %d: %w", userID, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
