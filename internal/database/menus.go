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

const menuColumns = `id, name, title, coalesce(path, ''), coalesce(component, ''),
	parent_id, sort, level, coalesce(icon, ''), is_visible, is_enabled,
	coalesce(permission_code, '')`

func scanMenu(row interface{ Scan(...any) error }) (*models.Menu, error) {
	m := &models.Menu{}
	var parentID sql.NullInt64
	err := row.Scan(&m.ID, &m.Name, &m.Title, &m.Path, &m.Component,
		&parentID, &m.Sort, &m.Level, &m.Icon, &m.IsVisible, &m.IsEnabled,
		&m.PermissionCode)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		m.ParentID = &parentID.Int64
	}
	return m, nil
}

// CreateMenu inserts a menu node. The caller is responsible for having
// computed Level from the parent.
func (db *DB) CreateMenu(ctx context.Context, m *models.Menu) (*models.Menu, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var parentID any
	if m.ParentID != nil {
		parentID = *m.ParentID
	}
	row := db.conn.QueryRowContext(ctx,
		`INSERT INTO menus (name, title, path, component, parent_id, sort, level, icon, is_visible, is_enabled, permission_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+menuColumns,
		m.Name, m.Title, nullable(m.Path), nullable(m.Component), parentID,
		m.Sort, m.Level, nullable(m.Icon), m.IsVisible, m.IsEnabled,
		nullable(m.PermissionCode))
	created, err := scanMenu(row)
	if err != nil {
		if isConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create menu %s: %w", m.Name, err)
	}
	return created, nil
}

// GetMenuByID returns the menu node with the given id, or ErrNotFound.
func (db *DB) GetMenuByID(ctx context.Context, id int64) (*models.Menu, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+menuColumns+` FROM menus WHERE id = ?`, id)
	m, err := scanMenu(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu %d: %w", id, err)
	}
	return m, nil
}

// ListMenus returns every menu node ordered by sort then id.
func (db *DB) ListMenus(ctx context.Context) ([]*models.Menu, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+menuColumns+` FROM menus ORDER BY sort, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menus: %w", err)
	}
	defer rows.Close()

	var menus []*models.Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

// ListMenuChildren returns the direct children of a menu node.
func (db *DB) ListMenuChildren(ctx context.Context, parentID int64) ([]*models.Menu, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+menuColumns+` FROM menus WHERE parent_id = ? ORDER BY sort, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var menus []*models.Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

// UpdateMenu persists a full menu node update, including reparenting.
func (db *DB) UpdateMenu(ctx context.Context, m *models.Menu) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var parentID any
	if m.ParentID != nil {
		parentID = *m.ParentID
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE menus SET name = ?, title = ?, path = ?, component = ?, parent_id = ?,
		 sort = ?, level = ?, icon = ?, is_visible = ?, is_enabled = ?, permission_code = ?
		 WHERE id = ?`,
		m.Name, m.Title, nullable(m.Path), nullable(m.Component), parentID,
		m.Sort, m.Level, nullable(m.Icon), m.IsVisible, m.IsEnabled,
		nullable(m.PermissionCode), m.ID)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update menu %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMenuSubtree removes a menu node and all of its descendants.
func (db *DB) DeleteMenuSubtree(ctx context.Context, id int64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT id FROM menus WHERE id = ?
			UNION ALL
			SELECT m.id FROM menus m JOIN subtree s ON m.parent_id = s.id
		)
		DELETE FROM menus WHERE id IN (SELECT id FROM subtree)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete menu subtree %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
