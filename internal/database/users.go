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
	"strings"
	"time"

	"github.com/opsmesh/cmdbd/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint is violated.
var ErrDuplicate = errors.New("already exists")

const userColumns = `id, username, email, password_hash, coalesce(full_name, ''), is_active, is_superuser, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName,
		&u.IsActive, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a new account and returns it with its assigned id.
func (db *DB) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	row := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, full_name, is_active, is_superuser)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+userColumns,
		u.Username, u.Email, u.PasswordHash, nullable(u.FullName), u.IsActive, u.IsSuperuser)
	created, err := scanUser(row)
	if err != nil {
		if isConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}
	return created, nil
}

// GetUserByID returns the account with the given id, or ErrNotFound.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername returns the account with the given username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByUsernameOrEmail returns the account matching either column.
// Tokens minted by the legacy issuer carry a username or email in the
// subject claim, so the resolver falls back to this lookup.
func (db *DB) GetUserByUsernameOrEmail(ctx context.Context, ident string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ?`, ident, ident)
	return scanUser(row)
}

// ListSuperusers returns every account flagged superuser.
func (db *DB) ListSuperusers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_superuser ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list superusers: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetSuperuser toggles the superuser flag for an account.
func (db *DB) SetSuperuser(ctx context.Context, username string, isSuperuser bool) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_superuser = ?, updated_at = ? WHERE username = ?`,
		isSuperuser, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to update superuser flag for %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces an account's stored hash. Used for lazy
// migration: a successful legacy-scheme verification rehashes with the
// primary scheme.
func (db *DB) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of accounts.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isConstraintErr reports whether err looks like a uniqueness violation.
// DuckDB surfaces these as generic errors, so match on the message.
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") ||
		strings.Contains(msg, "Duplicate key") ||
		strings.Contains(msg, "violates")
}
