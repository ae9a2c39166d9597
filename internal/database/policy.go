// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package database

import (
	"context"
	"fmt"

	"github.com/opsmesh/cmdbd/internal/models"
)

// LoadAllRules returns every policy rule, ordered for stable reloads.
func (db *DB) LoadAllRules(ctx context.Context) ([]*models.PolicyRule, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT ptype, v0, v1, v2, v3, v4, v5 FROM casbin_rule ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.PolicyRule
	for rows.Next() {
		r := &models.PolicyRule{}
		if err := rows.Scan(&r.Ptype, &r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5); err != nil {
			return nil, fmt.Errorf("failed to scan policy rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ReplaceAllRules swaps the full rule set in one transaction. Used by
// full save-policy writes.
func (db *DB) ReplaceAllRules(ctx context.Context, rules []*models.PolicyRule) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM casbin_rule`); err != nil {
		return fmt.Errorf("failed to clear policy rules: %w", err)
	}
	for _, r := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO casbin_rule (ptype, v0, v1, v2, v3, v4, v5) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Ptype, r.V0, r.V1, r.V2, r.V3, r.V4, r.V5); err != nil {
			return fmt.Errorf("failed to insert policy rule: %w", err)
		}
	}
	return tx.Commit()
}

// InsertRule adds one rule. Inserting an existing rule is a no-op
// success; the unique constraint over all value columns dedupes.
func (db *DB) InsertRule(ctx context.Context, r *models.PolicyRule) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO casbin_rule (ptype, v0, v1, v2, v3, v4, v5) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		r.Ptype, r.V0, r.V1, r.V2, r.V3, r.V4, r.V5); err != nil {
		return fmt.Errorf("failed to insert policy rule: %w", err)
	}
	return nil
}

// DeleteRule removes one exact rule. Deleting a missing rule is a
// no-op success.
func (db *DB) DeleteRule(ctx context.Context, r *models.PolicyRule) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM casbin_rule
		 WHERE ptype = ? AND v0 = ? AND v1 = ? AND v2 = ? AND v3 = ? AND v4 = ? AND v5 = ?`,
		r.Ptype, r.V0, r.V1, r.V2, r.V3, r.V4, r.V5); err != nil {
		return fmt.Errorf("failed to delete policy rule: %w", err)
	}
	return nil
}

// DeleteFilteredRules removes rules of the given ptype whose value
// columns, starting at fieldIndex, match the given values. Empty filter
// values match any column, mirroring casbin's RemoveFilteredPolicy.
func (db *DB) DeleteFilteredRules(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	query := `DELETE FROM casbin_rule WHERE ptype = ?`
	args := []any{ptype}
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		query += fmt.Sprintf(` AND v%d = ?`, fieldIndex+i)
		args = append(args, v)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete filtered policy rules: %w", err)
	}
	return nil
}

// CountRules returns the number of stored policy rules.
func (db *DB) CountRules(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM casbin_rule`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count policy rules: %w", err)
	}
	return n, nil
}
