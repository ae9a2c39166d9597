// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package database provides the embedded DuckDB storage layer for cmdbd:
// account records, the relational RBAC join tables, menu nodes, and the
// casbin_rule policy store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/opsmesh/cmdbd/internal/config"
)

// DB wraps the DuckDB connection and serializes writes. DuckDB allows a
// single writer per database; the write mutex keeps concurrent mutation
// paths (policy adapter, RBAC CRUD) from racing on the connection.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// New opens (or creates) the database at cfg.Path and initializes the
// schema. The parent directory is created if missing.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	// DuckDB is embedded; a small pool avoids writer contention.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// schema is executed at startup. DuckDB sequences stand in for
// auto-increment columns.
var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_users START 1`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_users'),
		username VARCHAR NOT NULL UNIQUE,
		email VARCHAR NOT NULL UNIQUE,
		password_hash VARCHAR NOT NULL,
		full_name VARCHAR,
		is_active BOOLEAN NOT NULL DEFAULT true,
		is_superuser BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,
	`CREATE SEQUENCE IF NOT EXISTS seq_roles START 1`,
	`CREATE TABLE IF NOT EXISTS roles (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_roles'),
		name VARCHAR NOT NULL UNIQUE,
		description VARCHAR
	)`,
	`CREATE SEQUENCE IF NOT EXISTS seq_permissions START 1`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_permissions'),
		name VARCHAR NOT NULL UNIQUE,
		code VARCHAR NOT NULL UNIQUE,
		description VARCHAR,
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS user_role (
		user_id BIGINT NOT NULL,
		role_id BIGINT NOT NULL,
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS role_permission (
		role_id BIGINT NOT NULL,
		permission_id BIGINT NOT NULL,
		PRIMARY KEY (role_id, permission_id)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS seq_menus START 1`,
	`CREATE TABLE IF NOT EXISTS menus (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_menus'),
		name VARCHAR NOT NULL UNIQUE,
		title VARCHAR NOT NULL,
		path VARCHAR,
		component VARCHAR,
		parent_id BIGINT,
		sort INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		icon VARCHAR,
		is_visible BOOLEAN NOT NULL DEFAULT true,
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		permission_code VARCHAR
	)`,
	`CREATE SEQUENCE IF NOT EXISTS seq_casbin_rule START 1`,
	`CREATE TABLE IF NOT EXISTS casbin_rule (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_casbin_rule'),
		ptype VARCHAR NOT NULL,
		v0 VARCHAR NOT NULL DEFAULT '',
		v1 VARCHAR NOT NULL DEFAULT '',
		v2 VARCHAR NOT NULL DEFAULT '',
		v3 VARCHAR NOT NULL DEFAULT '',
		v4 VARCHAR NOT NULL DEFAULT '',
		v5 VARCHAR NOT NULL DEFAULT '',
		UNIQUE (ptype, v0, v1, v2, v3, v4, v5)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_casbin_rule_ptype ON casbin_rule (ptype)`,
}

func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
