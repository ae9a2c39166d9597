// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/opsmesh/cmdbd/internal/config"
	"github.com/opsmesh/cmdbd/internal/models"
)

// setupDB opens a fresh on-disk database in a temp dir and registers cleanup.
func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustCreateUser(t *testing.T, db *DB, username, email string) *models.User {
	t.Helper()
	u, err := db.CreateUser(context.Background(), &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: "x",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return u
}

func mustCreateRole(t *testing.T, db *DB, name string) *models.Role {
	t.Helper()
	r, err := db.CreateRole(context.Background(), name, "")
	if err != nil {
		t.Fatalf("CreateRole(%s) error = %v", name, err)
	}
	return r
}

func TestCreateUserDuplicate(t *testing.T) {
	db := setupDB(t)
	mustCreateUser(t, db, "alice", "alice@example.com")

	_, err := db.CreateUser(context.Background(), &models.User{
		Username:     "alice",
		Email:        "other@example.com",
		PasswordHash: "x",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("CreateUser() duplicate username error = %v, want ErrDuplicate", err)
	}
}

func TestGetUserByUsernameOrEmail(t *testing.T) {
	db := setupDB(t)
	created := mustCreateUser(t, db, "bob", "bob@example.com")
	ctx := context.Background()

	tests := []struct {
		name  string
		ident string
	}{
		{"by username", "bob"},
		{"by email", "bob@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := db.GetUserByUsernameOrEmail(ctx, tt.ident)
			if err != nil {
				t.Fatalf("GetUserByUsernameOrEmail(%s) error = %v", tt.ident, err)
			}
			if u.ID != created.ID {
				t.Errorf("ID = %d, want %d", u.ID, created.ID)
			}
		})
	}

	if _, err := db.GetUserByUsernameOrEmail(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}
}

func TestSetSuperuser(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, "carol", "carol@example.com")

	if err := db.SetSuperuser(ctx, "carol", true); err != nil {
		t.Fatalf("SetSuperuser() error = %v", err)
	}
	u, err := db.GetUserByUsername(ctx, "carol")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if !u.IsSuperuser {
		t.Error("IsSuperuser = false, want true")
	}

	supers, err := db.ListSuperusers(ctx)
	if err != nil {
		t.Fatalf("ListSuperusers() error = %v", err)
	}
	if len(supers) != 1 || supers[0].Username != "carol" {
		t.Errorf("ListSuperusers() = %v, want [carol]", supers)
	}

	if err := db.SetSuperuser(ctx, "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSuperuser(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestUserRoleIdempotence(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "dave", "dave@example.com")
	r := mustCreateRole(t, db, "viewer")

	// Adding the same pair twice must not fail.
	for i := 0; i < 2; i++ {
		if err := db.AddUserRole(ctx, u.ID, r.ID); err != nil {
			t.Fatalf("AddUserRole() attempt %d error = %v", i+1, err)
		}
	}
	roles, err := db.ListRolesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRolesForUser() error = %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("ListRolesForUser() len = %d, want 1", len(roles))
	}

	// Removing twice must not fail either.
	for i := 0; i < 2; i++ {
		if err := db.RemoveUserRole(ctx, u.ID, r.ID); err != nil {
			t.Fatalf("RemoveUserRole() attempt %d error = %v", i+1, err)
		}
	}
	roles, err = db.ListRolesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRolesForUser() error = %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("ListRolesForUser() len = %d, want 0", len(roles))
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "erin", "erin@example.com")
	r := mustCreateRole(t, db, "operator")
	p, err := db.CreatePermission(ctx, &models.Permission{Name: "Read users", Code: "user:read", IsActive: true})
	if err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}
	if err := db.AddUserRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("AddUserRole() error = %v", err)
	}
	if err := db.AddRolePermission(ctx, r.ID, p.ID); err != nil {
		t.Fatalf("AddRolePermission() error = %v", err)
	}

	if err := db.DeleteRole(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRole() error = %v", err)
	}
	roles, err := db.ListRolesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRolesForUser() error = %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("user still holds %d roles after role deletion", len(roles))
	}
}

func TestListPermissionCodesForUser(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "frank", "frank@example.com")
	r := mustCreateRole(t, db, "auditor")

	active, err := db.CreatePermission(ctx, &models.Permission{Name: "Read audit", Code: "audit:read", IsActive: true})
	if err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}
	inactive, err := db.CreatePermission(ctx, &models.Permission{Name: "Purge audit", Code: "audit:purge", IsActive: false})
	if err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}
	for _, pid := range []int64{active.ID, inactive.ID} {
		if err := db.AddRolePermission(ctx, r.ID, pid); err != nil {
			t.Fatalf("AddRolePermission() error = %v", err)
		}
	}
	if err := db.AddUserRole(ctx, u.ID, r.ID); err != nil {
		t.Fatalf("AddUserRole() error = %v", err)
	}

	codes, err := db.ListPermissionCodesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListPermissionCodesForUser() error = %v", err)
	}
	if len(codes) != 1 || codes[0] != "audit:read" {
		t.Errorf("codes = %v, want [audit:read] (inactive permissions excluded)", codes)
	}
}

func TestMenuSubtreeDelete(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	root, err := db.CreateMenu(ctx, &models.Menu{Name: "system", Title: "System", Level: 1, IsVisible: true, IsEnabled: true})
	if err != nil {
		t.Fatalf("CreateMenu(root) error = %v", err)
	}
	child, err := db.CreateMenu(ctx, &models.Menu{Name: "users", Title: "Users", ParentID: &root.ID, Level: 2, IsVisible: true, IsEnabled: true})
	if err != nil {
		t.Fatalf("CreateMenu(child) error = %v", err)
	}
	if _, err := db.CreateMenu(ctx, &models.Menu{Name: "detail", Title: "Detail", ParentID: &child.ID, Level: 3, IsVisible: true, IsEnabled: true}); err != nil {
		t.Fatalf("CreateMenu(grandchild) error = %v", err)
	}

	if err := db.DeleteMenuSubtree(ctx, root.ID); err != nil {
		t.Fatalf("DeleteMenuSubtree() error = %v", err)
	}
	menus, err := db.ListMenus(ctx)
	if err != nil {
		t.Fatalf("ListMenus() error = %v", err)
	}
	if len(menus) != 0 {
		t.Errorf("ListMenus() len = %d after subtree delete, want 0", len(menus))
	}
}

func TestPolicyRuleStore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	rule := &models.PolicyRule{Ptype: "p", V0: "admin", V1: "/api/v1/users/*", V2: "*"}

	// Insert twice: unique constraint dedupes silently.
	for i := 0; i < 2; i++ {
		if err := db.InsertRule(ctx, rule); err != nil {
			t.Fatalf("InsertRule() attempt %d error = %v", i+1, err)
		}
	}
	n, err := db.CountRules(ctx)
	if err != nil {
		t.Fatalf("CountRules() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("CountRules() = %d, want 1", n)
	}

	if err := db.InsertRule(ctx, &models.PolicyRule{Ptype: "g", V0: "alice", V1: "admin"}); err != nil {
		t.Fatalf("InsertRule(g) error = %v", err)
	}

	rules, err := db.LoadAllRules(ctx)
	if err != nil {
		t.Fatalf("LoadAllRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadAllRules() len = %d, want 2", len(rules))
	}
	if got := rules[0].Values(); len(got) != 3 || got[0] != "admin" {
		t.Errorf("Values() = %v, want [admin /api/v1/users/* *]", got)
	}

	// Filtered delete by subject.
	if err := db.DeleteFilteredRules(ctx, "g", 0, "alice"); err != nil {
		t.Fatalf("DeleteFilteredRules() error = %v", err)
	}
	n, err = db.CountRules(ctx)
	if err != nil {
		t.Fatalf("CountRules() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountRules() after filtered delete = %d, want 1", n)
	}

	// Exact delete, then deleting again is a no-op.
	for i := 0; i < 2; i++ {
		if err := db.DeleteRule(ctx, rule); err != nil {
			t.Fatalf("DeleteRule() attempt %d error = %v", i+1, err)
		}
	}
	n, err = db.CountRules(ctx)
	if err != nil {
		t.Fatalf("CountRules() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountRules() = %d, want 0", n)
	}
}

func TestReplaceAllRules(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.InsertRule(ctx, &models.PolicyRule{Ptype: "p", V0: "old", V1: "/x", V2: "read"}); err != nil {
		t.Fatalf("InsertRule() error = %v", err)
	}
	next := []*models.PolicyRule{
		{Ptype: "p", V0: "viewer", V1: "/api/v1/assets", V2: "read"},
		{Ptype: "g", V0: "bob", V1: "viewer"},
	}
	if err := db.ReplaceAllRules(ctx, next); err != nil {
		t.Fatalf("ReplaceAllRules() error = %v", err)
	}
	rules, err := db.LoadAllRules(ctx)
	if err != nil {
		t.Fatalf("LoadAllRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadAllRules() len = %d, want 2", len(rules))
	}
	if rules[0].V0 != "viewer" {
		t.Errorf("first rule V0 = %s, want viewer", rules[0].V0)
	}
}
