// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/models"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	users      map[string]*models.User
	roles      map[string]*models.Role
	perms      map[string]*models.Permission
	userRoles  map[[2]int64]bool
	rolePerms  map[[2]int64]bool
	nextRoleID int64
	nextPermID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*models.User),
		roles:     make(map[string]*models.Role),
		perms:     make(map[string]*models.Permission),
		userRoles: make(map[[2]int64]bool),
		rolePerms: make(map[[2]int64]bool),
	}
}

func (s *fakeStore) addUser(u *models.User) { s.users[u.Username] = u }

func (s *fakeStore) CreateRole(_ context.Context, name, description string) (*models.Role, error) {
	if _, ok := s.roles[name]; ok {
		return nil, database.ErrDuplicate
	}
	s.nextRoleID++
	r := &models.Role{ID: s.nextRoleID, Name: name, Description: description}
	s.roles[name] = r
	return r, nil
}

func (s *fakeStore) GetRoleByName(_ context.Context, name string) (*models.Role, error) {
	if r, ok := s.roles[name]; ok {
		return r, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) ListRoles(_ context.Context) ([]*models.Role, error) {
	var out []*models.Role
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) RenameRole(_ context.Context, id int64, name, description string) error {
	for old, r := range s.roles {
		if r.ID == id {
			delete(s.roles, old)
			r.Name = name
			r.Description = description
			s.roles[name] = r
			return nil
		}
	}
	return errors.New("role not found")
}

func (s *fakeStore) DeleteRole(_ context.Context, id int64) error {
	for name, r := range s.roles {
		if r.ID == id {
			delete(s.roles, name)
			return nil
		}
	}
	return errors.New("role not found")
}

func (s *fakeStore) AddUserRole(_ context.Context, userID, roleID int64) error {
	s.userRoles[[2]int64{userID, roleID}] = true
	return nil
}

func (s *fakeStore) RemoveUserRole(_ context.Context, userID, roleID int64) error {
	delete(s.userRoles, [2]int64{userID, roleID})
	return nil
}

func (s *fakeStore) ListRolesForUser(_ context.Context, userID int64) ([]*models.Role, error) {
	var out []*models.Role
	for _, r := range s.roles {
		if s.userRoles[[2]int64{userID, r.ID}] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePermission(_ context.Context, p *models.Permission) (*models.Permission, error) {
	if _, ok := s.perms[p.Code]; ok {
		return nil, database.ErrDuplicate
	}
	s.nextPermID++
	created := &models.Permission{
		ID:          s.nextPermID,
		Name:        p.Name,
		Code:        p.Code,
		Description: p.Description,
		IsActive:    p.IsActive,
	}
	s.perms[p.Code] = created
	return created, nil
}

func (s *fakeStore) GetPermissionByCode(_ context.Context, code string) (*models.Permission, error) {
	if p, ok := s.perms[code]; ok {
		return p, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) ListPermissions(_ context.Context) ([]*models.Permission, error) {
	var out []*models.Permission
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) DeletePermission(_ context.Context, id int64) error {
	for code, p := range s.perms {
		if p.ID == id {
			delete(s.perms, code)
			return nil
		}
	}
	return database.ErrNotFound
}

func (s *fakeStore) AddRolePermission(_ context.Context, roleID, permissionID int64) error {
	s.rolePerms[[2]int64{roleID, permissionID}] = true
	return nil
}

func (s *fakeStore) RemoveRolePermission(_ context.Context, roleID, permissionID int64) error {
	delete(s.rolePerms, [2]int64{roleID, permissionID})
	return nil
}

func (s *fakeStore) ListPermissionsForRole(_ context.Context, roleID int64) ([]*models.Permission, error) {
	var out []*models.Permission
	for _, p := range s.perms {
		if s.rolePerms[[2]int64{roleID, p.ID}] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if u, ok := s.users[username]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (s *fakeStore) ListSuperusers(_ context.Context) ([]*models.User, error) {
	var out []*models.User
	for _, u := range s.users {
		if u.IsSuperuser {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) SetSuperuser(_ context.Context, username string, super bool) error {
	u, ok := s.users[username]
	if !ok {
		return errors.New("user not found")
	}
	u.IsSuperuser = super
	return nil
}

// fakeEngine implements Engine in memory, with optional per-user
// failure injection.
type fakeEngine struct {
	grants  map[string]map[string]bool
	failFor map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		grants:  make(map[string]map[string]bool),
		failFor: make(map[string]bool),
	}
}

func (e *fakeEngine) AddRoleForUser(user, role string) (bool, error) {
	if e.failFor[user] {
		return false, errors.New("engine failure")
	}
	if e.grants[user] == nil {
		e.grants[user] = make(map[string]bool)
	}
	if e.grants[user][role] {
		return false, nil
	}
	e.grants[user][role] = true
	return true, nil
}

func (e *fakeEngine) DeleteRoleForUser(user, role string) (bool, error) {
	if !e.grants[user][role] {
		return false, nil
	}
	delete(e.grants[user], role)
	return true, nil
}

func (e *fakeEngine) HasRoleForUser(user, role string) (bool, error) {
	if e.failFor[user] {
		return false, errors.New("engine failure")
	}
	return e.grants[user][role], nil
}

func setupService(t *testing.T) (*Service, *fakeStore, *fakeEngine) {
	t.Helper()
	store := newFakeStore()
	engine := newFakeEngine()
	return NewService(store, engine), store, engine
}

func TestAssignAdminRoleSetsSuperuser(t *testing.T) {
	svc, store, engine := setupService(t)
	ctx := context.Background()
	store.addUser(&models.User{ID: 1, Username: "alice", IsActive: true})
	if _, err := store.CreateRole(ctx, models.RoleAdmin, ""); err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}

	if err := svc.AssignRole(ctx, "alice", models.RoleAdmin); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if !store.users["alice"].IsSuperuser {
		t.Error("admin grant did not set the superuser flag")
	}
	if !engine.grants["alice"][models.RoleAdmin] {
		t.Error("admin grant did not reach the engine")
	}

	if err := svc.RemoveRole(ctx, "alice", models.RoleAdmin); err != nil {
		t.Fatalf("RemoveRole() error = %v", err)
	}
	if store.users["alice"].IsSuperuser {
		t.Error("admin revocation did not clear the superuser flag")
	}
	if engine.grants["alice"][models.RoleAdmin] {
		t.Error("admin revocation did not reach the engine")
	}
}

func TestAssignNonAdminRoleLeavesSuperuserAlone(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	store.addUser(&models.User{ID: 2, Username: "bob", IsActive: true})
	if _, err := store.CreateRole(ctx, models.RoleViewer, ""); err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}

	if err := svc.AssignRole(ctx, "bob", models.RoleViewer); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if store.users["bob"].IsSuperuser {
		t.Error("viewer grant set the superuser flag")
	}
}

func TestAssignRoleIdempotent(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	store.addUser(&models.User{ID: 3, Username: "carol", IsActive: true})
	if _, err := store.CreateRole(ctx, models.RoleViewer, ""); err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.AssignRole(ctx, "carol", models.RoleViewer); err != nil {
			t.Fatalf("AssignRole() attempt %d error = %v", i+1, err)
		}
	}
	roles, err := svc.RolesForUser(ctx, "carol")
	if err != nil {
		t.Fatalf("RolesForUser() error = %v", err)
	}
	if len(roles) != 1 {
		t.Errorf("RolesForUser() len = %d, want 1", len(roles))
	}
}

func TestAdminRoleProtected(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	admin, err := store.CreateRole(ctx, models.RoleAdmin, "")
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}

	if err := svc.DeleteRole(ctx, admin.ID); !errors.Is(err, ErrProtectedRole) {
		t.Errorf("DeleteRole(admin) error = %v, want ErrProtectedRole", err)
	}
	if err := svc.RenameRole(ctx, admin.ID, "supreme", ""); !errors.Is(err, ErrProtectedRole) {
		t.Errorf("RenameRole(admin) error = %v, want ErrProtectedRole", err)
	}

	// Other roles are deletable.
	viewer, err := store.CreateRole(ctx, models.RoleViewer, "")
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	if err := svc.DeleteRole(ctx, viewer.ID); err != nil {
		t.Errorf("DeleteRole(viewer) error = %v", err)
	}
}

func TestSyncSuperusers(t *testing.T) {
	svc, store, engine := setupService(t)
	ctx := context.Background()

	store.addUser(&models.User{ID: 1, Username: "root", IsSuperuser: true})
	store.addUser(&models.User{ID: 2, Username: "ops", IsSuperuser: true})
	store.addUser(&models.User{ID: 3, Username: "synced", IsSuperuser: true})
	store.addUser(&models.User{ID: 4, Username: "normal"})

	// "synced" already holds admin in the engine and must not count.
	if _, err := engine.AddRoleForUser("synced", models.RoleAdmin); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}

	n, err := svc.SyncSuperusers(ctx)
	if err != nil {
		t.Fatalf("SyncSuperusers() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SyncSuperusers() = %d, want 2 newly granted", n)
	}
	for _, name := range []string{"root", "ops", "synced"} {
		if !engine.grants[name][models.RoleAdmin] {
			t.Errorf("%s does not hold admin after sync", name)
		}
	}
	if engine.grants["normal"][models.RoleAdmin] {
		t.Error("non-superuser was granted admin")
	}

	// A second sync grants nothing new.
	n, err = svc.SyncSuperusers(ctx)
	if err != nil {
		t.Fatalf("second SyncSuperusers() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second SyncSuperusers() = %d, want 0", n)
	}
}

func TestSyncSuperusersContinuesOnFailure(t *testing.T) {
	svc, store, engine := setupService(t)
	ctx := context.Background()

	store.addUser(&models.User{ID: 1, Username: "broken", IsSuperuser: true})
	store.addUser(&models.User{ID: 2, Username: "fine", IsSuperuser: true})
	engine.failFor["broken"] = true

	n, err := svc.SyncSuperusers(ctx)
	if err != nil {
		t.Fatalf("SyncSuperusers() error = %v, want skip-and-continue", err)
	}
	if n != 1 {
		t.Errorf("SyncSuperusers() = %d, want 1", n)
	}
	if !engine.grants["fine"][models.RoleAdmin] {
		t.Error("healthy account was not synced after a failing one")
	}
}

func TestOnEngineRoleChange(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	store.addUser(&models.User{ID: 1, Username: "alice"})

	svc.OnEngineRoleChange(ctx, "alice", models.RoleAdmin, true)
	if !store.users["alice"].IsSuperuser {
		t.Error("admin grant callback did not set superuser")
	}
	svc.OnEngineRoleChange(ctx, "alice", models.RoleAdmin, false)
	if store.users["alice"].IsSuperuser {
		t.Error("admin revoke callback did not clear superuser")
	}

	// Non-admin roles never touch the flag.
	svc.OnEngineRoleChange(ctx, "alice", models.RoleViewer, true)
	if store.users["alice"].IsSuperuser {
		t.Error("viewer grant callback set superuser")
	}
}

func TestPermissionLifecycle(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreatePermission(ctx, "View Assets", "asset:read", "list and read assets")
	if err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}
	if !created.IsActive {
		t.Error("new permission is not active")
	}

	if _, err := svc.CreatePermission(ctx, "View Assets", "asset:read", ""); !errors.Is(err, database.ErrDuplicate) {
		t.Errorf("duplicate CreatePermission() error = %v, want ErrDuplicate", err)
	}

	perms, err := svc.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("ListPermissions() error = %v", err)
	}
	if len(perms) != 1 {
		t.Errorf("permission count = %d, want 1", len(perms))
	}

	if err := svc.DeletePermission(ctx, created.ID); err != nil {
		t.Fatalf("DeletePermission() error = %v", err)
	}
	perms, err = svc.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("ListPermissions() error = %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("permission count after delete = %d, want 0", len(perms))
	}
}

func TestGrantAndRevokePermission(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	viewer, err := store.CreateRole(ctx, models.RoleViewer, "")
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	if _, err := svc.CreatePermission(ctx, "View Menus", "menu:read", ""); err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}

	if err := svc.GrantPermission(ctx, viewer.ID, "menu:read"); err != nil {
		t.Fatalf("GrantPermission() error = %v", err)
	}
	perms, err := svc.PermissionsForRole(ctx, viewer.ID)
	if err != nil {
		t.Fatalf("PermissionsForRole() error = %v", err)
	}
	if len(perms) != 1 || perms[0].Code != "menu:read" {
		t.Errorf("PermissionsForRole() = %+v, want menu:read", perms)
	}

	if err := svc.RevokePermission(ctx, viewer.ID, "menu:read"); err != nil {
		t.Fatalf("RevokePermission() error = %v", err)
	}
	perms, err = svc.PermissionsForRole(ctx, viewer.ID)
	if err != nil {
		t.Fatalf("PermissionsForRole() error = %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("permissions after revoke = %d, want 0", len(perms))
	}
}

func TestGrantPermissionUnknownTargets(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	viewer, err := store.CreateRole(ctx, models.RoleViewer, "")
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}

	if err := svc.GrantPermission(ctx, viewer.ID, "no:such:code"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("GrantPermission(unknown code) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.CreatePermission(ctx, "X", "x:read", ""); err != nil {
		t.Fatalf("CreatePermission() error = %v", err)
	}
	if err := svc.GrantPermission(ctx, 999, "x:read"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("GrantPermission(unknown role) error = %v, want ErrNotFound", err)
	}
}

func TestEnsureRole(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.EnsureRole(ctx, "auditor", "read-only audit access")
	if err != nil {
		t.Fatalf("EnsureRole() error = %v", err)
	}

	again, err := svc.EnsureRole(ctx, "auditor", "different description")
	if err != nil {
		t.Fatalf("EnsureRole() second call error = %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("EnsureRole() returned role %d, want existing %d", again.ID, created.ID)
	}

	roles, err := svc.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles() error = %v", err)
	}
	if len(roles) != 1 {
		t.Errorf("role count = %d, want 1", len(roles))
	}
}
