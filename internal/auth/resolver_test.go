// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/models"
)

// fakeUserStore serves accounts from memory for resolver tests.
type fakeUserStore struct {
	byID    map[int64]*models.User
	byIdent map[string]*models.User
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{
		byID:    make(map[int64]*models.User),
		byIdent: make(map[string]*models.User),
	}
	for _, u := range users {
		s.byID[u.ID] = u
		s.byIdent[u.Username] = u
		s.byIdent[u.Email] = u
	}
	return s
}

func (s *fakeUserStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeUserStore) GetUserByUsernameOrEmail(_ context.Context, ident string) (*models.User, error) {
	if u, ok := s.byIdent[ident]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

const testCookie = "cmdbd_token"

func newTestResolver(t *testing.T, users ...*models.User) (*Resolver, *TokenManager) {
	t.Helper()
	tokens := newTestTokenManager(t, time.Minute)
	return NewResolver(tokens, newFakeUserStore(users...), testCookie), tokens
}

func TestResolveBearerToken(t *testing.T) {
	alice := &models.User{ID: 1, Username: "alice", Email: "alice@example.com", IsActive: true, IsSuperuser: true}
	resolver, tokens := newTestResolver(t, alice)

	token, err := tokens.GenerateToken(alice.ID, alice.Username)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	subject := resolver.Resolve(req)
	if subject.IsAnonymous() {
		t.Fatal("Resolve() = anonymous for valid bearer token")
	}
	if subject.Name != "alice" || !subject.IsSuperuser {
		t.Errorf("subject = %+v, want alice superuser", subject)
	}
	if subject.Source != SourceBearer {
		t.Errorf("Source = %s, want bearer", subject.Source)
	}
}

func TestResolveCookieToken(t *testing.T) {
	bob := &models.User{ID: 2, Username: "bob", Email: "bob@example.com", IsActive: true}
	resolver, tokens := newTestResolver(t, bob)

	token, err := tokens.GenerateToken(bob.ID, bob.Username)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/assets", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: token})

	subject := resolver.Resolve(req)
	if subject.IsAnonymous() {
		t.Fatal("Resolve() = anonymous for valid cookie token")
	}
	if subject.Source != SourceCookie {
		t.Errorf("Source = %s, want cookie", subject.Source)
	}
}

func TestResolveNonBearerHeaderFallsBackToCookie(t *testing.T) {
	// A Basic header is not a credential for this resolver; the valid
	// session cookie next to it must still resolve.
	frank := &models.User{ID: 5, Username: "frank", Email: "frank@example.com", IsActive: true}
	resolver, tokens := newTestResolver(t, frank)

	token, err := tokens.GenerateToken(frank.ID, frank.Username)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/assets", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	req.AddCookie(&http.Cookie{Name: testCookie, Value: token})

	subject := resolver.Resolve(req)
	if subject.IsAnonymous() {
		t.Fatal("Resolve() = anonymous, want cookie subject despite Basic header")
	}
	if subject.Name != "frank" {
		t.Errorf("Name = %q, want frank", subject.Name)
	}
	if subject.Source != SourceCookie {
		t.Errorf("Source = %s, want cookie", subject.Source)
	}
}

func TestResolveDegradesToAnonymous(t *testing.T) {
	active := &models.User{ID: 3, Username: "carol", Email: "carol@example.com", IsActive: true}
	inactive := &models.User{ID: 4, Username: "dave", Email: "dave@example.com", IsActive: false}
	resolver, tokens := newTestResolver(t, active, inactive)

	inactiveToken, err := tokens.GenerateToken(inactive.ID, inactive.Username)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	unknownToken, err := tokens.GenerateToken(999, "ghost")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name  string
		setup func(req *http.Request)
	}{
		{"no credentials", func(*http.Request) {}},
		{"malformed header", func(req *http.Request) {
			req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		}},
		{"garbage token", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer not.a.token")
		}},
		{"unknown account", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+unknownToken)
		}},
		{"inactive account", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+inactiveToken)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/users", nil)
			tt.setup(req)
			subject := resolver.Resolve(req)
			if !subject.IsAnonymous() {
				t.Errorf("Resolve() = %+v, want anonymous", subject)
			}
		})
	}
}

func TestResolveFallsBackToUsernameLookup(t *testing.T) {
	// Subject claim points at a stale id; the username claim still
	// resolves the account.
	erin := &models.User{ID: 10, Username: "erin", Email: "erin@example.com", IsActive: true}
	resolver, tokens := newTestResolver(t, erin)

	token, err := tokens.GenerateToken(555, "erin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	subject := resolver.Resolve(req)
	if subject.IsAnonymous() {
		t.Fatal("Resolve() = anonymous, want fallback by username")
	}
	if subject.UserID != 10 {
		t.Errorf("UserID = %d, want 10", subject.UserID)
	}
}

func TestSubjectFromContextDefault(t *testing.T) {
	subject := SubjectFromContext(context.Background())
	if !subject.IsAnonymous() {
		t.Errorf("SubjectFromContext() = %+v, want anonymous", subject)
	}
	if subject.Name != AnonymousName {
		t.Errorf("Name = %q, want %q", subject.Name, AnonymousName)
	}
}
