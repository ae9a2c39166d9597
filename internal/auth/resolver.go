// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/models"
)

// UserStore is the account lookup surface the resolver needs.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsernameOrEmail(ctx context.Context, ident string) (*models.User, error)
}

// Resolver turns request credentials into a Subject. It checks the
// Authorization header first, then the session cookie, and degrades to
// Anonymous on any failure; resolution itself never rejects a request.
type Resolver struct {
	tokens     *TokenManager
	users      UserStore
	cookieName string
}

// NewResolver creates a resolver.
func NewResolver(tokens *TokenManager, users UserStore, cookieName string) *Resolver {
	return &Resolver{tokens: tokens, users: users, cookieName: cookieName}
}

// Resolve extracts credentials from the request and returns the
// subject. Order: Bearer header wins over cookie; no credentials, an
// invalid token, an unknown account, or an inactive account all yield
// Anonymous.
func (r *Resolver) Resolve(req *http.Request) *Subject {
	token, source := extractToken(req, r.cookieName)
	if token == "" {
		return Anonymous
	}

	claims, err := r.tokens.ValidateToken(token)
	if err != nil {
		logging.Ctx(req.Context()).Debug().Err(err).Msg("Token validation failed")
		return Anonymous
	}

	user := r.lookupUser(req.Context(), claims)
	if user == nil || !user.IsActive {
		return Anonymous
	}

	return &Subject{
		Name:        user.Username,
		UserID:      user.ID,
		Email:       user.Email,
		IsActive:    user.IsActive,
		IsSuperuser: user.IsSuperuser,
		Source:      source,
	}
}

// lookupUser resolves the claims to an account: by id from the subject
// claim first, then by username or email. The fallback keeps tokens
// valid across an account-id migration.
func (r *Resolver) lookupUser(ctx context.Context, claims *Claims) *models.User {
	if id := claims.UserID(); id > 0 {
		user, err := r.users.GetUserByID(ctx, id)
		if err == nil {
			return user
		}
		if !errors.Is(err, database.ErrNotFound) {
			logging.Ctx(ctx).Error().Err(err).Int64("user_id", id).Msg("Account lookup failed")
			return nil
		}
	}

	if claims.Username == "" {
		return nil
	}
	user, err := r.users.GetUserByUsernameOrEmail(ctx, claims.Username)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logging.Ctx(ctx).Error().Err(err).Str("username", claims.Username).Msg("Account lookup failed")
		}
		return nil
	}
	return user
}

// extractToken pulls the raw token from the request. A Bearer header
// wins; any other Authorization scheme is not a credential here, so
// the session cookie is still consulted. Returns the empty string when
// no credentials are present.
func extractToken(req *http.Request, cookieName string) (string, CredentialSource) {
	if header := req.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):]), SourceBearer
		}
	}
	if cookie, err := req.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, SourceCookie
	}
	return "", SourceNone
}
