// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package auth provides authentication: password hashing, JWT access
// tokens, the identity resolver that turns request credentials into a
// Subject, account lockout, and the login/logout/register handlers.
package auth

import (
	"context"
	"errors"
)

// CredentialSource identifies where a request's credentials came from.
type CredentialSource string

const (
	// SourceNone means no credentials were presented.
	SourceNone CredentialSource = "none"

	// SourceBearer means an Authorization: Bearer header.
	SourceBearer CredentialSource = "bearer"

	// SourceCookie means the session cookie.
	SourceCookie CredentialSource = "cookie"
)

// Subject is the resolved identity of a request. The policy engine
// keys on Name: for authenticated requests this is the username, for
// everything else it is AnonymousName.
type Subject struct {
	Name        string
	UserID      int64
	Email       string
	IsActive    bool
	IsSuperuser bool
	Source      CredentialSource
}

// AnonymousName is the policy subject for unauthenticated requests.
const AnonymousName = "anonymous"

// Anonymous is the identity assigned when no valid credentials are
// presented. Resolution never fails a request; it degrades to this.
var Anonymous = &Subject{Name: AnonymousName, Source: SourceNone}

// IsAnonymous reports whether the subject is unauthenticated.
func (s *Subject) IsAnonymous() bool {
	return s == nil || s.UserID == 0
}

// Standard authentication errors.
var (
	// ErrNoCredentials indicates no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates credentials were invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountInactive indicates the account is disabled.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrAccountLocked indicates too many failed login attempts.
	ErrAccountLocked = errors.New("account temporarily locked")
)

type subjectContextKey struct{}

// ContextWithSubject stores the resolved subject on the context.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, s)
}

// SubjectFromContext returns the resolved subject, or Anonymous if
// resolution has not run.
func SubjectFromContext(ctx context.Context) *Subject {
	if s, ok := ctx.Value(subjectContextKey{}).(*Subject); ok && s != nil {
		return s
	}
	return Anonymous
}
