// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsmesh/cmdbd/internal/config"
)

const testSecret = "test-secret-which-is-at-least-32-chars"

func newTestTokenManager(t *testing.T, ttl time.Duration) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(&config.SecurityConfig{
		JWTSecret:     testSecret,
		TokenTTL:      ttl,
		TokenAudience: "cmdbd:auth",
	})
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	return m
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestTokenManager(t, time.Minute)

	token, err := m.GenerateToken(42, "alice")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID() != 42 {
		t.Errorf("UserID() = %d, want 42", claims.UserID())
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	m := newTestTokenManager(t, -time.Minute)

	token, err := m.GenerateToken(1, "bob")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted an expired token")
	}
}

func TestValidateTokenWithoutAudience(t *testing.T) {
	m := newTestTokenManager(t, time.Minute)

	// A token minted without the audience claim must still validate;
	// the second validation pass skips audience matching.
	claims := &Claims{
		Username: "carol",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(7, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	got, err := m.ValidateToken(raw)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v for audience-less token", err)
	}
	if got.UserID() != 7 {
		t.Errorf("UserID() = %d, want 7", got.UserID())
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m := newTestTokenManager(t, time.Minute)

	other, err := NewTokenManager(&config.SecurityConfig{
		JWTSecret:     "another-secret-also-32-characters!!!",
		TokenTTL:      time.Minute,
		TokenAudience: "cmdbd:auth",
	})
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	token, err := other.GenerateToken(1, "mallory")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted a token signed with a different secret")
	}
}

func TestValidateTokenRejectsUnexpectedAlgorithm(t *testing.T) {
	m := newTestTokenManager(t, time.Minute)

	// alg=none tokens must never validate.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "eve"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := m.ValidateToken(raw); err == nil {
		t.Error("ValidateToken() accepted an unsigned token")
	}
}

func TestClaimsUserIDNonNumeric(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-number"}}
	if got := c.UserID(); got != 0 {
		t.Errorf("UserID() = %d, want 0 for non-numeric subject", got)
	}
}
