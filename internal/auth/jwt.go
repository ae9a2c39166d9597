// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsmesh/cmdbd/internal/config"
)

// Claims are the JWT claims carried by cmdbd access tokens. Subject is
// the numeric account id as a string; Username is informational.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the account id from the subject claim, or 0 if the
// subject is not numeric.
func (c *Claims) UserID() int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// TokenManager creates and validates HS256 access tokens.
type TokenManager struct {
	secret   []byte
	ttl      time.Duration
	audience string
}

// NewTokenManager creates a token manager from the security config.
// The secret must be non-empty; Config.Validate enforces the minimum
// length before this point.
func NewTokenManager(cfg *config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required but was empty")
	}
	return &TokenManager{
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
		audience: cfg.TokenAudience,
	}, nil
}

// GenerateToken creates a signed token for the given account.
func (m *TokenManager) GenerateToken(userID int64, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token in two passes: first requiring the
// configured audience, then without audience validation. Tokens minted
// by older releases omit the audience claim; the second pass keeps them
// working while signature and expiry are still enforced.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString, jwt.WithAudience(m.audience))
	if err == nil {
		return claims, nil
	}
	return m.parse(tokenString)
}

func (m *TokenManager) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
