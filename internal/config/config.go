// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package config loads cmdbd configuration with Koanf v2 from layered
// sources: struct defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the cmdbd server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	Casbin   CasbinConfig   `koanf:"casbin"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory limits DuckDB's memory usage (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB worker thread count. 0 uses NumCPU.
	Threads int `koanf:"threads"`
}

// SecurityConfig holds authentication and transport-security settings.
type SecurityConfig struct {
	// JWTSecret signs access tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the access-token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// TokenAudience tags tokens issued by the login endpoint. Verification
	// also accepts legacy tokens without an audience claim.
	TokenAudience string `koanf:"token_audience"`

	// CookieName is the session cookie carrying a token for browser clients.
	CookieName string `koanf:"cookie_name"`

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool `koanf:"cookie_secure"`

	// AdminUsername/AdminPassword seed the initial superuser account.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`

	// CORSOrigins is the cross-origin allow-list.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs/RateLimitWindow bound requests per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// LoginLimitReqs/LoginLimitWindow bound login attempts per client IP.
	LoginLimitReqs   int           `koanf:"login_limit_reqs"`
	LoginLimitWindow time.Duration `koanf:"login_limit_window"`

	// Lockout configures the failed-login lockout store.
	LockoutMaxAttempts int           `koanf:"lockout_max_attempts"`
	LockoutDuration    time.Duration `koanf:"lockout_duration"`
	LockoutStorePath   string        `koanf:"lockout_store_path"`
}

// CasbinConfig holds policy-engine settings.
type CasbinConfig struct {
	// ModelPath overrides the embedded RBAC model when set.
	ModelPath string `koanf:"model_path"`

	// BootstrapPath overrides the embedded default-policy CSV when set.
	BootstrapPath string `koanf:"bootstrap_path"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would make the server
// insecure or unable to start.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("security.token_ttl must be positive")
	}
	if c.Security.CookieName == "" {
		return fmt.Errorf("security.cookie_name is required")
	}
	if c.Server.Environment == "production" {
		for _, origin := range c.Security.CORSOrigins {
			if origin == "*" {
				return fmt.Errorf("security.cors_origins must not contain %q in production", "*")
			}
		}
	}
	return nil
}
