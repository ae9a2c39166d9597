// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent represents a security-relevant event for audit logging.
type SecurityEvent struct {
	// Event is the type of event (e.g. "login_success", "policy_added").
	Event string
	// Subject is the principal the event is about (username).
	Subject string
	// Resource is the object involved, if any (path or policy object).
	Resource string
	// Action is the operation involved, if any (HTTP method or casbin act).
	Action string
	// IPAddress is the client's IP address.
	IPAddress string
	// Success indicates whether the operation succeeded / was granted.
	Success bool
	// Error is the failure reason, logged only on failure.
	Error string
}

// SecurityLogger provides structured logging for authentication and
// authorization events. Failures here must never influence authorization
// outcomes; every method is fire-and-forget.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: With().Str("component", "security").Logger(),
	}
}

// NewSecurityLoggerWithLogger creates a security logger on a custom logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "security").Logger(),
	}
}

// LogEvent logs a security event with sanitized fields.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Info().Str("event", event.Event)
	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}
	if event.Subject != "" {
		e = e.Str("subject", SanitizeSubject(event.Subject))
	}
	if event.Resource != "" {
		e = e.Str("resource", event.Resource)
	}
	if event.Action != "" {
		e = e.Str("action", event.Action)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Error != "" && !event.Success {
		e = e.Str("error", SanitizeError(event.Error))
	}
	e.Msg("")
}

// LogAuth logs an authentication attempt outcome.
func (l *SecurityLogger) LogAuth(subject, action string, success bool) {
	l.LogEvent(&SecurityEvent{
		Event:   "auth_" + action,
		Subject: subject,
		Success: success,
	})
}

// LogPermission logs an authorization decision for audit.
func (l *SecurityLogger) LogPermission(subject, resource, action string, granted bool) {
	l.LogEvent(&SecurityEvent{
		Event:    "permission_check",
		Subject:  subject,
		Resource: resource,
		Action:   action,
		Success:  granted,
	})
}

// LogError logs an error with its operational context.
func (l *SecurityLogger) LogError(err error, context string) {
	if err == nil {
		return
	}
	l.logger.Error().Err(err).Str("context", context).Msg("security error")
}

// SanitizeSubject truncates and strips control characters from a subject
// identifier before it reaches the logs.
func SanitizeSubject(subject string) string {
	return truncateString(stripControl(subject), 64)
}

// SanitizeError removes anything that looks like an embedded token or
// secret from an error message before logging.
func SanitizeError(msg string) string {
	// JWTs are three dot-separated base64 segments; drop the payload.
	if idx := strings.Index(msg, "eyJ"); idx >= 0 {
		msg = msg[:idx] + "[redacted]"
	}
	return truncateString(stripControl(msg), 200)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
