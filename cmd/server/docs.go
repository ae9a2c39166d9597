// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Package main provides the cmdbd HTTP server
//
// @title cmdbd API
// @version 1.0
// @description Configuration management database backend with JWT authentication, Casbin-based RBAC enforcement, and permission-filtered navigation menus.
// @description
// @description ## Authentication
// @description
// @description Obtain a bearer token via POST /api/v1/auth/login, or an HTTP-only session cookie via POST /api/v1/auth/jwt-cookie/login. The Authorization header takes precedence when both are present.
// @description
// @description ## Authorization
// @description
// @description Every request outside the public allow-list is checked against the policy engine as (subject, path, action), where the action is derived from the HTTP method. Superusers bypass policy checks. Admin endpoints under /api/v1/admin/casbin additionally re-check superuser standing in the handler.
// @description
// @description ## Error Responses
// @description
// @description Authentication failures are a uniform 401 "invalid credentials"; authorization denials are 403 with an error body.
//
// @contact.name GitHub Repository
// @contact.url https://github.com/opsmesh/cmdbd/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @BasePath /api/v1
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token from /api/v1/auth/login.
//
// @tag.name Auth
// @tag.description Login, logout, registration, and the current account
//
// @tag.name RBAC
// @tag.description Relational role management and user-role assignment
//
// @tag.name Menus
// @tag.description Navigation menu management and the permission-filtered tree
//
// @tag.name Policy
// @tag.description Policy engine administration (superuser only)
package main
