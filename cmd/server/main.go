// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

// Command server runs the cmdbd HTTP server.
//
// Configuration comes from defaults, an optional YAML file, and
// environment variables. The minimum viable setup:
//
//	export SECURITY_JWT_SECRET=$(openssl rand -hex 32)
//	export SECURITY_ADMIN_USERNAME=admin
//	export SECURITY_ADMIN_PASSWORD=change-me
//	server
//
// The server handles graceful shutdown on SIGINT and SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/opsmesh/cmdbd/docs"
	"github.com/opsmesh/cmdbd/internal/api"
	"github.com/opsmesh/cmdbd/internal/auth"
	"github.com/opsmesh/cmdbd/internal/authz"
	"github.com/opsmesh/cmdbd/internal/config"
	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/menu"
	"github.com/opsmesh/cmdbd/internal/models"
	"github.com/opsmesh/cmdbd/internal/rbac"
	"github.com/opsmesh/cmdbd/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("db_path", cfg.Database.Path).
		Msg("Starting cmdbd")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	enforcer, err := authz.NewEnforcerFromConfig(database.NewPolicyAdapter(db), &cfg.Casbin)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create policy engine")
	}
	if added, err := enforcer.InitializeDefaultPolicies(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap default policies")
	} else if added > 0 {
		logging.Info().Int("rules", added).Msg("Default policies loaded into empty store")
	}

	tokens, err := auth.NewTokenManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create token manager")
	}

	rbacSvc := rbac.NewService(db, enforcer)
	menuSvc := menu.NewService(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedAdminAccount(ctx, db, rbacSvc, &cfg.Security); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed admin account")
	}
	if n, err := rbacSvc.SyncSuperusers(ctx); err != nil {
		logging.Warn().Err(err).Msg("Superuser role synchronization failed")
	} else if n > 0 {
		logging.Info().Int("synced", n).Msg("Superuser accounts granted admin role")
	}

	lockoutStore, err := newLockoutStore(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open lockout store")
	}
	lockout := auth.NewLockoutManager(lockoutStore, &auth.LockoutConfig{
		MaxAttempts:     cfg.Security.LockoutMaxAttempts,
		LockoutDuration: cfg.Security.LockoutDuration,
	})
	defer func() {
		if err := lockout.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing lockout store")
		}
	}()

	loginLimiter := auth.NewLoginLimiter(cfg.Security.LoginLimitReqs, cfg.Security.LoginLimitWindow)
	defer loginLimiter.Stop()

	authHandlers := auth.NewHandlers(tokens, db, lockout, loginLimiter, &auth.HandlersConfig{
		CookieName:   cfg.Security.CookieName,
		CookieSecure: cfg.Security.CookieSecure,
		CookieMaxAge: cfg.Security.TokenTTL,
	}, nil)

	mwCfg := api.DefaultMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Security.CORSOrigins
	if cfg.Security.RateLimitReqs > 0 {
		mwCfg.RateLimitRequests = cfg.Security.RateLimitReqs
	}
	if cfg.Security.RateLimitWindow > 0 {
		mwCfg.RateLimitWindow = cfg.Security.RateLimitWindow
	}

	router := api.NewRouter(
		authHandlers,
		auth.NewResolver(tokens, db, cfg.Security.CookieName),
		authz.NewMiddleware(enforcer),
		authz.NewHandlers(enforcer, rbacSvc, rbacSvc.OnEngineRoleChange),
		rbac.NewHandlers(rbacSvc),
		menu.NewHandlers(menuSvc),
		api.NewMiddleware(mwCfg),
		db,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddMaintenanceService(supervisor.NewPolicyReloadService(enforcer, 5*time.Minute))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
}

// seedAdminAccount creates the configured admin account on first start
// and grants it the admin role. Existing accounts are left untouched;
// a changed ADMIN_PASSWORD does not rewrite a live credential.
func seedAdminAccount(ctx context.Context, db *database.DB, rbacSvc *rbac.Service, sec *config.SecurityConfig) error {
	if sec.AdminUsername == "" || sec.AdminPassword == "" {
		logging.Warn().Msg("No admin credentials configured, skipping admin account seed")
		return nil
	}

	if _, err := db.GetUserByUsername(ctx, sec.AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(sec.AdminPassword)
	if err != nil {
		return err
	}
	user, err := db.CreateUser(ctx, &models.User{
		Username:     sec.AdminUsername,
		Email:        sec.AdminUsername + "@localhost",
		PasswordHash: hash,
		IsActive:     true,
		IsSuperuser:  true,
	})
	if err != nil {
		return err
	}

	if _, err := rbacSvc.EnsureRole(ctx, models.RoleAdmin, "full administrative access"); err != nil {
		return err
	}
	if err := rbacSvc.AssignRole(ctx, user.Username, models.RoleAdmin); err != nil {
		return err
	}
	logging.Info().Str("username", user.Username).Msg("Admin account created")
	return nil
}

func newLockoutStore(sec *config.SecurityConfig) (auth.LockoutStore, error) {
	if sec.LockoutStorePath == "" {
		return auth.NewMemoryLockoutStore(), nil
	}
	return auth.NewBadgerLockoutStore(sec.LockoutStorePath)
}
