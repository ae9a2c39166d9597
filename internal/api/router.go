// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"github.com/swaggo/swag"

	"github.com/opsmesh/cmdbd/internal/auth"
	"github.com/opsmesh/cmdbd/internal/authz"
	"github.com/opsmesh/cmdbd/internal/menu"
	"github.com/opsmesh/cmdbd/internal/middleware"
	"github.com/opsmesh/cmdbd/internal/rbac"
)

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router assembles the full HTTP surface.
type Router struct {
	authHandlers  *auth.Handlers
	authMW        func(http.Handler) http.Handler
	authzMW       *authz.Middleware
	authzHandlers *authz.Handlers
	rbacHandlers  *rbac.Handlers
	menuHandlers  *menu.Handlers
	chiMW         *Middleware
	pinger        Pinger
}

// NewRouter wires the handler groups and middleware into a router.
func NewRouter(
	authHandlers *auth.Handlers,
	resolver *auth.Resolver,
	authzMW *authz.Middleware,
	authzHandlers *authz.Handlers,
	rbacHandlers *rbac.Handlers,
	menuHandlers *menu.Handlers,
	chiMW *Middleware,
	pinger Pinger,
) *Router {
	return &Router{
		authHandlers:  authHandlers,
		authMW:        auth.Middleware(resolver),
		authzMW:       authzMW,
		authzHandlers: authzHandlers,
		rbacHandlers:  rbacHandlers,
		menuHandlers:  menuHandlers,
		chiMW:         chiMW,
		pinger:        pinger,
	}
}

// Setup builds the chi handler tree.
//
// Middleware order matters: the request ID must exist before anything
// logs, identity resolution must run before enforcement, and
// enforcement guards every route except the public set.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Prometheus)
	r.Use(router.chiMW.CORS())
	r.Use(router.authMW)
	r.Use(router.authzMW.Handler)

	r.Get("/health", router.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/openapi.json", router.openAPIDoc)
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/docs/index.html", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMW.RateLimit())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", router.authHandlers.Login)
			r.Post("/logout", router.authHandlers.Logout)
			r.Post("/register", router.authHandlers.Register)
			r.Get("/me", router.authHandlers.Me)
			r.Route("/jwt-cookie", func(r chi.Router) {
				r.Post("/login", router.authHandlers.CookieLogin)
				r.Post("/logout", router.authHandlers.CookieLogout)
			})
		})

		r.Route("/menus", router.menuHandlers.Routes)
		r.Route("/roles", router.rbacHandlers.Routes)
		r.Route("/permissions", router.rbacHandlers.PermissionRoutes)
		r.Route("/users", router.rbacHandlers.UserRoutes)
		r.Route("/admin/casbin", router.authzHandlers.Routes)
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

func (router *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if router.pinger != nil {
		if err := router.pinger.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck
	json.NewEncoder(w).Encode(resp)
}

func (router *Router) openAPIDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		http.Error(w, `{"detail":"documentation unavailable"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck
	w.Write([]byte(doc))
}
