// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api assembles the admin API router, spec.md §6 "External
// Interfaces": tenant/account/message CRUD plus the run-now/suspend/
// activate/status commands, all behind a single shared bearer token.
// Grounded on the teacher's presentation/api/router.go (global
// middleware chain, route grouping, health endpoint) with the
// session/OAuth/document routing stripped since this surface has a
// single operator principal, not end users (see DESIGN.md).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apiAdmin "github.com/btouchard/mailrelay/internal/presentation/api/admin"
	"github.com/btouchard/mailrelay/internal/presentation/api/health"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// RouterConfig holds everything NewRouter needs to wire the admin API.
type RouterConfig struct {
	AdminToken string // required: shared bearer token, spec.md §6

	Tenants  apiAdmin.TenantStore
	Accounts apiAdmin.AccountStore
	Messages apiAdmin.MessageStore
	Commands apiAdmin.SupervisorCommands

	// AdminRateLimit is requests per minute per IP against the whole
	// admin surface. Default: 120.
	AdminRateLimit int
}

// NewRouter creates and configures the admin API router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	limit := cfg.AdminRateLimit
	if limit == 0 {
		limit = 120
	}
	adminRateLimit := shared.NewRateLimit(limit, time.Minute)
	auth := shared.NewMiddleware(cfg.AdminToken)

	r.Use(middleware.RequestID)
	r.Use(shared.AddRequestIDToContext)
	r.Use(middleware.RealIP)
	r.Use(shared.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(shared.SecurityHeaders)
	r.Use(adminRateLimit.Middleware)

	healthHandler := health.NewHandler()
	tenantsHandler := apiAdmin.NewTenantsHandler(cfg.Tenants)
	accountsHandler := apiAdmin.NewAccountsHandler(cfg.Accounts)
	messagesHandler := apiAdmin.NewMessagesHandler(cfg.Messages)
	commandsHandler := apiAdmin.NewCommandsHandler(cfg.Commands)

	r.Get("/health", healthHandler.HandleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAdminToken)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", tenantsHandler.HandleList)
			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", tenantsHandler.HandleGet)
				r.Put("/", tenantsHandler.HandleUpsert)
				r.Delete("/", tenantsHandler.HandleDelete)

				r.Route("/accounts", func(r chi.Router) {
					r.Get("/", accountsHandler.HandleList)
					r.Route("/{accountID}", func(r chi.Router) {
						r.Get("/", accountsHandler.HandleGet)
						r.Put("/", accountsHandler.HandleUpsert)
						r.Delete("/", accountsHandler.HandleDelete)
					})
				})

				r.Route("/messages", func(r chi.Router) {
					r.Get("/", messagesHandler.HandleList)
					r.Post("/", messagesHandler.HandleCreate)
					r.Get("/{messageID}", messagesHandler.HandleGet)
				})
			})
		})

		r.Route("/commands", func(r chi.Router) {
			r.Post("/suspend", commandsHandler.HandleSuspend)
			r.Post("/activate", commandsHandler.HandleActivate)
			r.Post("/run-now", commandsHandler.HandleRunNow)
		})

		r.Get("/status", commandsHandler.HandleStatus)
		r.Get("/list-tenants-sync-status", commandsHandler.HandleStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		shared.WriteNotFound(w, "route")
	})

	return r
}
