/**
 * @description
 * Router construction for each service binary. Every router carries the
 * standard middleware stack (request logging, panic recovery, timeout) plus a
 * health endpoint; command routes additionally get authentication and the
 * Redis rate limit.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finverse/banking-platform/internal/app"
)

// RouterOptions bundles the cross-cutting settings routers need.
type RouterOptions struct {
	JWTSecret          string
	InternalAPIKey     string
	RateLimiter        *app.RedisCommandRateLimiter
	RateLimitPerMinute int
}

func baseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	return r
}

// TransactionRoutes exposes the command API.
func TransactionRoutes(h *TransactionHandlers, opts RouterOptions) http.Handler {
	r := baseRouter()
	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.JWTSecret))
		r.Use(RateLimitMiddleware(opts.RateLimiter, "commands", opts.RateLimitPerMinute))
		r.Post("/deposits", h.DepositHandler)
		r.Post("/withdrawals", h.WithdrawalHandler)
		r.Post("/transfers", h.TransferHandler)
		r.Get("/accounts/{accountID}", h.ListTransactionsHandler)
	})
	return r
}

// AccountRoutes exposes account lifecycle operations. Status changes are
// operator actions and sit behind the internal API key.
func AccountRoutes(h *AccountHandlers, opts RouterOptions) http.Handler {
	r := baseRouter()
	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.JWTSecret))
		r.Post("/", h.CreateAccountHandler)
		r.Get("/{accountID}", h.GetAccountHandler)
	})
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(opts.InternalAPIKey))
		r.Post("/{accountID}/suspend", h.SuspendHandler())
		r.Post("/{accountID}/reactivate", h.ReactivateHandler())
		r.Post("/{accountID}/close", h.CloseHandler())
	})
	return r
}

// MovementRoutes exposes the movement read model.
func MovementRoutes(h *MovementHandlers, opts RouterOptions) http.Handler {
	r := baseRouter()
	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.JWTSecret))
		r.Get("/accounts/{accountID}", h.ListMovementsHandler)
		r.Get("/accounts/{accountID}/statement", h.StatementHandler)
	})
	return r
}

// NotificationRoutes exposes a user's in-app notifications.
func NotificationRoutes(h *NotificationHandlers, opts RouterOptions) http.Handler {
	r := baseRouter()
	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.JWTSecret))
		r.Get("/users/{userID}", h.ListNotificationsHandler)
	})
	return r
}
