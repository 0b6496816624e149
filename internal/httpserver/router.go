package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fx-backoffice/internal/accounts"
	"fx-backoffice/internal/auth"
	"fx-backoffice/internal/funding"
	"fx-backoffice/internal/health"
	"fx-backoffice/internal/httputil"
)

type RouterDeps struct {
	AuthHandler     *auth.Handler
	AccountsHandler *accounts.Handler
	FundingHandler  *funding.Handler
	AdminHandler    *funding.AdminHandler
	CallbackHandler *funding.CallbackHandler
	HealthHandler   *health.Handler
	AuthService     *auth.Service
	InternalToken   string
	WSHandler       http.Handler
}

// withUser adapts a userID-taking handler to the chi signature, rejecting
// requests whose context never passed WithAuth.
func withUser(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func withUserID(fn func(http.ResponseWriter, *http.Request, string, string)) http.HandlerFunc {
	return withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		fn(w, r, userID, chi.URLParam(r, "id"))
	})
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Idempotency-Key")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", d.HealthHandler.Get)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	r.Get("/metrics", d.HealthHandler.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		// Provider webhooks carry their own signature, no session auth.
		r.Post("/callbacks/cregis", d.CallbackHandler.ServeHTTP)

		r.Get("/ws", d.WSHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", withUser(d.AuthHandler.Me))
			r.Post("/me/telegram", withUser(d.AuthHandler.SetTelegram))

			r.Get("/accounts", withUser(d.AccountsHandler.List))
			r.Post("/accounts", withUser(d.AccountsHandler.Link))
			r.Post("/accounts/name", withUser(d.AccountsHandler.Rename))

			r.Post("/deposits", withUser(d.FundingHandler.RequestDeposit))
			r.Get("/deposits", withUser(d.FundingHandler.Deposits))
			r.Get("/deposits/{id}", withUserID(d.FundingHandler.GetDeposit))

			r.Post("/withdrawals", withUser(d.FundingHandler.RequestWithdrawal))
			r.Get("/withdrawals", withUser(d.FundingHandler.Withdrawals))
			r.Get("/withdrawals/{id}", withUserID(d.FundingHandler.GetWithdrawal))

			r.Post("/transfers", withUser(d.FundingHandler.Transfer))

			r.Get("/wallet", withUser(d.FundingHandler.Wallet))
			r.Post("/wallet/topup", withUser(d.FundingHandler.WalletTopUp))
			r.Post("/wallet/payout", withUser(d.FundingHandler.WalletPayout))
		})

		// Operator review queue, internal network only.
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Get("/internal/deposits", d.AdminHandler.Deposits)
			r.Get("/internal/withdrawals", d.AdminHandler.Withdrawals)
			r.Post("/internal/deposits/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
				d.AdminHandler.ApproveDeposit(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/deposits/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
				d.AdminHandler.RejectDeposit(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/deposits/{id}/retry-credit", func(w http.ResponseWriter, r *http.Request) {
				d.AdminHandler.RetryDepositCredit(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/withdrawals/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
				d.AdminHandler.ApproveWithdrawal(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/withdrawals/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
				d.AdminHandler.RejectWithdrawal(w, r, chi.URLParam(r, "id"))
			})
		})
	})
	return r
}
