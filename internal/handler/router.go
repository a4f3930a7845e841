package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mmeshcher/loyalty-ledger/internal/feed"
	custommiddleware "github.com/mmeshcher/loyalty-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(custommiddleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Get("/accounts/{id}/transactions", h.ListAccountTransactions)
		r.Get("/accounts/{id}/promotions", h.EligiblePromotions)
		r.Post("/accounts/{id}/topups", h.CreateTopUp)
		r.Post("/accounts/{id}/charges", h.Charge)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/complete", h.CompleteOrder)

		r.Post("/promotions/{id}/redeem", h.RedeemPromotion)

		r.Get("/leaderboard", h.GetLeaderboard)

		if h.hub != nil {
			r.Get("/feed", feed.Handler(h.hub))
		}

		r.Route("/admin", func(r chi.Router) {
			r.With(custommiddleware.RateLimit(h.loginLimiter)).Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.auth.Middleware)

				r.Post("/accounts/{id}/points", h.AdjustPoints)
				r.Post("/accounts/{id}/wallet", h.AdjustWallet)
				r.Get("/transactions", h.ListTransactions)

				r.Post("/orders/{id}/cancel", h.CancelOrder)

				r.Get("/topups", h.ListTopUps)
				r.Get("/topups/stats", h.TopUpStats)
				r.Post("/topups/{id}/approve", h.ApproveTopUp)
				r.Post("/topups/{id}/reject", h.RejectTopUp)

				r.Get("/promotions", h.ListPromotions)
				r.Post("/promotions", h.CreatePromotion)
				r.Post("/promotions/assign-top", h.AssignTopCustomerPromotions)

				r.Post("/leaderboard/rebuild", h.RebuildLeaderboard)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
