package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yashasviy/peer-transfer-api/middleware"
)

// NewRouter wires every route. Everything under /api except registration
// and login requires a bearer token resolved by resolver.
func NewRouter(h *Handler, resolver middleware.Resolver, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.Tracing, middleware.Metrics, chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, "ok", nil)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(resolver, logger))

			r.Post("/user/logout", h.Logout)
			r.Delete("/user", h.DeleteUser)
			r.Get("/user/search", h.SearchUsers)

			r.Post("/account/sendMoney", h.SendMoney)
			r.Get("/account/balance", h.Balance)
			r.Get("/account/balance/{accountID}", h.Balance)
		})
	})
	return r
}

func accountParam(r *http.Request) string {
	return chi.URLParam(r, "accountID")
}
