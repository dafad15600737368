package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/swapstation/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware станции замены.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Route("/swap", func(r chi.Router) {
			r.Get("/resolve", h.Resolve)
			r.Post("/sessions", h.CheckIn)

			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/diagnostics", h.SubmitDiagnostics)
				r.Post("/damage", h.SubmitDamage)
				r.Post("/installation", h.ConfirmInstallation)
				r.Post("/payment", h.Pay)
				r.Post("/cancel", h.Cancel)
			})
		})

		r.Get("/batteries/{id}/status-options", h.BatteryStatusOptions)
		r.Patch("/batteries/{id}/status", h.UpdateBatteryStatus)

		r.Get("/damage-fees", h.ListDamageFees)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
