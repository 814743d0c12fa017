package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes builds the full HTTP surface: public webhook ingress plus the
// admin and analytics groups behind adminAuth.
func (h *Handler) Routes(adminAuth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccessResponse(w, http.StatusOK, "ok", nil)
	})

	// --- Public Routes ---
	r.Post("/api/v1/webhooks/{source}", h.HandleWebhook)
	h.Log.Info("ROUTER", "Webhook ingress registered at /api/v1/webhooks/{source}")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(adminAuth)

		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Post("/resync", h.HandleResync)
			r.Get("/audits", h.HandleAudits)
			r.Post("/reconcile", h.HandleReconcile)
			r.Get("/integrity", h.HandleIntegrity)
			r.Post("/rollups/refresh", h.HandleRollupRefresh)
			r.Get("/rollups/refresh", h.HandleRollupRefresh)
			r.Get("/orders/{externalId}", h.HandleGetOrder)
		})
		h.Log.Info("ROUTER", "Admin routes registered under /api/v1/admin")

		r.Route("/api/v1/analytics", func(r chi.Router) {
			r.Get("/totals", h.HandleRangeTotals)
			r.Get("/channels", h.HandleChannelBreakdown)
			r.Get("/products/top", h.HandleTopProducts)
			r.Get("/trend", h.HandleDailyTrend)
		})
		h.Log.Info("ROUTER", "Analytics routes registered under /api/v1/analytics")
	})

	return r
}
