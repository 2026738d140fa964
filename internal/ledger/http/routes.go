package ledgerhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers ledger report endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/balance-sheet", h.handleBalanceSheet)
	r.Get("/profit-and-loss", h.handleProfitAndLoss)
	r.Get("/trial-balance", h.handleTrialBalance)
	r.Get("/accounts/{id}/balance", h.handleAccountBalance)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/integrity", h.handleIntegrity)
	})
}
