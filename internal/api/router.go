package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/samandr77/microservices/billing/docs" // swagger docs
)

func NewRouter(h *Handler, mw *Middleware) http.Handler {
	mux := chi.NewRouter()
	mux.Use(mw.Log, mw.Recover, mw.Cors)

	mux.Route("/api", func(r chi.Router) {
		r.HandleFunc("/health", h.HealthHandler)
		r.HandleFunc("/swagger/*", httpSwagger.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(mw.ServiceAuth)
				r.Post("/payments/orders", h.CreateOrder)
				r.Post("/payments/verify", h.Verify)
				r.Get("/invoices/{invoiceId}/payments", h.InvoicePayments)
			})

			// Authenticated by the payload signature.
			r.Post("/webhooks/razorpay", h.RazorpayWebhook)
		})
	})

	return mux
}
