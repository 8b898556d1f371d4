package payment_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, handler *PaymentHandler) {
	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Payment bridge is healthy!"))
		})
	})

	r.Route("/elepay", func(r chi.Router) {
		r.Get("/checkout", handler.CheckoutHandler)
		r.Get("/checkout/validate", handler.CheckoutValidateHandler)
		r.Post("/webhook", handler.WebhookHandler)
		r.Get("/admin/redirect", handler.AdminRedirectHandler)
		r.Get("/payment-methods", handler.PaymentMethodsHandler)
		r.Get("/orders/{id}/charge", handler.OrderChargeHandler)
	})
}
