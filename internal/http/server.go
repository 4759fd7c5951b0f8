package http

import (
	"L402Paywall/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(handler.Logger))
	r.Use(cors)

	r.Get("/health", handler.Health)
	r.Get("/signup", handler.Signup)
	r.Post("/signup", handler.Signup)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth)
		r.Get("/info", handler.Info)
		r.Get("/block", handler.Block)
		r.Get("/credits-payment-options", handler.PaymentOptions)
	})

	r.Route("/l402", func(r chi.Router) {
		r.Post("/payment-request", handler.CreatePaymentRequest)
		r.Get("/payments/{token}", handler.GetPayment)
	})

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/lightning", handler.Webhook(models.ProviderLightning))
		r.Post("/coinbase", handler.Webhook(models.ProviderCoinbase))
	})

	return &Server{Router: r}
}
