package handlers

import (
	"net/http"

	"nyumbani/internal/config"
	"nyumbani/internal/db"
	"nyumbani/internal/middleware"
	"nyumbani/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	cfg        config.Config
	txRunner   db.TxRunner
	users      UserStore
	wallet     WalletService
	authorizer AuthorizerService
	packages   PackageStore
	payments   PaymentService
	paymentLog PaymentStore
	wallets    WalletChecker
	audit      AuditStore
	hub        *websocket.Hub
}

func New(cfg config.Config, txRunner db.TxRunner, users UserStore, wallet WalletService, authorizer AuthorizerService, packages PackageStore, payments PaymentService, paymentLog PaymentStore, wallets WalletChecker, audit AuditStore, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:        cfg,
		txRunner:   txRunner,
		users:      users,
		wallet:     wallet,
		authorizer: authorizer,
		packages:   packages,
		payments:   payments,
		paymentLog: paymentLog,
		wallets:    wallets,
		audit:      audit,
		hub:        hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})
	router.Route("/tokens", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/balance", h.GetBalance)
		r.Get("/history", h.GetHistory)
		r.Post("/authorize", h.AuthorizeAction)
		r.Post("/reversal", h.ReverseDebit)
	})
	router.Get("/packages", h.ListPackages)
	router.Get("/packages/{id}", h.GetPackage)
	router.Route("/payments", func(r chi.Router) {
		r.Post("/callback", h.PaymentCallback)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.Post("/initiate", h.InitiatePayment)
			r.Get("/", h.ListPayments)
			r.Get("/{checkoutRequestID}/status", h.PaymentStatus)
			r.Get("/{checkoutRequestID}/wait", h.PaymentWait)
		})
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireRole(h.users, "admin"))
		r.Get("/transactions", h.AdminListTransactions)
		r.Get("/audit", h.ListAuditLogs)
		r.Post("/reconcile", h.ReconcilePayments)
		r.Get("/wallets/self-check", h.WalletSelfCheck)
		r.Post("/packages", h.CreatePackage)
		r.Post("/packages/{id}/deactivate", h.DeactivatePackage)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
