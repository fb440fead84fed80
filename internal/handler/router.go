package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chamapay/internal/model"
	"chamapay/internal/mw"
	"chamapay/internal/service"
)

type Services struct {
	Auth        *service.AuthService
	Accounts    *service.AccountService
	Withdrawals *service.DisbursementService
	Approvals   *service.ApprovalService
	OTP         *service.OTPGate
	Reconciler  *service.Reconciler
}

func NewRouter(svc Services, jwtSecret, callbackToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/api/operators/login", LoginHandler(svc.Auth, jwtSecret))

	// Gateway callbacks
	r.Route("/api/callbacks/b2c", func(r chi.Router) {
		r.Use(mw.CallbackToken(callbackToken))
		r.Post("/result", ResultCallbackHandler(svc.Reconciler))
		r.Post("/timeout", TimeoutCallbackHandler(svc.Reconciler))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(jwtSecret))

		r.With(mw.RequireCapability(model.CapOperators)).
			Post("/api/operators/register", RegisterHandler(svc.Auth))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireCapability(model.CapInitiate))
			r.Post("/api/otp", RequestOTPHandler(svc.OTP))
			r.Post("/api/withdrawals", WithdrawHandler(svc.Withdrawals))
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireCapability(model.CapRead))
			r.Get("/api/withdrawals", ListWithdrawalsHandler(svc.Withdrawals))
			r.Get("/api/withdrawals/{id}", GetWithdrawalHandler(svc.Withdrawals))
			r.Get("/api/accounts/{id}", GetAccountHandler(svc.Accounts))
			r.Get("/api/transactions/{id}", GetTransactionHandler(svc.Withdrawals))
			r.Get("/api/reconciliation/stats", ReconcilerStatsHandler(svc.Reconciler))
		})

		r.Route("/api/withdrawals/{id}/approval", func(r chi.Router) {
			r.Use(mw.RequireCapability(model.CapApprove))
			r.Get("/", GetApprovalHandler(svc.Approvals))
			r.Post("/code", RequestApprovalCodeHandler(svc.Approvals))
			r.Post("/approve", ApproveHandler(svc.Approvals))
			r.Post("/reject", RejectHandler(svc.Approvals))
		})

		r.With(mw.RequireCapability(model.CapAccounts)).
			Post("/api/accounts", CreateAccountHandler(svc.Accounts))
	})

	return r
}
