package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"chamapay/internal/service"
)

type createAccountRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerType string          `json:"owner_type"`
	Balance   decimal.Decimal `json:"balance"`
}

func CreateAccountHandler(accountSvc *service.AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		acc, err := accountSvc.Create(r.Context(), service.CreateAccountRequest{
			ID:        req.ID,
			Name:      req.Name,
			OwnerType: req.OwnerType,
			Balance:   req.Balance,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, acc)
	}
}

func GetAccountHandler(accountSvc *service.AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := accountSvc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

// GetTransactionHandler serves ledger movements to the fraud scorer.
func GetTransactionHandler(withdrawalSvc *service.DisbursementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := withdrawalSvc.Transaction(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, txn)
	}
}
