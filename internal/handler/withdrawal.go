package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"chamapay/internal/model"
	"chamapay/internal/mw"
	"chamapay/internal/service"
	"chamapay/internal/store"
)

type withdrawRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone"`
	Reason    string          `json:"reason"`
	Remarks   string          `json:"remarks"`
	Initiator model.Initiator `json:"initiator"`
	OTP       string          `json:"otp"`
}

// WithdrawHandler answers 201 for every withdrawal it records, including one
// the gateway refused at submission; the body carries the status.
func WithdrawHandler(withdrawalSvc *service.DisbursementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req withdrawRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		req.Initiator.OperatorID = ""
		if claims, ok := mw.OperatorFrom(r.Context()); ok {
			req.Initiator.OperatorID = claims.Subject
			if req.Initiator.Name == "" {
				req.Initiator.Name = claims.Name
			}
			if req.Initiator.Phone == "" {
				req.Initiator.Phone = claims.Phone
			}
		}

		wd, err := withdrawalSvc.Initiate(r.Context(), service.InitiateRequest{
			AccountID: req.AccountID,
			Amount:    req.Amount,
			Phone:     req.Phone,
			Reason:    req.Reason,
			Remarks:   req.Remarks,
			Initiator: req.Initiator,
			OTP:       req.OTP,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, wd)
	}
}

func ListWithdrawalsHandler(withdrawalSvc *service.DisbursementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseWithdrawalFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		withdrawals, err := withdrawalSvc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if withdrawals == nil {
			withdrawals = []model.Withdrawal{}
		}
		writeJSON(w, http.StatusOK, withdrawals)
	}
}

func GetWithdrawalHandler(withdrawalSvc *service.DisbursementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, err := withdrawalSvc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wd)
	}
}

func parseWithdrawalFilter(r *http.Request) (store.WithdrawalFilter, error) {
	q := r.URL.Query()
	f := store.WithdrawalFilter{
		Status:    model.WithdrawalStatus(q.Get("status")),
		AccountID: q.Get("account_id"),
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, errBadParam("from")
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, errBadParam("to")
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, errBadParam("limit")
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) + " parameter" }
