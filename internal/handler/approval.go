package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chamapay/internal/model"
	"chamapay/internal/mw"
	"chamapay/internal/service"
)

type otpRequest struct {
	Phone string `json:"phone"`
}

type otpResponse struct {
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// RequestOTPHandler sends a one-time code to the given phone, or to the
// operator's own phone when none is given.
func RequestOTPHandler(gate *service.OTPGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
		}
		if req.Phone == "" {
			claims, _ := mw.OperatorFrom(r.Context())
			req.Phone = claims.Phone
		}

		if err := gate.RequestCode(r.Context(), req.Phone); err != nil {
			if errors.Is(err, service.ErrValidation) {
				writeJSON(w, http.StatusUnprocessableEntity, otpResponse{Sent: false, Error: err.Error()})
				return
			}
			slog.Error("otp delivery failed", "error", err)
			writeJSON(w, http.StatusBadGateway, otpResponse{Sent: false})
			return
		}
		writeJSON(w, http.StatusOK, otpResponse{Sent: true})
	}
}

type approvalRequest struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func approverFrom(r *http.Request) model.Initiator {
	claims, _ := mw.OperatorFrom(r.Context())
	return model.Initiator{OperatorID: claims.Subject, Name: claims.Name, Phone: claims.Phone}
}

func GetApprovalHandler(approvalSvc *service.ApprovalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := approvalSvc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func RequestApprovalCodeHandler(approvalSvc *service.ApprovalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := approvalSvc.RequestCode(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, otpResponse{Sent: true})
	}
}

func ApproveHandler(approvalSvc *service.ApprovalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approvalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		wd, err := approvalSvc.Approve(r.Context(), chi.URLParam(r, "id"), approverFrom(r), req.Code)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wd)
	}
}

func RejectHandler(approvalSvc *service.ApprovalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approvalRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		wd, err := approvalSvc.Reject(r.Context(), chi.URLParam(r, "id"), approverFrom(r), req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wd)
	}
}
