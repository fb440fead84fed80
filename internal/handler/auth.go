package handler

import (
	"net/http"
	"time"

	"chamapay/internal/mw"
	"chamapay/internal/service"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginHandler returns the operator token in the Authorization header and in
// the body.
func LoginHandler(authSvc *service.AuthService, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		op, err := authSvc.Authenticate(r.Context(), req.Login, req.Password)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		token, err := mw.IssueToken(op, secret, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token generation failed")
			return
		}

		w.Header().Set("Authorization", "Bearer "+token)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        token,
			"operator_id":  op.ID,
			"capabilities": op.Capabilities,
		})
	}
}
