package handler

import (
	"net/http"

	"chamapay/internal/service"
)

type registerRequest struct {
	Login        string   `json:"login"`
	Password     string   `json:"password"`
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	Capabilities []string `json:"capabilities"`
}

// RegisterHandler creates an operator. Only operators holding
// operators:manage reach it.
func RegisterHandler(authSvc *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		if req.Login == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "login and password required")
			return
		}

		op, err := authSvc.Register(r.Context(), service.RegisterRequest{
			Login:        req.Login,
			Password:     req.Password,
			Name:         req.Name,
			Phone:        req.Phone,
			Capabilities: req.Capabilities,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, op)
	}
}
