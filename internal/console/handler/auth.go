package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/api"
	"github.com/xela07ax/agentwallet/internal/console/service"
	"github.com/xela07ax/agentwallet/internal/domain"
)

type AuthHandler struct {
	service *service.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(s *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger}
}

// Login POST /auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Identity, req.Secret)
	if errors.Is(err, service.ErrInvalidCredentials) {
		api.WriteJSON(w, http.StatusUnauthorized, api.ErrorBody{Code: "UNAUTHENTICATED", Error: err.Error()})
		return
	}
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, resp)
}
