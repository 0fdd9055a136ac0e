package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/api"
	"github.com/xela07ax/agentwallet/internal/console/service"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

type DepositRequest struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
}

type DepositResponse struct {
	Identity     string `json:"identity"`
	BalanceAfter uint64 `json:"balance_after"`
}

type CreateCredentialRequest struct {
	Identity string          `json:"identity"`
	Secret   string          `json:"secret"`
	Scopes   map[string]bool `json:"scopes"`
}

// AdminHandler операции платформы: конфиг комиссий, пополнения, учетки
type AdminHandler struct {
	core   *engine.Core
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAdminHandler(core *engine.Core, authService *service.AuthService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{core: core, auth: authService, logger: logger}
}

// InitPlatformConfig POST /v1/admin/platform-config, authority = admin из токена
func (h *AdminHandler) InitPlatformConfig(w http.ResponseWriter, r *http.Request) {
	var req engine.InitPlatformConfigRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	cfg, err := h.core.InitializePlatformConfig(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, cfg)
}

// Deposit POST /v1/admin/deposits
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	after, err := h.core.Deposit(r.Context(), auth.CallerFromContext(r.Context()), req.Identity, req.Amount)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, DepositResponse{Identity: req.Identity, BalanceAfter: after})
}

// CreateCredential POST /v1/admin/credentials
func (h *AdminHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	cred, err := h.auth.CreateCredential(r.Context(), req.Identity, req.Secret, req.Scopes)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, cred)
}
