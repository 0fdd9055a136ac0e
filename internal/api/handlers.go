package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

// IdempotencyHeader альтернатива полю idempotency_key в теле перевода
const IdempotencyHeader = "Idempotency-Key"

type transferBody struct {
	Recipient      string `json:"recipient"`
	Amount         uint64 `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// limitsBody перезапись целиком: все три поля обязательны, иначе пропуск обнулил бы лимит
type limitsBody struct {
	SpendingLimitPerTx *uint64 `json:"spending_limit_per_tx"`
	DailyLimit         *uint64 `json:"daily_limit"`
	IsActive           *bool   `json:"is_active"`
}

func (b limitsBody) request(key domain.WalletKey) (engine.UpdateLimitsRequest, error) {
	if b.SpendingLimitPerTx == nil || b.DailyLimit == nil || b.IsActive == nil {
		return engine.UpdateLimitsRequest{}, domain.Errorf(domain.CodeInvalidArgument,
			"spending_limit_per_tx, daily_limit and is_active are all required")
	}
	return engine.UpdateLimitsRequest{
		Wallet:             key,
		SpendingLimitPerTx: *b.SpendingLimitPerTx,
		DailyLimit:         *b.DailyLimit,
		IsActive:           *b.IsActive,
	}, nil
}

type BalanceResponse struct {
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
}

func walletKey(r *http.Request) domain.WalletKey {
	return domain.WalletKey{Org: chi.URLParam(r, "org"), AgentID: chi.URLParam(r, "agentID")}
}

// POST /v1/wallets
func (s *Server) createWallet(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateWalletRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, s.logger, err)
		return
	}
	wallet, err := s.core.CreateAgentWallet(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, wallet)
}

// GET /v1/wallets/{org}/{agentID}
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.core.GetWallet(r.Context(), walletKey(r))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, wallet)
}

// POST /v1/wallets/{org}/{agentID}/transfers
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, s.logger, err)
		return
	}
	key := body.IdempotencyKey
	if key == "" {
		key = r.Header.Get(IdempotencyHeader)
	}
	res, err := s.core.TransferWithLimit(r.Context(), auth.CallerFromContext(r.Context()), engine.TransferRequest{
		Wallet:         walletKey(r),
		Recipient:      body.Recipient,
		Amount:         body.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// PUT /v1/wallets/{org}/{agentID}/limits
func (s *Server) updateLimits(w http.ResponseWriter, r *http.Request) {
	var body limitsBody
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, s.logger, err)
		return
	}
	req, err := body.request(walletKey(r))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	wallet, err := s.core.UpdateLimits(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, wallet)
}

// GET /v1/wallets/{org}/{agentID}/transfers?limit=
func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	list, err := s.core.ListTransfers(r.Context(), auth.CallerFromContext(r.Context()), domain.TransferFilter{Wallet: walletKey(r), Limit: limit})
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	if list == nil {
		list = []*domain.Transfer{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// GET /v1/wallets/{org}/{agentID}/transfers/{transferID}
func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := s.core.GetTransfer(r.Context(), auth.CallerFromContext(r.Context()), walletKey(r), chi.URLParam(r, "transferID"))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, tr)
}

// POST /v1/escrows
func (s *Server) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateEscrowRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, s.logger, err)
		return
	}
	e, err := s.core.CreateEscrow(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, e)
}

// GET /v1/escrows?party=&status=&limit=
func (s *Server) listEscrows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := domain.ParseEscrowStatus(q.Get("status"))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	f := domain.EscrowFilter{Party: q.Get("party"), Status: status}
	if f.Limit, err = queryLimit(r); err != nil {
		WriteError(w, s.logger, err)
		return
	}
	list, err := s.core.ListEscrows(r.Context(), f)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	if list == nil {
		list = []*domain.Escrow{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// GET /v1/escrows/{id}
func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.core.GetEscrow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

func (s *Server) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.core.ReleaseEscrow(r.Context(), auth.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

func (s *Server) refundEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.core.RefundEscrow(r.Context(), auth.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

// ownIdentity чужой счет виден только со scope admin
func ownIdentity(r *http.Request) (string, error) {
	identity := chi.URLParam(r, "identity")
	if identity == auth.CallerFromContext(r.Context()) {
		return identity, nil
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.HasScope(domain.ScopeAdmin) {
		return identity, nil
	}
	return "", domain.ErrForbidden
}

// GET /v1/balances/{identity}
func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	identity, err := ownIdentity(r)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	b, err := s.core.Balance(r.Context(), identity)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, BalanceResponse{Identity: identity, Balance: b})
}

// GET /v1/balances/{identity}/entries?limit=
func (s *Server) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	identity, err := ownIdentity(r)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	entries, err := s.core.LedgerEntries(r.Context(), identity, limit)
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "limit must be an integer")
	}
	return limit, nil
}

func (s *Server) platformConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.core.GetPlatformConfig(r.Context())
	if err != nil {
		WriteError(w, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}
