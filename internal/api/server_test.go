package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/store/memory"
)

// identityValidator токен = identity, без криптографии; "root" получает scope admin
type identityValidator struct{}

func (identityValidator) VerifyToken(tok string) (*domain.CustomClaims, error) {
	tok = strings.TrimPrefix(tok, "Bearer ")
	if tok == "" || tok == "bad" {
		return nil, errors.New("invalid token")
	}
	claims := &domain.CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: tok}}
	if tok == "root" {
		claims.Scopes = map[string]bool{domain.ScopeAdmin: true}
	}
	return claims, nil
}

type apiFixture struct {
	core *engine.Core
	srv  *Server
}

func newAPI(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	core := engine.NewCore(memory.New(), zap.NewNop(), engine.WithMetrics(engine.NewMetrics(prometheus.NewRegistry())))
	return &apiFixture{core: core, srv: NewServer(core, identityValidator{}, zap.NewNop(), opts)}
}

func (f *apiFixture) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+caller)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealthAndAuth(t *testing.T) {
	f := newAPI(t, Options{})

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(engine.TraceHeader))

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/platform-config", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/platform-config", "bad", nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/platform-config", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CONFIG_NOT_FOUND", decodeError(t, rec).Code)
}

func TestWalletFlow(t *testing.T) {
	f := newAPI(t, Options{})
	ctx := context.Background()
	_, err := f.core.InitializePlatformConfig(ctx, "root", engine.InitPlatformConfigRequest{FeeWallet: "fees", FeeBps: 250})
	require.NoError(t, err)
	_, err = f.core.Deposit(ctx, "root", "owner", 10_000)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/wallets", "owner", engine.CreateWalletRequest{
		Org: "acme", AgentID: "bot", SpendingLimitPerTx: 1000, DailyLimit: 1500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/wallets", "owner", engine.CreateWalletRequest{
		Org: "acme", AgentID: "bot", SpendingLimitPerTx: 1, DailyLimit: 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/wallets/acme/bot/transfers", "owner", transferBody{Recipient: "shop", Amount: 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res engine.TransferResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, uint64(25), res.Fee)
	assert.Equal(t, uint64(975), res.Payout)
	assert.Equal(t, uint64(1000), res.DailySpentAfter)

	rec = f.do(t, http.MethodPost, "/v1/wallets/acme/bot/transfers", "owner", transferBody{Recipient: "shop", Amount: 600})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DAILY_LIMIT_EXCEEDED", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/wallets/acme/bot/transfers", "mallory", transferBody{Recipient: "shop", Amount: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/wallets/acme/bot/limits", "owner", map[string]any{
		"spending_limit_per_tx": 5, "daily_limit": 5, "is_active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/wallets/acme/bot", "anyone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet domain.AgentWallet
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&wallet))
	assert.False(t, wallet.IsActive)
	assert.Equal(t, uint64(1000), wallet.DailySpent)

	rec = f.do(t, http.MethodGet, "/v1/balances/shop", "shop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
	assert.Equal(t, uint64(975), bal.Balance)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/wallets/acme/ghost", "anyone", nil).Code)
}

func TestEscrowFlow(t *testing.T) {
	f := newAPI(t, Options{})
	_, err := f.core.Deposit(context.Background(), "root", "funder", 500)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/escrows", "funder", engine.CreateEscrowRequest{
		EscrowID: "job-1", Recipient: "worker", Arbiter: "judge", Amount: 500, ExpiryTimestamp: 4_102_444_800,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/escrows/job-1/refund", "worker", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED_ARBITER", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/escrows/job-1/release", "judge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var e domain.Escrow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.True(t, e.IsReleased)

	rec = f.do(t, http.MethodPost, "/v1/escrows/job-1/refund", "judge", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_ESCROW_STATE", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/escrows?party=worker&status=released", "worker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*domain.Escrow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].EscrowID)

	rec = f.do(t, http.MethodGet, "/v1/escrows?status=lost", "worker", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/escrows?limit=abc", "worker", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/escrows/none", "worker", nil).Code)
}

func (f *apiFixture) walletWithBalance(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.core.InitializePlatformConfig(ctx, "root", engine.InitPlatformConfigRequest{FeeWallet: "fees", FeeBps: 100})
	require.NoError(t, err)
	_, err = f.core.Deposit(ctx, "root", "owner", 10_000)
	require.NoError(t, err)
	_, err = f.core.CreateAgentWallet(ctx, "owner", engine.CreateWalletRequest{Org: "acme", AgentID: "bot", SpendingLimitPerTx: 1000, DailyLimit: 5000})
	require.NoError(t, err)
}

func TestTransferIdempotencyAndHistory(t *testing.T) {
	f := newAPI(t, Options{})
	f.walletWithBalance(t)
	const path = "/v1/wallets/acme/bot/transfers"

	rec := f.do(t, http.MethodPost, path, "owner", transferBody{Recipient: "shop", Amount: 500, IdempotencyKey: "order-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first engine.TransferResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&first))
	assert.False(t, first.Replayed)
	assert.NotEmpty(t, first.TransferID)

	// Ключ в заголовке равнозначен ключу в теле
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"recipient":"shop","amount":500}`))
	req.Header.Set("Authorization", "Bearer owner")
	req.Header.Set(IdempotencyHeader, "order-1")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var again engine.TransferResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&again))
	assert.True(t, again.Replayed)
	assert.Equal(t, first.TransferID, again.TransferID)

	rec = f.do(t, http.MethodPost, path, "owner", transferBody{Recipient: "shop", Amount: 501, IdempotencyKey: "order-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/balances/owner", "owner", nil)
	var bal BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
	assert.Equal(t, uint64(9_500), bal.Balance)

	rec = f.do(t, http.MethodGet, path, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Transfer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, first.TransferID, history[0].TransferID)
	assert.Equal(t, uint64(5), history[0].Fee)

	rec = f.do(t, http.MethodGet, path+"/"+first.TransferID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path+"/missing", "owner", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, "mallory", nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/balances/owner/entries", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LedgerEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	// payout, fee, deposit
	require.Len(t, entries, 3)
	assert.Equal(t, domain.MemoTransferPayout, entries[0].Memo)
	assert.Equal(t, uint64(495), entries[0].Amount)
}

func TestUpdateLimitsRequiresAllFields(t *testing.T) {
	f := newAPI(t, Options{})
	f.walletWithBalance(t)
	const path = "/v1/wallets/acme/bot/limits"

	for _, body := range []map[string]any{
		{"spending_limit_per_tx": 10, "daily_limit": 10},
		{"spending_limit_per_tx": 10, "is_active": true},
		{"daily_limit": 10, "is_active": true},
		{},
	} {
		rec := f.do(t, http.MethodPut, path, "owner", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v", body)
		assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
	}

	w, err := f.core.GetWallet(context.Background(), domain.WalletKey{Org: "acme", AgentID: "bot"})
	require.NoError(t, err)
	assert.True(t, w.IsActive)
	assert.Equal(t, uint64(1000), w.SpendingLimitPerTx)

	rec := f.do(t, http.MethodPut, path, "owner", map[string]any{"spending_limit_per_tx": 0, "daily_limit": 0, "is_active": true})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBalanceIsScopedToCaller(t *testing.T) {
	f := newAPI(t, Options{})
	_, err := f.core.Deposit(context.Background(), "root", "alice", 42)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/balances/alice", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/balances/alice/entries", "mallory", nil).Code)

	for _, caller := range []string{"alice", "root"} {
		rec = f.do(t, http.MethodGet, "/v1/balances/alice", caller, nil)
		require.Equal(t, http.StatusOK, rec.Code, caller)
		var bal BalanceResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
		assert.Equal(t, uint64(42), bal.Balance)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	f := newAPI(t, Options{})
	rec := f.do(t, http.MethodPost, "/v1/wallets", "owner", map[string]any{"org": "acme", "agent_id": "x", "authority": "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
}

func TestRateLimitPerCaller(t *testing.T) {
	f := newAPI(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/platform-config", "alice", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/v1/platform-config", "alice", nil).Code)
	// у другого вызывающего свой bucket
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/platform-config", "bob", nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.CodeStorageFailure))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(domain.CodeInsufficientFunds))
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.CodeInvalidAmount))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.CodeConcurrentUpdate))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.CodeIdempotencyConflict))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.CodeTransferNotFound))
}
