package grpcapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/store/memory"
)

type identityValidator struct{}

func (identityValidator) VerifyToken(tok string) (*domain.CustomClaims, error) {
	tok = strings.TrimPrefix(tok, "Bearer ")
	if tok == "" || tok == "bad" {
		return nil, errors.New("invalid token")
	}
	return &domain.CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: tok}}, nil
}

type grpcFixture struct {
	core *engine.Core
	conn *grpc.ClientConn
}

func newGRPC(t *testing.T) *grpcFixture {
	t.Helper()
	core := engine.NewCore(memory.New(), zap.NewNop(), engine.WithMetrics(engine.NewMetrics(prometheus.NewRegistry())))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(identityValidator{}, zap.NewNop())))
	Register(srv, NewService(core, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcFixture{core: core, conn: conn}
}

func (f *grpcFixture) call(t *testing.T, caller, method string, in map[string]any) (map[string]any, error) {
	t.Helper()
	return NewClient(f.conn, caller).Call(context.Background(), method, in)
}

func field(m map[string]any, name string) any {
	return m[name]
}

func TestAuthRequired(t *testing.T) {
	f := newGRPC(t)

	_, err := f.call(t, "", "GetWallet", map[string]any{"org": "acme", "agent_id": "bot"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = f.call(t, "bad", "GetWallet", map[string]any{"org": "acme", "agent_id": "bot"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = f.call(t, "alice", "GetWallet", map[string]any{"org": "acme", "agent_id": "bot"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "WALLET_NOT_FOUND")
}

func TestWalletOverGRPC(t *testing.T) {
	f := newGRPC(t)
	ctx := context.Background()
	_, err := f.core.InitializePlatformConfig(ctx, "root", engine.InitPlatformConfigRequest{FeeWallet: "fees", FeeBps: 100})
	require.NoError(t, err)
	_, err = f.core.Deposit(ctx, "root", "owner", 18_000_000_000_000_000_000)
	require.NoError(t, err)

	out, err := f.call(t, "owner", "CreateAgentWallet", map[string]any{
		"org": "acme", "agent_id": "bot",
		"spending_limit_per_tx": "18000000000000000000",
		"daily_limit":           "18446744073709551615",
	})
	require.NoError(t, err)
	assert.Equal(t, "owner", field(out, "authority"))
	assert.Equal(t, "18446744073709551615", field(out, "daily_limit"))

	out, err = f.call(t, "owner", "TransferWithLimit", map[string]any{
		"org": "acme", "agent_id": "bot", "recipient": "shop", "amount": "10000000000000000001",
	})
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000", field(out, "fee"))
	assert.Equal(t, "9900000000000000001", field(out, "payout"))
	assert.Equal(t, "10000000000000000001", field(out, "daily_spent_after"))

	_, err = f.call(t, "owner", "TransferWithLimit", map[string]any{
		"org": "acme", "agent_id": "bot", "recipient": "shop", "amount": "-5",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.call(t, "intruder", "UpdateLimits", map[string]any{
		"org": "acme", "agent_id": "bot", "spending_limit_per_tx": "1", "daily_limit": "1", "is_active": true,
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err = f.call(t, "owner", "UpdateLimits", map[string]any{
		"org": "acme", "agent_id": "bot", "spending_limit_per_tx": 5, "daily_limit": 10, "is_active": false,
	})
	require.NoError(t, err)
	assert.Equal(t, false, field(out, "is_active"))

	_, err = f.call(t, "owner", "TransferWithLimit", map[string]any{
		"org": "acme", "agent_id": "bot", "recipient": "shop", "amount": "1",
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "WALLET_INACTIVE")
}

func TestUpdateLimitsOverGRPCRequiresAllFields(t *testing.T) {
	f := newGRPC(t)
	_, err := f.call(t, "owner", "CreateAgentWallet", map[string]any{
		"org": "acme", "agent_id": "bot", "spending_limit_per_tx": "5", "daily_limit": "10",
	})
	require.NoError(t, err)

	_, err = f.call(t, "owner", "UpdateLimits", map[string]any{
		"org": "acme", "agent_id": "bot", "spending_limit_per_tx": "7", "daily_limit": "9",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "is_active")

	// кошелек не тронут
	w, err := f.core.GetWallet(context.Background(), domain.WalletKey{Org: "acme", AgentID: "bot"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), w.SpendingLimitPerTx)
	assert.True(t, w.IsActive)
}

func TestTransferIdempotencyOverGRPC(t *testing.T) {
	f := newGRPC(t)
	ctx := context.Background()
	_, err := f.core.InitializePlatformConfig(ctx, "root", engine.InitPlatformConfigRequest{FeeWallet: "fees", FeeBps: 0})
	require.NoError(t, err)
	_, err = f.core.Deposit(ctx, "root", "owner", 100)
	require.NoError(t, err)
	_, err = f.call(t, "owner", "CreateAgentWallet", map[string]any{
		"org": "acme", "agent_id": "bot", "spending_limit_per_tx": "50", "daily_limit": "100",
	})
	require.NoError(t, err)

	req := map[string]any{"org": "acme", "agent_id": "bot", "recipient": "shop", "amount": "30", "idempotency_key": "k-1"}
	first, err := f.call(t, "owner", "TransferWithLimit", req)
	require.NoError(t, err)
	assert.Equal(t, false, field(first, "replayed"))

	again, err := f.call(t, "owner", "TransferWithLimit", req)
	require.NoError(t, err)
	assert.Equal(t, true, field(again, "replayed"))
	assert.Equal(t, field(first, "transfer_id"), field(again, "transfer_id"))

	req["amount"] = "31"
	_, err = f.call(t, "owner", "TransferWithLimit", req)
	assert.Equal(t, codes.Aborted, status.Code(err))

	bal, err := f.core.Balance(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), bal)
}

func TestEscrowOverGRPC(t *testing.T) {
	f := newGRPC(t)
	_, err := f.core.Deposit(context.Background(), "root", "funder", 700)
	require.NoError(t, err)

	out, err := f.call(t, "funder", "CreateEscrow", map[string]any{
		"escrow_id": "e-1", "recipient": "worker", "arbiter": "judge", "amount": "700", "expiry_timestamp": "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "funded", field(out, "status"))

	_, err = f.call(t, "funder", "CreateEscrow", map[string]any{
		"escrow_id": "e-1", "recipient": "worker", "arbiter": "judge", "amount": "1", "expiry_timestamp": "1",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	// срок истек: refund может сделать кто угодно
	out, err = f.call(t, "stranger", "RefundEscrow", map[string]any{"escrow_id": "e-1"})
	require.NoError(t, err)
	assert.Equal(t, "refunded", field(out, "status"))
	assert.Equal(t, "stranger", field(out, "settled_by"))

	_, err = f.call(t, "judge", "ReleaseEscrow", map[string]any{"escrow_id": "e-1"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	out, err = f.call(t, "worker", "GetEscrow", map[string]any{"escrow_id": "e-1"})
	require.NoError(t, err)
	assert.Equal(t, "700", field(out, "amount"))

	bal, err := f.core.Balance(context.Background(), "funder")
	require.NoError(t, err)
	assert.Equal(t, uint64(700), bal)
}

func TestClientThrottle(t *testing.T) {
	core := engine.NewCore(memory.New(), zap.NewNop(), engine.WithMetrics(engine.NewMetrics(prometheus.NewRegistry())))
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		UnaryAuthInterceptor(identityValidator{}, zap.NewNop()),
		UnaryRateLimitInterceptor(func(caller string) bool { return caller != "greedy" }),
	))
	Register(srv, NewService(core, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewClient(conn, "greedy").Call(context.Background(), "GetEscrow", map[string]any{"escrow_id": "x"})
	var throttled *ThrottleError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, codes.ResourceExhausted, status.Code(throttled.Cause))

	_, err = NewClient(conn, "polite").Call(context.Background(), "GetEscrow", map[string]any{"escrow_id": "x"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestReaderRejectsLossyNumbers(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{"a": 1.5, "b": 1e17, "c": 42.0, "d": true})
	require.NoError(t, err)

	r := reader{in: in}
	assert.Equal(t, uint64(42), r.u64("c"))
	assert.NoError(t, r.err)

	r.u64("a")
	assert.Error(t, r.err)

	r = reader{in: in}
	r.u64("b")
	assert.Error(t, r.err)

	r = reader{in: in}
	r.str("d")
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(r.err))
}
