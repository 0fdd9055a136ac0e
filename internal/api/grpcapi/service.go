package grpcapi

/*
Файл service.go gRPC фасад движка: agentwallet.v1.WalletService.

Сообщения google.protobuf.Struct, поэтому ServiceDesc объявлен вручную без
protoc. u64 суммы передаются десятичными строками: number в Struct это
double, он теряет точность выше 2^53.
*/

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

const ServiceName = "agentwallet.v1.WalletService"

// WalletServiceServer контракт, который проверяет grpc.RegisterService
type WalletServiceServer interface {
	CreateAgentWallet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferWithLimit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateLimits(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefundEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWallet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(WalletServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(WalletServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("CreateAgentWallet", WalletServiceServer.CreateAgentWallet),
		handler("TransferWithLimit", WalletServiceServer.TransferWithLimit),
		handler("UpdateLimits", WalletServiceServer.UpdateLimits),
		handler("CreateEscrow", WalletServiceServer.CreateEscrow),
		handler("ReleaseEscrow", WalletServiceServer.ReleaseEscrow),
		handler("RefundEscrow", WalletServiceServer.RefundEscrow),
		handler("GetWallet", WalletServiceServer.GetWallet),
		handler("GetEscrow", WalletServiceServer.GetEscrow),
	},
	Metadata: "agentwallet/v1/wallet.proto",
}

// Service реализация поверх engine.Core
type Service struct {
	core   *engine.Core
	logger *zap.Logger
}

func NewService(core *engine.Core, logger *zap.Logger) *Service {
	return &Service{core: core, logger: logger.Named("grpc-api")}
}

// Register подключает сервис к grpc.Server
func Register(s *grpc.Server, svc WalletServiceServer) {
	s.RegisterService(&ServiceDesc, svc)
}

func (s *Service) CreateAgentWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	req := engine.CreateWalletRequest{
		Org:                r.str("org"),
		AgentID:            r.str("agent_id"),
		SpendingLimitPerTx: r.u64("spending_limit_per_tx"),
		DailyLimit:         r.u64("daily_limit"),
	}
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	w, err := s.core.CreateAgentWallet(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.fail(err)
	}
	return walletStruct(w)
}

func (s *Service) TransferWithLimit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	req := engine.TransferRequest{
		Wallet:         r.walletKey(),
		Recipient:      r.str("recipient"),
		Amount:         r.u64("amount"),
		IdempotencyKey: r.str("idempotency_key"),
	}
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	res, err := s.core.TransferWithLimit(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.fail(err)
	}
	return structpb.NewStruct(map[string]any{
		"transfer_id":       res.TransferID,
		"org":               res.Wallet.Org,
		"agent_id":          res.Wallet.AgentID,
		"recipient":         res.Recipient,
		"amount":            u64s(res.Amount),
		"fee":               u64s(res.Fee),
		"payout":            u64s(res.Payout),
		"daily_spent_after": u64s(res.DailySpentAfter),
		"replayed":          res.Replayed,
	})
}

func (s *Service) UpdateLimits(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	// Перезапись целиком: пропущенное поле не должно молча стать нулем
	r.require("spending_limit_per_tx", "daily_limit", "is_active")
	req := engine.UpdateLimitsRequest{
		Wallet:             r.walletKey(),
		SpendingLimitPerTx: r.u64("spending_limit_per_tx"),
		DailyLimit:         r.u64("daily_limit"),
		IsActive:           r.boolean("is_active"),
	}
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	w, err := s.core.UpdateLimits(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.fail(err)
	}
	return walletStruct(w)
}

func (s *Service) CreateEscrow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	req := engine.CreateEscrowRequest{
		EscrowID:        r.str("escrow_id"),
		Recipient:       r.str("recipient"),
		Arbiter:         r.str("arbiter"),
		Amount:          r.u64("amount"),
		ExpiryTimestamp: r.i64("expiry_timestamp"),
	}
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	e, err := s.core.CreateEscrow(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.fail(err)
	}
	return escrowStruct(e)
}

func (s *Service) ReleaseEscrow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	id := r.str("escrow_id")
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	e, err := s.core.ReleaseEscrow(ctx, auth.CallerFromContext(ctx), id)
	if err != nil {
		return nil, s.fail(err)
	}
	return escrowStruct(e)
}

func (s *Service) RefundEscrow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := reader{in: in}
	id := r.str("escrow_id")
	if r.err != nil {
		return nil, s.fail(r.err)
	}
	e, err := s.core.RefundEscrow(ctx, auth.CallerFromContext(ctx), id)
	if err != nil {
		return nil, s.fail(err)
	}
	return escrowStruct(e)
}

func (s *Service) GetWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	w, err := s.core.GetWallet(ctx, (&reader{in: in}).walletKey())
	if err != nil {
		return nil, s.fail(err)
	}
	return walletStruct(w)
}

func (s *Service) GetEscrow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.core.GetEscrow(ctx, (&reader{in: in}).str("escrow_id"))
	if err != nil {
		return nil, s.fail(err)
	}
	return escrowStruct(e)
}

var _ WalletServiceServer = (*Service)(nil)

// fail статус для клиента; инфраструктурные ошибки логируем здесь, наружу только код
func (s *Service) fail(err error) error {
	if domain.CodeOf(err) == domain.CodeStorageFailure {
		s.logger.Error("grpc call failed", zap.Error(err))
	}
	return toStatus(err)
}

func walletStruct(w *domain.AgentWallet) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"authority":             w.Authority,
		"org":                   w.Org,
		"agent_id":              w.AgentID,
		"spending_limit_per_tx": u64s(w.SpendingLimitPerTx),
		"daily_limit":           u64s(w.DailyLimit),
		"daily_spent":           u64s(w.DailySpent),
		"last_reset_day":        i64s(w.LastResetDay),
		"is_active":             w.IsActive,
	})
}

func escrowStruct(e *domain.Escrow) (*structpb.Struct, error) {
	m := map[string]any{
		"escrow_id":        e.EscrowID,
		"funder":           e.Funder,
		"recipient":        e.Recipient,
		"arbiter":          e.Arbiter,
		"amount":           u64s(e.Amount),
		"expiry_timestamp": i64s(e.ExpiryTimestamp),
		"is_funded":        e.IsFunded,
		"is_released":      e.IsReleased,
		"is_refunded":      e.IsRefunded,
		"status":           string(e.Status()),
	}
	if e.SettledBy != nil {
		m["settled_by"] = *e.SettledBy
	}
	return structpb.NewStruct(m)
}
