package grpcapi

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

// traceMetadataKey gRPC аналог X-Trace-ID (ключи metadata в нижнем регистре)
const traceMetadataKey = "x-trace-id"

// UnaryAuthInterceptor проверяет RS256 токен в metadata "authorization"
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}

		ctx = auth.WithClaims(ctx, claims)
		if ids := md.Get(traceMetadataKey); len(ids) > 0 && ids[0] != "" {
			ctx = engine.WithTraceID(ctx, ids[0])
		}
		return handler(ctx, req)
	}
}

// UnaryRateLimitInterceptor тот же лимит на вызывающего, что и в HTTP
func UnaryRateLimitInterceptor(allow func(caller string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !allow(auth.CallerFromContext(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func grpcCode(code domain.Code) codes.Code {
	switch code {
	case domain.CodeWalletNotFound, domain.CodeEscrowNotFound, domain.CodeConfigNotFound, domain.CodeTransferNotFound:
		return codes.NotFound
	case domain.CodeWalletExists, domain.CodeEscrowExists, domain.CodeConfigExists:
		return codes.AlreadyExists
	case domain.CodeIdempotencyConflict, domain.CodeConcurrentUpdate:
		return codes.Aborted
	case domain.CodeInvalidArgument, domain.CodeInvalidAmount:
		return codes.InvalidArgument
	case domain.CodeUnauthorizedAuthority, domain.CodeUnauthorizedArbiter, domain.CodeForbidden:
		return codes.PermissionDenied
	case domain.CodeStorageFailure:
		return codes.Internal
	default:
		return codes.FailedPrecondition
	}
}

// toStatus сообщение начинается с кода движка: "DAILY_LIMIT_EXCEEDED: ..."
func toStatus(err error) error {
	code := domain.CodeOf(err)
	msg := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	if code == domain.CodeStorageFailure {
		msg = domain.ErrStorageFailure.Message
	}
	return status.Error(grpcCode(code), string(code)+": "+msg)
}
