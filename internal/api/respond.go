package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// ErrorBody единый формат ошибки для клиентов
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// StatusFor HTTP статус для кода движка
func StatusFor(code domain.Code) int {
	switch code {
	case domain.CodeWalletNotFound, domain.CodeEscrowNotFound, domain.CodeConfigNotFound, domain.CodeTransferNotFound:
		return http.StatusNotFound
	case domain.CodeWalletExists, domain.CodeEscrowExists, domain.CodeConfigExists,
		domain.CodeIdempotencyConflict, domain.CodeConcurrentUpdate:
		return http.StatusConflict
	case domain.CodeInvalidArgument, domain.CodeInvalidAmount:
		return http.StatusBadRequest
	case domain.CodeUnauthorizedAuthority, domain.CodeUnauthorizedArbiter, domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeWalletInactive,
		domain.CodeSpendingLimitExceeded,
		domain.CodeDailyLimitExceeded,
		domain.CodeArithmeticOverflow,
		domain.CodeInvalidFeeCalculation,
		domain.CodeEscrowNotFunded,
		domain.CodeInvalidEscrowState,
		domain.CodeEscrowExpired,
		domain.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError ответ по ошибке движка. Детали инфраструктурных ошибок наружу не отдаем.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := domain.CodeOf(err)
	status := StatusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = domain.ErrStorageFailure.Message
	}
	WriteJSON(w, status, ErrorBody{Code: string(code), Error: msg})
}

// DecodeJSON строгий разбор тела запроса
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Errorf(domain.CodeInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}
