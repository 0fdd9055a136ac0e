package domain

import (
	"errors"
	"fmt"
)

// Code стабильный машиночитаемый вид ошибки движка
type Code string

const (
	CodeWalletInactive        Code = "WALLET_INACTIVE"
	CodeSpendingLimitExceeded Code = "SPENDING_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded    Code = "DAILY_LIMIT_EXCEEDED"
	CodeArithmeticOverflow    Code = "ARITHMETIC_OVERFLOW"
	CodeInvalidFeeCalculation Code = "INVALID_FEE_CALCULATION"
	CodeEscrowNotFunded       Code = "ESCROW_NOT_FUNDED"
	CodeInvalidEscrowState    Code = "INVALID_ESCROW_STATE"
	CodeEscrowExpired         Code = "ESCROW_EXPIRED"
	CodeUnauthorizedArbiter   Code = "UNAUTHORIZED_ARBITER"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeUnauthorizedAuthority Code = "UNAUTHORIZED_AUTHORITY"

	// Ошибки уровня хранилища и леджера
	CodeWalletNotFound    Code = "WALLET_NOT_FOUND"
	CodeWalletExists      Code = "WALLET_EXISTS"
	CodeEscrowNotFound    Code = "ESCROW_NOT_FOUND"
	CodeEscrowExists      Code = "ESCROW_EXISTS"
	CodeConfigNotFound    Code = "CONFIG_NOT_FOUND"
	CodeConfigExists      Code = "CONFIG_EXISTS"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeStorageFailure    Code = "STORAGE_FAILURE"

	CodeTransferNotFound    Code = "TRANSFER_NOT_FOUND"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeConcurrentUpdate    Code = "CONCURRENT_UPDATE" // Конфликт блокировок не разрешился за отведенные повторы
	CodeForbidden           Code = "FORBIDDEN"
)

// Error несет Code. errors.Is сравнивает по коду, поэтому обернутую ошибку
// можно сверять с сентинелами ниже.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf ошибка заданного вида с уточненным сообщением
func Errorf(code Code, format string, args ...any) *Error {
	return newError(code, fmt.Sprintf(format, args...))
}

var (
	ErrWalletInactive        = newError(CodeWalletInactive, "agent wallet is inactive and cannot process transactions")
	ErrSpendingLimitExceeded = newError(CodeSpendingLimitExceeded, "transaction amount exceeds the per-transaction spending limit")
	ErrDailyLimitExceeded    = newError(CodeDailyLimitExceeded, "transaction would exceed the daily spending limit")
	ErrArithmeticOverflow    = newError(CodeArithmeticOverflow, "arithmetic overflow occurred")
	ErrInvalidFeeCalculation = newError(CodeInvalidFeeCalculation, "fee calculation resulted in an invalid amount")
	ErrEscrowNotFunded       = newError(CodeEscrowNotFunded, "escrow account has not been funded yet")
	ErrInvalidEscrowState    = newError(CodeInvalidEscrowState, "escrow is in an invalid state for this operation")
	// ErrEscrowExpired зарезервирована: истечение срока только расширяет круг тех, кто может сделать refund
	ErrEscrowExpired         = newError(CodeEscrowExpired, "escrow has expired and can only be refunded")
	ErrUnauthorizedArbiter   = newError(CodeUnauthorizedArbiter, "only the designated arbiter can perform this action")
	ErrInvalidAmount         = newError(CodeInvalidAmount, "identifier must be between 1 and 64 bytes")
	ErrUnauthorizedAuthority = newError(CodeUnauthorizedAuthority, "caller is not the wallet authority")

	ErrWalletNotFound    = newError(CodeWalletNotFound, "agent wallet not found")
	ErrWalletExists      = newError(CodeWalletExists, "agent wallet already exists")
	ErrEscrowNotFound    = newError(CodeEscrowNotFound, "escrow not found")
	ErrEscrowExists      = newError(CodeEscrowExists, "escrow already exists")
	ErrConfigNotFound    = newError(CodeConfigNotFound, "platform config is not initialized")
	ErrConfigExists      = newError(CodeConfigExists, "platform config already initialized")
	ErrInsufficientFunds = newError(CodeInsufficientFunds, "insufficient funds")
	ErrInvalidArgument   = newError(CodeInvalidArgument, "invalid argument")
	ErrStorageFailure    = newError(CodeStorageFailure, "storage failure")

	ErrTransferNotFound    = newError(CodeTransferNotFound, "transfer not found")
	ErrIdempotencyConflict = newError(CodeIdempotencyConflict, "idempotency key already used with different parameters")
	ErrConcurrentUpdate    = newError(CodeConcurrentUpdate, "record is busy, retry the operation")
	ErrForbidden           = newError(CodeForbidden, "caller may only read its own records")
)

// CodeOf извлекает вид ошибки. Ошибка без кода пришла из инфраструктуры -> STORAGE_FAILURE
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorageFailure
}
