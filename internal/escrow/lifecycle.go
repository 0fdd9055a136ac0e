// Package escrow конечный автомат эскроу: create-and-fund, release, refund.
// Движок не хранит записи: он проверяет переходы и двигает средства через Mover,
// который вызывающий открыл в рамках одной атомарной единицы работы.
package escrow

import (
	"context"
	"time"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// Mover проводки леджера, нужные автомату
type Mover interface {
	Move(ctx context.Context, from, to domain.Account, amount uint64, memo domain.Memo) error
}

type OpenRequest struct {
	EscrowID        string `json:"escrow_id"`
	Funder          string `json:"funder"`
	Recipient       string `json:"recipient"`
	Arbiter         string `json:"arbiter"`
	Amount          uint64 `json:"amount"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
}

// Open валидирует запрос и строит уже профинансированную запись.
// Уникальность escrow_id и перевод funder -> custody обеспечивает вызывающий (Fund).
// Совпадение funder/recipient/arbiter не запрещено.
func Open(req OpenRequest, now time.Time) (*domain.Escrow, error) {
	if err := domain.ValidateID(req.EscrowID); err != nil {
		return nil, err
	}
	if req.Funder == "" || req.Recipient == "" || req.Arbiter == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "funder, recipient and arbiter are required")
	}
	return &domain.Escrow{
		EscrowID:        req.EscrowID,
		Funder:          req.Funder,
		Recipient:       req.Recipient,
		Arbiter:         req.Arbiter,
		Amount:          req.Amount,
		ExpiryTimestamp: req.ExpiryTimestamp,
		IsFunded:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Fund переводит Amount с внешнего счета funder в custody эскроу
func Fund(ctx context.Context, e *domain.Escrow, ledger Mover) error {
	return ledger.Move(ctx, domain.IdentityAccount(e.Funder), domain.CustodyAccount(e.EscrowID), e.Amount, domain.MemoEscrowFund)
}

// checkPending общее предусловие release и refund. Выполняется до проверки прав.
func checkPending(e *domain.Escrow) error {
	if !e.IsFunded {
		return domain.ErrEscrowNotFunded
	}
	if e.IsReleased || e.IsRefunded {
		return domain.ErrInvalidEscrowState
	}
	return nil
}

// Release Funded-Pending -> Released. Разрешено только funder или arbiter,
// срок истечения не учитывается.
func Release(ctx context.Context, e *domain.Escrow, caller string, now time.Time, ledger Mover) error {
	if err := checkPending(e); err != nil {
		return err
	}
	if caller != e.Funder && caller != e.Arbiter {
		return domain.ErrUnauthorizedArbiter
	}
	if err := ledger.Move(ctx, domain.CustodyAccount(e.EscrowID), domain.IdentityAccount(e.Recipient), e.Amount, domain.MemoEscrowRelease); err != nil {
		return err
	}
	settle(e, caller, now)
	e.IsReleased = true
	return nil
}

// Refund Funded-Pending -> Refunded. Arbiter может всегда, после истечения срока любой.
func Refund(ctx context.Context, e *domain.Escrow, caller string, now time.Time, ledger Mover) error {
	if err := checkPending(e); err != nil {
		return err
	}
	if caller != e.Arbiter && !Expired(e, now) {
		return domain.ErrUnauthorizedArbiter
	}
	if err := ledger.Move(ctx, domain.CustodyAccount(e.EscrowID), domain.IdentityAccount(e.Funder), e.Amount, domain.MemoEscrowRefund); err != nil {
		return err
	}
	settle(e, caller, now)
	e.IsRefunded = true
	return nil
}

// Expired now >= expiry_timestamp
func Expired(e *domain.Escrow, now time.Time) bool {
	return now.Unix() >= e.ExpiryTimestamp
}

func settle(e *domain.Escrow, caller string, now time.Time) {
	by := caller
	e.SettledBy = &by
	e.UpdatedAt = now
}
