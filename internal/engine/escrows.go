package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/escrow"
	"github.com/xela07ax/agentwallet/internal/store"
)

type CreateEscrowRequest struct {
	EscrowID        string `json:"escrow_id"`
	Recipient       string `json:"recipient"`
	Arbiter         string `json:"arbiter"`
	Amount          uint64 `json:"amount"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
}

// CreateEscrow funder = caller; запись и перевод в custody в одной единице работы
func (c *Core) CreateEscrow(ctx context.Context, caller string, req CreateEscrowRequest) (*domain.Escrow, error) {
	var created *domain.Escrow
	fields := []zap.Field{
		zap.String("escrow_id", req.EscrowID),
		zap.String("caller", caller),
		zap.Uint64("amount", req.Amount),
	}
	err := c.run(ctx, "create_escrow", fields, func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		e, err := escrow.Open(escrow.OpenRequest{
			EscrowID:        req.EscrowID,
			Funder:          caller,
			Recipient:       req.Recipient,
			Arbiter:         req.Arbiter,
			Amount:          req.Amount,
			ExpiryTimestamp: req.ExpiryTimestamp,
		}, c.now())
		if err != nil {
			return err
		}
		if err := c.store.Update(ctx, func(tx store.Tx) error {
			if err := tx.CreateEscrow(ctx, e); err != nil {
				return err
			}
			return escrow.Fund(ctx, e, tx.Ledger())
		}); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, audit.KindEscrowCreated, caller, created.EscrowID, escrowPayload(created))
	return created, nil
}

func (c *Core) ReleaseEscrow(ctx context.Context, caller, escrowID string) (*domain.Escrow, error) {
	e, err := c.settle(ctx, "release_escrow", caller, escrowID, escrow.Release)
	if err != nil {
		return nil, err
	}
	c.metrics.EscrowSettled.WithLabelValues(string(domain.EscrowReleased)).Inc()
	payload := escrowPayload(e)
	payload["released_by"] = caller
	c.emit(ctx, audit.KindEscrowReleased, caller, e.EscrowID, payload)
	return e, nil
}

func (c *Core) RefundEscrow(ctx context.Context, caller, escrowID string) (*domain.Escrow, error) {
	e, err := c.settle(ctx, "refund_escrow", caller, escrowID, escrow.Refund)
	if err != nil {
		return nil, err
	}
	c.metrics.EscrowSettled.WithLabelValues(string(domain.EscrowRefunded)).Inc()
	payload := escrowPayload(e)
	payload["refunded_by"] = caller
	c.emit(ctx, audit.KindEscrowRefunded, caller, e.EscrowID, payload)
	return e, nil
}

// transition escrow.Release или escrow.Refund
type transition func(ctx context.Context, e *domain.Escrow, caller string, now time.Time, ledger escrow.Mover) error

func (c *Core) settle(ctx context.Context, op, caller, escrowID string, step transition) (*domain.Escrow, error) {
	var settled *domain.Escrow
	fields := []zap.Field{zap.String("escrow_id", escrowID), zap.String("caller", caller)}
	err := c.run(ctx, op, fields, func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		return c.store.Update(ctx, func(tx store.Tx) error {
			e, err := tx.Escrow(ctx, escrowID)
			if err != nil {
				return err
			}
			if err := step(ctx, e, caller, c.now(), tx.Ledger()); err != nil {
				return err
			}
			if err := tx.SaveEscrow(ctx, e); err != nil {
				return err
			}
			settled = e
			return nil
		})
	})
	return settled, err
}

func (c *Core) GetEscrow(ctx context.Context, escrowID string) (*domain.Escrow, error) {
	var e *domain.Escrow
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		e, err = tx.Escrow(ctx, escrowID)
		return err
	})
	return e, err
}

func (c *Core) ListEscrows(ctx context.Context, f domain.EscrowFilter) ([]*domain.Escrow, error) {
	var list []*domain.Escrow
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListEscrows(ctx, f)
		return err
	})
	return list, err
}

func escrowPayload(e *domain.Escrow) map[string]any {
	return map[string]any{
		"escrow_id":        e.EscrowID,
		"funder":           e.Funder,
		"recipient":        e.Recipient,
		"arbiter":          e.Arbiter,
		"amount":           e.Amount,
		"expiry_timestamp": e.ExpiryTimestamp,
	}
}
