package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/policy"
	"github.com/xela07ax/agentwallet/internal/store"
)

type CreateWalletRequest struct {
	Org                string `json:"org"`
	AgentID            string `json:"agent_id"`
	SpendingLimitPerTx uint64 `json:"spending_limit_per_tx"`
	DailyLimit         uint64 `json:"daily_limit"`
}

type TransferRequest struct {
	Wallet    domain.WalletKey `json:"wallet"`
	Recipient string           `json:"recipient"`
	Amount    uint64           `json:"amount"`

	// IdempotencyKey повтор с тем же ключом возвращает сохраненный результат без новых проводок
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferResult struct {
	domain.Transfer
	Replayed bool `json:"replayed"` // Ответ на повтор по ключу идемпотентности
}

type UpdateLimitsRequest struct {
	Wallet             domain.WalletKey `json:"wallet"`
	SpendingLimitPerTx uint64           `json:"spending_limit_per_tx"`
	DailyLimit         uint64           `json:"daily_limit"`
	IsActive           bool             `json:"is_active"`
}

// CreateAgentWallet authority = caller, счетчик стартует с текущих суток
func (c *Core) CreateAgentWallet(ctx context.Context, caller string, req CreateWalletRequest) (*domain.AgentWallet, error) {
	var created *domain.AgentWallet
	err := c.run(ctx, "create_agent_wallet", walletFields(domain.WalletKey{Org: req.Org, AgentID: req.AgentID}, caller), func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		if err := domain.ValidateID(req.AgentID); err != nil {
			return err
		}
		if req.Org == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "org is required")
		}

		now := c.now()
		w := &domain.AgentWallet{
			Authority:          caller,
			Org:                req.Org,
			AgentID:            req.AgentID,
			SpendingLimitPerTx: req.SpendingLimitPerTx,
			DailyLimit:         req.DailyLimit,
			DailySpent:         0,
			LastResetDay:       policy.DayOf(now),
			IsActive:           true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := c.store.Update(ctx, func(tx store.Tx) error {
			return tx.CreateWallet(ctx, w)
		}); err != nil {
			return err
		}
		created = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, audit.KindWalletCreated, caller, created.Key().String(), map[string]any{
		"authority":             created.Authority,
		"org":                   created.Org,
		"agent_id":              created.AgentID,
		"spending_limit_per_tx": created.SpendingLimitPerTx,
		"daily_limit":           created.DailyLimit,
	})
	return created, nil
}

func (c *Core) GetWallet(ctx context.Context, key domain.WalletKey) (*domain.AgentWallet, error) {
	var w *domain.AgentWallet
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.Wallet(ctx, key)
		return err
	})
	return w, err
}

// TransferWithLimit списывает amount с authority: fee -> fee_wallet, остаток -> recipient.
// Любой отказ откатывает и счетчик, и проводки.
func (c *Core) TransferWithLimit(ctx context.Context, caller string, req TransferRequest) (*TransferResult, error) {
	var res *TransferResult
	fields := append(walletFields(req.Wallet, caller), zap.String("recipient", req.Recipient), zap.Uint64("amount", req.Amount))
	err := c.run(ctx, "transfer_with_limit", fields, func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		if req.Recipient == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "recipient is required")
		}
		if err := domain.ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
			return err
		}

		return c.store.Update(ctx, func(tx store.Tx) error {
			w, err := tx.Wallet(ctx, req.Wallet)
			if err != nil {
				return err
			}
			if w.Authority != caller {
				return domain.ErrUnauthorizedAuthority
			}
			// Строка кошелька уже заблокирована: параллельный повтор с тем же ключом ждет нас
			if req.IdempotencyKey != "" {
				prev, err := tx.TransferByKey(ctx, req.Wallet, req.IdempotencyKey)
				switch {
				case err == nil:
					if !prev.SameRequest(req.Recipient, req.Amount) {
						return domain.ErrIdempotencyConflict
					}
					res = &TransferResult{Transfer: *prev, Replayed: true}
					return nil
				case !errors.Is(err, domain.ErrTransferNotFound):
					return err
				}
			}
			cfg, err := tx.PlatformConfig(ctx)
			if err != nil {
				return err
			}

			now := c.now()
			work := w.Clone()
			split, err := policy.AuthorizeTransfer(work, *cfg, req.Amount, now)
			if err != nil {
				return err
			}
			work.UpdatedAt = now
			if err := tx.SaveWallet(ctx, work); err != nil {
				return err
			}

			from := domain.IdentityAccount(w.Authority)
			ledger := tx.Ledger()
			if err := ledger.Move(ctx, from, domain.IdentityAccount(cfg.FeeWallet), split.Fee, domain.MemoTransferFee); err != nil {
				return err
			}
			if err := ledger.Move(ctx, from, domain.IdentityAccount(req.Recipient), split.Payout, domain.MemoTransferPayout); err != nil {
				return err
			}

			record := domain.Transfer{
				TransferID:      uuid.NewString(),
				Wallet:          req.Wallet,
				Authority:       w.Authority,
				Recipient:       req.Recipient,
				FeeWallet:       cfg.FeeWallet,
				Amount:          req.Amount,
				Fee:             split.Fee,
				Payout:          split.Payout,
				DailySpentAfter: work.DailySpent,
				IdempotencyKey:  req.IdempotencyKey,
				CreatedAt:       now,
			}
			if err := tx.CreateTransfer(ctx, &record); err != nil {
				return err
			}
			res = &TransferResult{Transfer: record}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Повтор ничего не списал: ни метрик объема, ни нового события
	if res.Replayed {
		return res, nil
	}

	c.metrics.TransferVolume.Add(float64(res.Amount))
	c.metrics.FeesCollected.Add(float64(res.Fee))
	c.emit(ctx, audit.KindTransferExecuted, caller, req.Wallet.String(), map[string]any{
		"transfer_id":       res.TransferID,
		"wallet":            req.Wallet.String(),
		"recipient":         res.Recipient,
		"amount":            res.Amount,
		"fee":               res.Fee,
		"daily_spent_after": res.DailySpentAfter,
	})
	return res, nil
}

// GetTransfer перевод читает только authority кошелька
func (c *Core) GetTransfer(ctx context.Context, caller string, key domain.WalletKey, transferID string) (*domain.Transfer, error) {
	var tr *domain.Transfer
	err := c.store.View(ctx, func(tx store.Tx) error {
		if err := requireAuthority(ctx, tx, key, caller); err != nil {
			return err
		}
		var err error
		if tr, err = tx.Transfer(ctx, transferID); err != nil {
			return err
		}
		// Чужой id не раскрываем
		if tr.Wallet != key {
			return domain.ErrTransferNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// ListTransfers история переводов кошелька, новые первыми
func (c *Core) ListTransfers(ctx context.Context, caller string, f domain.TransferFilter) ([]*domain.Transfer, error) {
	var list []*domain.Transfer
	err := c.store.View(ctx, func(tx store.Tx) error {
		if err := requireAuthority(ctx, tx, f.Wallet, caller); err != nil {
			return err
		}
		var err error
		list, err = tx.ListTransfers(ctx, f)
		return err
	})
	return list, err
}

func requireAuthority(ctx context.Context, tx store.Tx, key domain.WalletKey, caller string) error {
	w, err := tx.Wallet(ctx, key)
	if err != nil {
		return err
	}
	if w.Authority != caller {
		return domain.ErrUnauthorizedAuthority
	}
	return nil
}

// UpdateLimits безусловная перезапись; новые лимиты с текущим daily_spent не сверяются
func (c *Core) UpdateLimits(ctx context.Context, caller string, req UpdateLimitsRequest) (*domain.AgentWallet, error) {
	var updated *domain.AgentWallet
	err := c.run(ctx, "update_limits", walletFields(req.Wallet, caller), func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		return c.store.Update(ctx, func(tx store.Tx) error {
			w, err := tx.Wallet(ctx, req.Wallet)
			if err != nil {
				return err
			}
			if w.Authority != caller {
				return domain.ErrUnauthorizedAuthority
			}
			w.SpendingLimitPerTx = req.SpendingLimitPerTx
			w.DailyLimit = req.DailyLimit
			w.IsActive = req.IsActive
			w.UpdatedAt = c.now()
			if err := tx.SaveWallet(ctx, w); err != nil {
				return err
			}
			updated = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, audit.KindLimitsUpdated, caller, req.Wallet.String(), map[string]any{
		"wallet":                req.Wallet.String(),
		"spending_limit_per_tx": updated.SpendingLimitPerTx,
		"daily_limit":           updated.DailyLimit,
		"is_active":             updated.IsActive,
	})
	return updated, nil
}

func walletFields(key domain.WalletKey, caller string) []zap.Field {
	return []zap.Field{
		zap.String("org", key.Org),
		zap.String("agent_id", key.AgentID),
		zap.String("caller", caller),
	}
}
