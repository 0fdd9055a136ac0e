package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

type InitPlatformConfigRequest struct {
	FeeWallet string `json:"fee_wallet"`
	FeeBps    uint16 `json:"fee_bps"`
}

// InitializePlatformConfig бутстрап синглтона. fee_bps > 10000 не отвергается:
// такой конфиг проявится ошибкой на переводе.
func (c *Core) InitializePlatformConfig(ctx context.Context, caller string, req InitPlatformConfigRequest) (*domain.PlatformFeeConfig, error) {
	var created *domain.PlatformFeeConfig
	fields := []zap.Field{zap.String("caller", caller), zap.String("fee_wallet", req.FeeWallet), zap.Uint16("fee_bps", req.FeeBps)}
	err := c.run(ctx, "initialize_platform_config", fields, func(ctx context.Context) error {
		if err := requireCaller(caller); err != nil {
			return err
		}
		if req.FeeWallet == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "fee_wallet is required")
		}
		cfg := &domain.PlatformFeeConfig{
			Authority: caller,
			FeeWallet: req.FeeWallet,
			FeeBps:    req.FeeBps,
			CreatedAt: c.now(),
		}
		if err := c.store.Update(ctx, func(tx store.Tx) error {
			return tx.CreatePlatformConfig(ctx, cfg)
		}); err != nil {
			return err
		}
		created = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, audit.KindPlatformConfigInit, caller, "platform_config", map[string]any{
		"authority":  created.Authority,
		"fee_wallet": created.FeeWallet,
		"fee_bps":    created.FeeBps,
	})
	return created, nil
}

func (c *Core) GetPlatformConfig(ctx context.Context) (*domain.PlatformFeeConfig, error) {
	var cfg *domain.PlatformFeeConfig
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		cfg, err = tx.PlatformConfig(ctx)
		return err
	})
	return cfg, err
}

// Balance внешний баланс identity
func (c *Core) Balance(ctx context.Context, identity string) (uint64, error) {
	var b uint64
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		b, err = tx.Ledger().Balance(ctx, domain.IdentityAccount(identity))
		return err
	})
	return b, err
}

// LedgerEntries проводки по внешнему счету identity, новые первыми
func (c *Core) LedgerEntries(ctx context.Context, identity string, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ledger().Entries(ctx, domain.IdentityAccount(identity), limit)
		return err
	})
	return out, err
}

// EscrowBalance остаток в custody эскроу
func (c *Core) EscrowBalance(ctx context.Context, escrowID string) (uint64, error) {
	var b uint64
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		b, err = tx.Ledger().Balance(ctx, domain.CustodyAccount(escrowID))
		return err
	})
	return b, err
}

// Deposit пополнение внешнего баланса администратором (фикстуры, бутстрап)
func (c *Core) Deposit(ctx context.Context, caller, identity string, amount uint64) (uint64, error) {
	var after uint64
	fields := []zap.Field{zap.String("caller", caller), zap.String("identity", identity), zap.Uint64("amount", amount)}
	err := c.run(ctx, "deposit", fields, func(ctx context.Context) error {
		if identity == "" {
			return domain.Errorf(domain.CodeInvalidArgument, "identity is required")
		}
		return c.store.Update(ctx, func(tx store.Tx) error {
			acct := domain.IdentityAccount(identity)
			if err := tx.Ledger().Deposit(ctx, acct, amount, domain.MemoDeposit); err != nil {
				return err
			}
			var err error
			after, err = tx.Ledger().Balance(ctx, acct)
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	c.emit(ctx, audit.KindLedgerDeposited, caller, identity, map[string]any{
		"identity":      identity,
		"amount":        amount,
		"balance_after": after,
	})
	return after, nil
}
