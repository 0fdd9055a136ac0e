// Package store контракт хранилища учетных записей. Каждая операция движка
// выполняется в одной единице работы (Update): любая ошибка из колбэка
// откатывает и поля записей, и проводки леджера.
package store

import (
	"context"

	"github.com/xela07ax/agentwallet/internal/domain"
)

type Store interface {
	// Update атомарная read-modify-write единица работы
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View только чтение
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx записи, прочитанные внутри Update, заблокированы до коммита.
// Getter'ы возвращают копии; изменения видны только после Save*.
type Tx interface {
	CreateWallet(ctx context.Context, w *domain.AgentWallet) error
	Wallet(ctx context.Context, key domain.WalletKey) (*domain.AgentWallet, error)
	SaveWallet(ctx context.Context, w *domain.AgentWallet) error

	CreateEscrow(ctx context.Context, e *domain.Escrow) error
	Escrow(ctx context.Context, id string) (*domain.Escrow, error)
	SaveEscrow(ctx context.Context, e *domain.Escrow) error
	ListEscrows(ctx context.Context, f domain.EscrowFilter) ([]*domain.Escrow, error)

	// CreateTransfer повтор ключа идемпотентности в рамках кошелька -> ErrIdempotencyConflict
	CreateTransfer(ctx context.Context, t *domain.Transfer) error
	Transfer(ctx context.Context, id string) (*domain.Transfer, error)
	TransferByKey(ctx context.Context, wallet domain.WalletKey, key string) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, f domain.TransferFilter) ([]*domain.Transfer, error)

	PlatformConfig(ctx context.Context) (*domain.PlatformFeeConfig, error)
	CreatePlatformConfig(ctx context.Context, cfg *domain.PlatformFeeConfig) error

	Ledger() Ledger
}

// Ledger внешние балансы identity и custody эскроу.
// Зачисления проверяются на переполнение, списание ниже нуля -> ErrInsufficientFunds.
type Ledger interface {
	Move(ctx context.Context, from, to domain.Account, amount uint64, memo domain.Memo) error
	Deposit(ctx context.Context, to domain.Account, amount uint64, memo domain.Memo) error
	Balance(ctx context.Context, acct domain.Account) (uint64, error)
	// Entries проводки, где acct отправитель или получатель, новые первыми
	Entries(ctx context.Context, acct domain.Account, limit int) ([]domain.LedgerEntry, error)
}

// DefaultListLimit если фильтр не задал Limit
const DefaultListLimit = 100

func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
