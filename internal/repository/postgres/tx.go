package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

type tx struct {
	tx        *sql.Tx
	forUpdate bool // Внутри Update строки блокируются до коммита
}

func (t *tx) lock() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

const walletColumns = `org, agent_id, authority, spending_limit_per_tx, daily_limit, daily_spent, last_reset_day, is_active, created_at, updated_at`

func (t *tx) CreateWallet(ctx context.Context, w *domain.AgentWallet) error {
	query := `INSERT INTO agent_wallets (` + walletColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (org, agent_id) DO NOTHING`

	res, err := t.tx.ExecContext(ctx, query,
		w.Org, w.AgentID, w.Authority,
		u64(w.SpendingLimitPerTx), u64(w.DailyLimit), u64(w.DailySpent),
		w.LastResetDay, w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWalletExists
	}
	return nil
}

func (t *tx) Wallet(ctx context.Context, key domain.WalletKey) (*domain.AgentWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM agent_wallets WHERE org = $1 AND agent_id = $2` + t.lock()

	var (
		w                        domain.AgentWallet
		perTx, daily, dailySpent string
	)
	err := t.tx.QueryRowContext(ctx, query, key.Org, key.AgentID).Scan(
		&w.Org, &w.AgentID, &w.Authority,
		&perTx, &daily, &dailySpent,
		&w.LastResetDay, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get wallet: %w", err)
	}
	if w.SpendingLimitPerTx, err = parseU64(perTx); err != nil {
		return nil, err
	}
	if w.DailyLimit, err = parseU64(daily); err != nil {
		return nil, err
	}
	if w.DailySpent, err = parseU64(dailySpent); err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *tx) SaveWallet(ctx context.Context, w *domain.AgentWallet) error {
	query := `UPDATE agent_wallets
	          SET spending_limit_per_tx = $3, daily_limit = $4, daily_spent = $5,
	              last_reset_day = $6, is_active = $7, updated_at = $8
	          WHERE org = $1 AND agent_id = $2`

	res, err := t.tx.ExecContext(ctx, query,
		w.Org, w.AgentID,
		u64(w.SpendingLimitPerTx), u64(w.DailyLimit), u64(w.DailySpent),
		w.LastResetDay, w.IsActive, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

const escrowColumns = `escrow_id, funder, recipient, arbiter, amount, expiry_timestamp, is_funded, is_released, is_refunded, settled_by, created_at, updated_at`

func (t *tx) CreateEscrow(ctx context.Context, e *domain.Escrow) error {
	query := `INSERT INTO escrows (` + escrowColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (escrow_id) DO NOTHING`

	res, err := t.tx.ExecContext(ctx, query,
		e.EscrowID, e.Funder, e.Recipient, e.Arbiter, u64(e.Amount), e.ExpiryTimestamp,
		e.IsFunded, e.IsReleased, e.IsRefunded, nullString(e.SettledBy), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create escrow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEscrowExists
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*domain.Escrow, error) {
	var (
		e         domain.Escrow
		amount    string
		settledBy sql.NullString // NULL пока эскроу не закрыт
	)
	if err := row.Scan(
		&e.EscrowID, &e.Funder, &e.Recipient, &e.Arbiter, &amount, &e.ExpiryTimestamp,
		&e.IsFunded, &e.IsReleased, &e.IsRefunded, &settledBy, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	v, err := parseU64(amount)
	if err != nil {
		return nil, err
	}
	e.Amount = v
	if settledBy.Valid {
		val := settledBy.String
		e.SettledBy = &val
	}
	return &e, nil
}

func (t *tx) Escrow(ctx context.Context, id string) (*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE escrow_id = $1` + t.lock()

	e, err := scanEscrow(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get escrow: %w", err)
	}
	return e, nil
}

// SaveEscrow amount и участники неизменяемы, обновляются только флаги
func (t *tx) SaveEscrow(ctx context.Context, e *domain.Escrow) error {
	query := `UPDATE escrows
	          SET is_funded = $2, is_released = $3, is_refunded = $4, settled_by = $5, updated_at = $6
	          WHERE escrow_id = $1`

	res, err := t.tx.ExecContext(ctx, query,
		e.EscrowID, e.IsFunded, e.IsReleased, e.IsRefunded, nullString(e.SettledBy), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save escrow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEscrowNotFound
	}
	return nil
}

// ListEscrows фильтрация по участнику и производному статусу
func (t *tx) ListEscrows(ctx context.Context, f domain.EscrowFilter) ([]*domain.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows`

	var (
		where []string
		args  []interface{}
	)
	if f.Party != "" {
		args = append(args, f.Party)
		where = append(where, fmt.Sprintf("(funder = $%d OR recipient = $%d OR arbiter = $%d)", len(args), len(args), len(args)))
	}
	switch f.Status {
	case domain.EscrowFunded:
		where = append(where, "is_funded AND NOT is_released AND NOT is_refunded")
	case domain.EscrowReleased:
		where = append(where, "is_released")
	case domain.EscrowRefunded:
		where = append(where, "is_refunded")
	case domain.EscrowUnfunded:
		where = append(where, "NOT is_funded")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, store.NormalizeLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, escrow_id LIMIT $%d", len(args))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query escrows: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Escrow, 0)
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan escrow: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

const transferColumns = `transfer_id, org, agent_id, authority, recipient, fee_wallet, amount, fee, payout, daily_spent_after, idempotency_key, created_at`

func (t *tx) CreateTransfer(ctx context.Context, tr *domain.Transfer) error {
	query := `INSERT INTO transfers (` + transferColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := t.tx.ExecContext(ctx, query,
		tr.TransferID, tr.Wallet.Org, tr.Wallet.AgentID, tr.Authority, tr.Recipient, tr.FeeWallet,
		u64(tr.Amount), u64(tr.Fee), u64(tr.Payout), u64(tr.DailySpentAfter),
		tr.IdempotencyKey, tr.CreatedAt,
	)
	if err != nil {
		// Строка кошелька заблокирована FOR UPDATE, так что гонка за ключ сюда почти не доходит
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("postgres: failed to record transfer: %w", err)
	}
	return nil
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var (
		tr                              domain.Transfer
		amount, fee, payout, spentAfter string
	)
	if err := row.Scan(
		&tr.TransferID, &tr.Wallet.Org, &tr.Wallet.AgentID, &tr.Authority, &tr.Recipient, &tr.FeeWallet,
		&amount, &fee, &payout, &spentAfter, &tr.IdempotencyKey, &tr.CreatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if tr.Amount, err = parseU64(amount); err != nil {
		return nil, err
	}
	if tr.Fee, err = parseU64(fee); err != nil {
		return nil, err
	}
	if tr.Payout, err = parseU64(payout); err != nil {
		return nil, err
	}
	if tr.DailySpentAfter, err = parseU64(spentAfter); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *tx) Transfer(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE transfer_id::text = $1`

	tr, err := scanTransfer(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get transfer: %w", err)
	}
	return tr, nil
}

func (t *tx) TransferByKey(ctx context.Context, wallet domain.WalletKey, key string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE org = $1 AND agent_id = $2 AND idempotency_key = $3`

	tr, err := scanTransfer(t.tx.QueryRowContext(ctx, query, wallet.Org, wallet.AgentID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get transfer by key: %w", err)
	}
	return tr, nil
}

func (t *tx) ListTransfers(ctx context.Context, f domain.TransferFilter) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
	          WHERE org = $1 AND agent_id = $2
	          ORDER BY created_at DESC, transfer_id LIMIT $3`

	rows, err := t.tx.QueryContext(ctx, query, f.Wallet.Org, f.Wallet.AgentID, store.NormalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query transfers: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Transfer, 0)
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan transfer: %w", err)
		}
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func (t *tx) PlatformConfig(ctx context.Context) (*domain.PlatformFeeConfig, error) {
	query := `SELECT authority, fee_wallet, fee_bps, created_at FROM platform_config WHERE id = 1`

	var (
		cfg domain.PlatformFeeConfig
		bps int64
	)
	err := t.tx.QueryRowContext(ctx, query).Scan(&cfg.Authority, &cfg.FeeWallet, &bps, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get platform config: %w", err)
	}
	cfg.FeeBps = uint16(bps)
	return &cfg, nil
}

func (t *tx) CreatePlatformConfig(ctx context.Context, cfg *domain.PlatformFeeConfig) error {
	query := `INSERT INTO platform_config (id, authority, fee_wallet, fee_bps, created_at)
	          VALUES (1, $1, $2, $3, $4)
	          ON CONFLICT (id) DO NOTHING`

	res, err := t.tx.ExecContext(ctx, query, cfg.Authority, cfg.FeeWallet, int64(cfg.FeeBps), cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create platform config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConfigExists
	}
	return nil
}

func (t *tx) Ledger() store.Ledger {
	return &ledger{tx: t.tx}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
