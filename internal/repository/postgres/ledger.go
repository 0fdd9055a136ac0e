package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

// ledger балансы живут в таблице balances, каждая проводка пишется в ledger_entries
type ledger struct {
	tx *sql.Tx
}

var maxBalance = u64(math.MaxUint64)

func (l *ledger) Balance(ctx context.Context, acct domain.Account) (uint64, error) {
	var amount string
	err := l.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = $1`, string(acct)).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: failed to get balance: %w", err)
	}
	return parseU64(amount)
}

func (l *ledger) Entries(ctx context.Context, acct domain.Account, limit int) ([]domain.LedgerEntry, error) {
	rows, err := l.tx.QueryContext(ctx,
		`SELECT id, from_account, to_account, amount, memo, created_at FROM ledger_entries
		 WHERE from_account = $1 OR to_account = $1
		 ORDER BY id DESC LIMIT $2`,
		string(acct), store.NormalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			e              domain.LedgerEntry
			from           sql.NullString // NULL у пополнения
			to, amount, me string
		)
		if err := rows.Scan(&e.ID, &from, &to, &amount, &me, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan ledger entry: %w", err)
		}
		if e.Amount, err = parseU64(amount); err != nil {
			return nil, err
		}
		e.From = domain.Account(from.String)
		e.To = domain.Account(to)
		e.Memo = domain.Memo(me)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (l *ledger) Move(ctx context.Context, from, to domain.Account, amount uint64, memo domain.Memo) error {
	// Нулевая нога перевода не проводится
	if amount == 0 {
		return nil
	}
	if err := l.debit(ctx, from, amount); err != nil {
		return err
	}
	if err := l.credit(ctx, to, amount); err != nil {
		return err
	}
	return l.entry(ctx, sql.NullString{String: string(from), Valid: true}, to, amount, memo)
}

func (l *ledger) Deposit(ctx context.Context, to domain.Account, amount uint64, memo domain.Memo) error {
	if amount == 0 {
		return nil
	}
	if err := l.credit(ctx, to, amount); err != nil {
		return err
	}
	return l.entry(ctx, sql.NullString{}, to, amount, memo)
}

// debit условный UPDATE: строка блокируется, и баланс не уходит ниже нуля
func (l *ledger) debit(ctx context.Context, acct domain.Account, amount uint64) error {
	res, err := l.tx.ExecContext(ctx,
		`UPDATE balances SET amount = amount - $2 WHERE account = $1 AND amount >= $2`,
		string(acct), u64(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to debit %s: %w", acct, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.CodeInsufficientFunds, "account %s: insufficient funds for %d", acct, amount)
	}
	return nil
}

// credit upsert с проверкой потолка u64
func (l *ledger) credit(ctx context.Context, acct domain.Account, amount uint64) error {
	res, err := l.tx.ExecContext(ctx,
		`INSERT INTO balances (account, amount) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
		 WHERE balances.amount + EXCLUDED.amount <= $3`,
		string(acct), u64(amount), maxBalance,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to credit %s: %w", acct, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrArithmeticOverflow
	}
	return nil
}

func (l *ledger) entry(ctx context.Context, from sql.NullString, to domain.Account, amount uint64, memo domain.Memo) error {
	_, err := l.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (from_account, to_account, amount, memo) VALUES ($1, $2, $3, $4)`,
		from, string(to), u64(amount), string(memo),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to write ledger entry: %w", err)
	}
	return nil
}
