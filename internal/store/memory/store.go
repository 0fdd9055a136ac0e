// Package memory хранилище в памяти процесса. Один мьютекс сериализует
// единицы работы; записи копятся в Tx и применяются только при успехе.
package memory

import (
	"context"
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

type Store struct {
	mu sync.Mutex

	wallets  map[domain.WalletKey]*domain.AgentWallet
	escrows  map[string]*domain.Escrow
	config   *domain.PlatformFeeConfig
	balances map[domain.Account]uint64
	entries  []domain.LedgerEntry

	// transfers в порядке коммита, индексы по id и по (кошелек, ключ)
	transfers    []*domain.Transfer
	transferByID map[string]*domain.Transfer
	transferKeys map[transferKey]*domain.Transfer

	now func() time.Time
}

type transferKey struct {
	wallet domain.WalletKey
	key    string
}

func New() *Store {
	return &Store{
		wallets:  make(map[domain.WalletKey]*domain.AgentWallet),
		escrows:  make(map[string]*domain.Escrow),
		balances: make(map[domain.Account]uint64),

		transferByID: make(map[string]*domain.Transfer),
		transferKeys: make(map[transferKey]*domain.Transfer),

		now: time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(newTx(s, true))
}

func (s *Store) Close() error { return nil }

// Entries журнал проводок, для тестов и отладки
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type tx struct {
	s        *Store
	readOnly bool

	wallets  map[domain.WalletKey]*domain.AgentWallet
	escrows  map[string]*domain.Escrow
	config   *domain.PlatformFeeConfig
	balances map[domain.Account]uint64
	entries  []domain.LedgerEntry

	transfers []*domain.Transfer
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		s:        s,
		readOnly: readOnly,
		wallets:  make(map[domain.WalletKey]*domain.AgentWallet),
		escrows:  make(map[string]*domain.Escrow),
		balances: make(map[domain.Account]uint64),
	}
}

func (t *tx) commit() {
	for k, w := range t.wallets {
		t.s.wallets[k] = w
	}
	for id, e := range t.escrows {
		t.s.escrows[id] = e
	}
	if t.config != nil {
		t.s.config = t.config
	}
	for a, b := range t.balances {
		t.s.balances[a] = b
	}
	for _, e := range t.entries {
		e.ID = int64(len(t.s.entries) + 1)
		t.s.entries = append(t.s.entries, e)
	}
	for _, tr := range t.transfers {
		t.s.transfers = append(t.s.transfers, tr)
		t.s.transferByID[tr.TransferID] = tr
		if tr.IdempotencyKey != "" {
			t.s.transferKeys[transferKey{wallet: tr.Wallet, key: tr.IdempotencyKey}] = tr
		}
	}
}

func (t *tx) writable() error {
	if t.readOnly {
		return domain.Errorf(domain.CodeStorageFailure, "write in read-only transaction")
	}
	return nil
}

func (t *tx) wallet(key domain.WalletKey) (*domain.AgentWallet, bool) {
	if w, ok := t.wallets[key]; ok {
		return w, true
	}
	w, ok := t.s.wallets[key]
	return w, ok
}

func (t *tx) CreateWallet(_ context.Context, w *domain.AgentWallet) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.wallet(w.Key()); ok {
		return domain.ErrWalletExists
	}
	t.wallets[w.Key()] = w.Clone()
	return nil
}

func (t *tx) Wallet(_ context.Context, key domain.WalletKey) (*domain.AgentWallet, error) {
	w, ok := t.wallet(key)
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return w.Clone(), nil
}

func (t *tx) SaveWallet(_ context.Context, w *domain.AgentWallet) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.wallet(w.Key()); !ok {
		return domain.ErrWalletNotFound
	}
	t.wallets[w.Key()] = w.Clone()
	return nil
}

func (t *tx) escrow(id string) (*domain.Escrow, bool) {
	if e, ok := t.escrows[id]; ok {
		return e, true
	}
	e, ok := t.s.escrows[id]
	return e, ok
}

func (t *tx) CreateEscrow(_ context.Context, e *domain.Escrow) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.escrow(e.EscrowID); ok {
		return domain.ErrEscrowExists
	}
	t.escrows[e.EscrowID] = e.Clone()
	return nil
}

func (t *tx) Escrow(_ context.Context, id string) (*domain.Escrow, error) {
	e, ok := t.escrow(id)
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	return e.Clone(), nil
}

func (t *tx) SaveEscrow(_ context.Context, e *domain.Escrow) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.escrow(e.EscrowID); !ok {
		return domain.ErrEscrowNotFound
	}
	t.escrows[e.EscrowID] = e.Clone()
	return nil
}

// ListEscrows по убыванию CreatedAt, затем по id
func (t *tx) ListEscrows(_ context.Context, f domain.EscrowFilter) ([]*domain.Escrow, error) {
	seen := make(map[string]*domain.Escrow, len(t.s.escrows)+len(t.escrows))
	for id, e := range t.s.escrows {
		seen[id] = e
	}
	for id, e := range t.escrows {
		seen[id] = e
	}

	out := make([]*domain.Escrow, 0)
	for _, e := range seen {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EscrowID < out[j].EscrowID
	})
	if limit := store.NormalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// allTransfers закоммиченные и текущей единицы работы, в порядке записи
func (t *tx) allTransfers() []*domain.Transfer {
	out := make([]*domain.Transfer, 0, len(t.s.transfers)+len(t.transfers))
	out = append(out, t.s.transfers...)
	return append(out, t.transfers...)
}

func (t *tx) CreateTransfer(_ context.Context, tr *domain.Transfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, existing := range t.allTransfers() {
		if existing.TransferID == tr.TransferID {
			return domain.Errorf(domain.CodeInvalidArgument, "transfer %s already recorded", tr.TransferID)
		}
		if tr.IdempotencyKey != "" && existing.Wallet == tr.Wallet && existing.IdempotencyKey == tr.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	t.transfers = append(t.transfers, tr.Clone())
	return nil
}

func (t *tx) Transfer(_ context.Context, id string) (*domain.Transfer, error) {
	if tr, ok := t.s.transferByID[id]; ok {
		return tr.Clone(), nil
	}
	for _, tr := range t.transfers {
		if tr.TransferID == id {
			return tr.Clone(), nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

func (t *tx) TransferByKey(_ context.Context, wallet domain.WalletKey, key string) (*domain.Transfer, error) {
	if tr, ok := t.s.transferKeys[transferKey{wallet: wallet, key: key}]; ok {
		return tr.Clone(), nil
	}
	for _, tr := range t.transfers {
		if tr.Wallet == wallet && tr.IdempotencyKey == key {
			return tr.Clone(), nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

// ListTransfers новые первыми; при равном CreatedAt позже записанный выше
func (t *tx) ListTransfers(_ context.Context, f domain.TransferFilter) ([]*domain.Transfer, error) {
	all := t.allTransfers()
	out := make([]*domain.Transfer, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Wallet == f.Wallet {
			out = append(out, all[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := store.NormalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) PlatformConfig(_ context.Context) (*domain.PlatformFeeConfig, error) {
	cfg := t.config
	if cfg == nil {
		cfg = t.s.config
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	c := *cfg
	return &c, nil
}

func (t *tx) CreatePlatformConfig(_ context.Context, cfg *domain.PlatformFeeConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.config != nil || t.s.config != nil {
		return domain.ErrConfigExists
	}
	c := *cfg
	t.config = &c
	return nil
}

func (t *tx) Ledger() store.Ledger { return t }

func (t *tx) balance(a domain.Account) uint64 {
	if b, ok := t.balances[a]; ok {
		return b
	}
	return t.s.balances[a]
}

func (t *tx) Balance(_ context.Context, a domain.Account) (uint64, error) {
	return t.balance(a), nil
}

func (t *tx) Entries(_ context.Context, acct domain.Account, limit int) ([]domain.LedgerEntry, error) {
	limit = store.NormalizeLimit(limit)
	all := make([]domain.LedgerEntry, 0, len(t.s.entries)+len(t.entries))
	all = append(all, t.s.entries...)
	all = append(all, t.entries...)

	out := make([]domain.LedgerEntry, 0)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if e := all[i]; e.From == acct || e.To == acct {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) Move(_ context.Context, from, to domain.Account, amount uint64, memo domain.Memo) error {
	if err := t.writable(); err != nil {
		return err
	}
	// Нулевая нога перевода не проводится
	if amount == 0 {
		return nil
	}
	src := t.balance(from)
	if src < amount {
		return domain.Errorf(domain.CodeInsufficientFunds, "account %s: balance %d, need %d", from, src, amount)
	}
	t.balances[from] = src - amount

	dst, carry := bits.Add64(t.balance(to), amount, 0)
	if carry != 0 {
		return domain.ErrArithmeticOverflow
	}
	t.balances[to] = dst
	t.entries = append(t.entries, domain.LedgerEntry{From: from, To: to, Amount: amount, Memo: memo, CreatedAt: t.s.now()})
	return nil
}

func (t *tx) Deposit(_ context.Context, to domain.Account, amount uint64, memo domain.Memo) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	dst, carry := bits.Add64(t.balance(to), amount, 0)
	if carry != 0 {
		return domain.ErrArithmeticOverflow
	}
	t.balances[to] = dst
	t.entries = append(t.entries, domain.LedgerEntry{To: to, Amount: amount, Memo: memo, CreatedAt: t.s.now()})
	return nil
}
