package domain

import (
	"strings"
	"time"
)

// Account счет в леджере. Внешний баланс identity и custody эскроу
// живут в одном пространстве имен и различаются префиксом.
type Account string

const (
	identityPrefix = "identity:"
	custodyPrefix  = "escrow:"
)

func IdentityAccount(identity string) Account {
	return Account(identityPrefix + identity)
}

func CustodyAccount(escrowID string) Account {
	return Account(custodyPrefix + escrowID)
}

func (a Account) IsCustody() bool {
	return strings.HasPrefix(string(a), custodyPrefix)
}

func (a Account) String() string { return string(a) }

// Memo назначение проводки
type Memo string

const (
	MemoTransferFee    Memo = "transfer.fee"
	MemoTransferPayout Memo = "transfer.payout"
	MemoEscrowFund     Memo = "escrow.fund"
	MemoEscrowRelease  Memo = "escrow.release"
	MemoEscrowRefund   Memo = "escrow.refund"
	MemoDeposit        Memo = "deposit"
)

// LedgerEntry одна проводка. From пуст у пополнения (Deposit).
type LedgerEntry struct {
	ID        int64     `json:"id"`
	From      Account   `json:"from,omitempty"`
	To        Account   `json:"to"`
	Amount    uint64    `json:"amount"`
	Memo      Memo      `json:"memo"`
	CreatedAt time.Time `json:"created_at"`
}
