package domain

import "time"

// MaxIdempotencyKeyLength предел длины ключа идемпотентности в байтах
const MaxIdempotencyKeyLength = 128

// Transfer исполненный перевод с кошелька. Пишется в той же единице работы,
// что и проводки fee/payout, поэтому существует только для закоммиченных переводов.
type Transfer struct {
	TransferID      string    `json:"transfer_id"`
	Wallet          WalletKey `json:"wallet"`
	Authority       string    `json:"authority"` // Счет, с которого списан amount
	Recipient       string    `json:"recipient"`
	FeeWallet       string    `json:"fee_wallet"`
	Amount          uint64    `json:"amount"`
	Fee             uint64    `json:"fee"`
	Payout          uint64    `json:"payout"`
	DailySpentAfter uint64    `json:"daily_spent_after"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (t *Transfer) Clone() *Transfer {
	c := *t
	return &c
}

// SameRequest повтор с тем же ключом обязан совпадать по получателю и сумме
func (t *Transfer) SameRequest(recipient string, amount uint64) bool {
	return t.Recipient == recipient && t.Amount == amount
}

// ValidateIdempotencyKey пустой ключ означает "без идемпотентности"
func ValidateIdempotencyKey(key string) error {
	if len(key) > MaxIdempotencyKeyLength {
		return Errorf(CodeInvalidArgument, "idempotency_key must be at most %d bytes", MaxIdempotencyKeyLength)
	}
	return nil
}

// TransferFilter выборка переводов одного кошелька, новые первыми
type TransferFilter struct {
	Wallet WalletKey
	Limit  int
}
