package domain

import "time"

// EscrowStatus производное состояние эскроу, в БД не хранится
type EscrowStatus string

const (
	EscrowUnfunded EscrowStatus = "unfunded"
	EscrowFunded   EscrowStatus = "funded" // Средства в custody, ждут release/refund
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Escrow нейтральное хранение средств между funder и recipient.
// Amount неизменяем после создания; IsReleased/IsRefunded терминальны.
type Escrow struct {
	EscrowID        string `json:"escrow_id"`
	Funder          string `json:"funder"`
	Recipient       string `json:"recipient"`
	Arbiter         string `json:"arbiter"`
	Amount          uint64 `json:"amount"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"` // unix seconds
	IsFunded        bool   `json:"is_funded"`
	IsReleased      bool   `json:"is_released"`
	IsRefunded      bool   `json:"is_refunded"`

	SettledBy *string   `json:"settled_by,omitempty"` // Кто выполнил release/refund
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Escrow) Status() EscrowStatus {
	switch {
	case e.IsReleased:
		return EscrowReleased
	case e.IsRefunded:
		return EscrowRefunded
	case e.IsFunded:
		return EscrowFunded
	default:
		return EscrowUnfunded
	}
}

// Pending средства еще в custody
func (e *Escrow) Pending() bool {
	return e.IsFunded && !e.IsReleased && !e.IsRefunded
}

// IsParty funder, recipient или arbiter
func (e *Escrow) IsParty(identity string) bool {
	return identity == e.Funder || identity == e.Recipient || identity == e.Arbiter
}

func (e *Escrow) Clone() *Escrow {
	c := *e
	if e.SettledBy != nil {
		s := *e.SettledBy
		c.SettledBy = &s
	}
	return &c
}

// EscrowFilter выборка для ListEscrows. Пустые поля не фильтруют.
type EscrowFilter struct {
	Party  string
	Status EscrowStatus
	Limit  int
}

// Match проверяет запись на соответствие фильтру (без учета Limit)
func (f EscrowFilter) Match(e *Escrow) bool {
	if f.Party != "" && !e.IsParty(f.Party) {
		return false
	}
	if f.Status != "" && e.Status() != f.Status {
		return false
	}
	return true
}

// ParseEscrowStatus пустая строка допустима и означает "любой"
func ParseEscrowStatus(s string) (EscrowStatus, error) {
	switch st := EscrowStatus(s); st {
	case "", EscrowUnfunded, EscrowFunded, EscrowReleased, EscrowRefunded:
		return st, nil
	}
	return "", Errorf(CodeInvalidArgument, "unknown escrow status %q", s)
}
