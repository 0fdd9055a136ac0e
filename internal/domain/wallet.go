package domain

import "time"

const (
	// MaxIDLength предел длины agent_id и escrow_id в байтах
	MaxIDLength = 64
	// SecondsPerDay окно суточного лимита
	SecondsPerDay = 86400
)

// WalletKey адрес кошелька: AgentID уникален в рамках Org
type WalletKey struct {
	Org     string `json:"org"`
	AgentID string `json:"agent_id"`
}

func (k WalletKey) String() string {
	return k.Org + "/" + k.AgentID
}

// AgentWallet политика расходов агента. Баланса не хранит:
// переводы списываются с внешнего счета authority.
type AgentWallet struct {
	Authority          string `json:"authority"` // Единственный, кто управляет кошельком
	Org                string `json:"org"`
	AgentID            string `json:"agent_id"`
	SpendingLimitPerTx uint64 `json:"spending_limit_per_tx"`
	DailyLimit         uint64 `json:"daily_limit"`
	DailySpent         uint64 `json:"daily_spent"`
	LastResetDay       int64  `json:"last_reset_day"` // floor(unix / 86400) последнего сброса
	IsActive           bool   `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *AgentWallet) Key() WalletKey {
	return WalletKey{Org: w.Org, AgentID: w.AgentID}
}

// Clone рабочая копия: движок мутирует копию, хранилище сохраняет ее только при успехе
func (w *AgentWallet) Clone() *AgentWallet {
	c := *w
	return &c
}

// ValidateID проверка 1..64 байт для agent_id и escrow_id
func ValidateID(id string) error {
	if len(id) == 0 || len(id) > MaxIDLength {
		return ErrInvalidAmount
	}
	return nil
}

// DayOf floor(unix / 86400), для отрицательных меток тоже вниз
func DayOf(t time.Time) int64 {
	sec := t.Unix()
	day := sec / SecondsPerDay
	if sec%SecondsPerDay < 0 {
		day--
	}
	return day
}
