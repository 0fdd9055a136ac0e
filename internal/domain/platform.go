package domain

import "time"

// MaxFeeBps 100%. Ожидаемый потолок, при записи не проверяется.
const MaxFeeBps = 10000

// PlatformFeeConfig синглтон с комиссией платформы
type PlatformFeeConfig struct {
	Authority string `json:"authority"`
	FeeWallet string `json:"fee_wallet"` // Получатель комиссии
	FeeBps    uint16 `json:"fee_bps"`

	CreatedAt time.Time `json:"created_at"`
}
