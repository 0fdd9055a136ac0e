package policy

import (
	"math/bits"
	"time"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// Split результат авторизации перевода: Fee + Payout == amount
type Split struct {
	Fee    uint64 `json:"fee"`
	Payout uint64 `json:"payout"`
}

// AuthorizeTransfer проверяет перевод по политике кошелька и считает комиссию.
// Мутирует w (ленивый сброс суток и DailySpent), поэтому вызывающий передает
// рабочую копию и сохраняет ее только при nil-ошибке.
// Порядок проверок фиксирован: первая сработавшая определяет ошибку.
func AuthorizeTransfer(w *domain.AgentWallet, cfg domain.PlatformFeeConfig, amount uint64, now time.Time) (Split, error) {
	if !w.IsActive {
		return Split{}, domain.ErrWalletInactive
	}
	if amount > w.SpendingLimitPerTx {
		return Split{}, domain.ErrSpendingLimitExceeded
	}

	// Сброс только вперед; пропущенные сутки промежуточных сбросов не дают
	if day := DayOf(now); day > w.LastResetDay {
		w.DailySpent = 0
		w.LastResetDay = day
	}

	spent, carry := bits.Add64(w.DailySpent, amount, 0)
	if carry != 0 {
		return Split{}, domain.ErrArithmeticOverflow
	}
	if spent > w.DailyLimit {
		return Split{}, domain.ErrDailyLimitExceeded
	}
	w.DailySpent = spent

	fee, err := FeeSplit(amount, cfg.FeeBps)
	if err != nil {
		return Split{}, err
	}
	if fee > amount {
		return Split{}, domain.ErrArithmeticOverflow
	}
	return Split{Fee: fee, Payout: amount - fee}, nil
}

// FeeSplit floor(amount * bps / 10000) через 128-битное промежуточное значение
func FeeSplit(amount uint64, bps uint16) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(bps))
	// Div64 паникует, если частное не помещается в 64 бита
	if hi >= domain.MaxFeeBps {
		return 0, domain.ErrInvalidFeeCalculation
	}
	fee, _ := bits.Div64(hi, lo, domain.MaxFeeBps)
	return fee, nil
}

// DayOf номер суток для окна дневного лимита
func DayOf(now time.Time) int64 {
	return domain.DayOf(now)
}
