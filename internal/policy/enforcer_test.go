package policy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/agentwallet/internal/domain"
)

func testWallet(day int64) *domain.AgentWallet {
	return &domain.AgentWallet{
		Authority:          "authority-1",
		Org:                "acme",
		AgentID:            "agent-1",
		SpendingLimitPerTx: 100,
		DailyLimit:         150,
		LastResetDay:       day,
		IsActive:           true,
	}
}

func dayTime(day int64, offset int64) time.Time {
	return time.Unix(day*domain.SecondsPerDay+offset, 0)
}

func TestAuthorizeTransfer_DailyScenario(t *testing.T) {
	const day = 20000
	w := testWallet(day)
	cfg := domain.PlatformFeeConfig{FeeWallet: "fees", FeeBps: 0}
	now := dayTime(day, 3600)

	_, err := AuthorizeTransfer(w, cfg, 60, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), w.DailySpent)

	_, err = AuthorizeTransfer(w, cfg, 60, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), w.DailySpent)

	rejected := w.Clone()
	_, err = AuthorizeTransfer(rejected, cfg, 60, now)
	assert.ErrorIs(t, err, domain.ErrDailyLimitExceeded)

	_, err = AuthorizeTransfer(w, cfg, 30, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), w.DailySpent)
}

func TestAuthorizeTransfer_PerTxLimitWinsOverDailyState(t *testing.T) {
	for _, spent := range []uint64{0, 149, 150} {
		w := testWallet(10)
		w.DailySpent = spent
		_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 101, dayTime(10, 0))
		assert.ErrorIs(t, err, domain.ErrSpendingLimitExceeded, "spent=%d", spent)
		assert.Equal(t, spent, w.DailySpent)
	}

	// Даже после смены суток лимит на транзакцию проверяется первым
	w := testWallet(10)
	w.DailySpent = 150
	_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 101, dayTime(11, 0))
	assert.ErrorIs(t, err, domain.ErrSpendingLimitExceeded)
	assert.Equal(t, int64(10), w.LastResetDay)
}

func TestAuthorizeTransfer_InactiveFirst(t *testing.T) {
	w := testWallet(10)
	w.IsActive = false
	_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 1000, dayTime(10, 0))
	assert.ErrorIs(t, err, domain.ErrWalletInactive)
}

func TestAuthorizeTransfer_LazyReset(t *testing.T) {
	w := testWallet(10)
	w.DailySpent = 140

	_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 20, dayTime(10, domain.SecondsPerDay-1))
	assert.ErrorIs(t, err, domain.ErrDailyLimitExceeded)

	// Через несколько суток без активности счетчик начинается с amount
	_, err = AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 20, dayTime(17, 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), w.DailySpent)
	assert.Equal(t, int64(17), w.LastResetDay)

	// Время назад не сбрасывает счетчик
	_, err = AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 20, dayTime(15, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), w.DailySpent)
	assert.Equal(t, int64(17), w.LastResetDay)
}

func TestAuthorizeTransfer_Overflow(t *testing.T) {
	w := testWallet(10)
	w.SpendingLimitPerTx = math.MaxUint64
	w.DailyLimit = math.MaxUint64
	w.DailySpent = math.MaxUint64 - 5

	_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{}, 6, dayTime(10, 0))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, uint64(math.MaxUint64-5), w.DailySpent)
}

func TestAuthorizeTransfer_FeeSplit(t *testing.T) {
	w := testWallet(10)
	w.SpendingLimitPerTx = 2_000_000
	w.DailyLimit = 2_000_000

	split, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{FeeBps: 50}, 1_000_000, dayTime(10, 0))
	require.NoError(t, err)
	assert.Equal(t, Split{Fee: 5_000, Payout: 995_000}, split)
}

func TestAuthorizeTransfer_FeeAboveFullAmount(t *testing.T) {
	w := testWallet(10)
	_, err := AuthorizeTransfer(w, domain.PlatformFeeConfig{FeeBps: 20000}, 100, dayTime(10, 0))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestFeeSplit(t *testing.T) {
	tests := []struct {
		name   string
		amount uint64
		bps    uint16
		fee    uint64
	}{
		{"zero bps", 12345, 0, 0},
		{"rounds down", 199, 50, 0},
		{"half percent", 1_000_000, 50, 5_000},
		{"full amount", 777, 10000, 777},
		{"max amount", math.MaxUint64, 10000, math.MaxUint64},
		{"max amount one bps", math.MaxUint64, 1, math.MaxUint64 / 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := FeeSplit(tt.amount, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.fee, fee)
			assert.LessOrEqual(t, fee, tt.amount)
		})
	}
}

func TestFeeSplit_QuotientOverflow(t *testing.T) {
	_, err := FeeSplit(math.MaxUint64, math.MaxUint16)
	assert.True(t, errors.Is(err, domain.ErrInvalidFeeCalculation))
}

func TestDayOf(t *testing.T) {
	assert.Equal(t, int64(0), DayOf(time.Unix(0, 0)))
	assert.Equal(t, int64(0), DayOf(time.Unix(86399, 0)))
	assert.Equal(t, int64(1), DayOf(time.Unix(86400, 0)))
	assert.Equal(t, int64(-1), DayOf(time.Unix(-1, 0)))
	assert.Equal(t, int64(-1), DayOf(time.Unix(-86400, 0)))
	assert.Equal(t, int64(-2), DayOf(time.Unix(-86401, 0)))
}
