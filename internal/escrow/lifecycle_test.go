package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/agentwallet/internal/domain"
)

type move struct {
	from, to domain.Account
	amount   uint64
	memo     domain.Memo
}

type recordingMover struct {
	moves []move
	err   error
}

func (m *recordingMover) Move(_ context.Context, from, to domain.Account, amount uint64, memo domain.Memo) error {
	if m.err != nil {
		return m.err
	}
	m.moves = append(m.moves, move{from, to, amount, memo})
	return nil
}

const expiry = int64(1_700_000_000)

func openTestEscrow(t *testing.T) *domain.Escrow {
	t.Helper()
	e, err := Open(OpenRequest{
		EscrowID:        "esc-1",
		Funder:          "funder",
		Recipient:       "recipient",
		Arbiter:         "arbiter",
		Amount:          1000,
		ExpiryTimestamp: expiry,
	}, time.Unix(expiry-100, 0))
	require.NoError(t, err)
	return e
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(OpenRequest{EscrowID: "", Funder: "a", Recipient: "b", Arbiter: "c"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	long := make([]byte, domain.MaxIDLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = Open(OpenRequest{EscrowID: string(long), Funder: "a", Recipient: "b", Arbiter: "c"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = Open(OpenRequest{EscrowID: string(long[:domain.MaxIDLength]), Funder: "a", Recipient: "b", Arbiter: "c"}, time.Now())
	assert.NoError(t, err)

	_, err = Open(OpenRequest{EscrowID: "ok", Funder: "a", Arbiter: "c"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// Одна и та же identity во всех ролях допустима
	e, err := Open(OpenRequest{EscrowID: "same", Funder: "a", Recipient: "a", Arbiter: "a"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowFunded, e.Status())
}

func TestFund(t *testing.T) {
	e := openTestEscrow(t)
	m := &recordingMover{}
	require.NoError(t, Fund(context.Background(), e, m))
	assert.Equal(t, []move{{domain.IdentityAccount("funder"), domain.CustodyAccount("esc-1"), 1000, domain.MemoEscrowFund}}, m.moves)
}

func TestRelease_Authorization(t *testing.T) {
	times := []time.Time{time.Unix(expiry-1, 0), time.Unix(expiry, 0), time.Unix(expiry+86400, 0)}
	callers := map[string]bool{"funder": true, "arbiter": true, "recipient": false, "stranger": false}

	for caller, allowed := range callers {
		for _, now := range times {
			e := openTestEscrow(t)
			m := &recordingMover{}
			err := Release(context.Background(), e, caller, now, m)
			if allowed {
				require.NoError(t, err, caller)
				assert.True(t, e.IsReleased)
				require.Len(t, m.moves, 1)
				assert.Equal(t, move{domain.CustodyAccount("esc-1"), domain.IdentityAccount("recipient"), 1000, domain.MemoEscrowRelease}, m.moves[0])
				require.NotNil(t, e.SettledBy)
				assert.Equal(t, caller, *e.SettledBy)
			} else {
				assert.ErrorIs(t, err, domain.ErrUnauthorizedArbiter, caller)
				assert.False(t, e.IsReleased)
				assert.Empty(t, m.moves)
			}
		}
	}
}

func TestRefund_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		now     int64
		allowed bool
	}{
		{"arbiter before expiry", "arbiter", expiry - 1, true},
		{"funder before expiry", "funder", expiry - 1, false},
		{"recipient before expiry", "recipient", expiry - 1, false},
		{"recipient at expiry", "recipient", expiry, true},
		{"stranger after expiry", "stranger", expiry + 1, true},
		{"funder at expiry", "funder", expiry, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := openTestEscrow(t)
			m := &recordingMover{}
			err := Refund(context.Background(), e, tt.caller, time.Unix(tt.now, 0), m)
			if !tt.allowed {
				assert.ErrorIs(t, err, domain.ErrUnauthorizedArbiter)
				assert.Equal(t, domain.EscrowFunded, e.Status())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.EscrowRefunded, e.Status())
			assert.Equal(t, []move{{domain.CustodyAccount("esc-1"), domain.IdentityAccount("funder"), 1000, domain.MemoEscrowRefund}}, m.moves)
		})
	}
}

func TestTerminalStatesAreExclusive(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(expiry, 0)

	released := openTestEscrow(t)
	require.NoError(t, Release(ctx, released, "funder", now, &recordingMover{}))
	assert.ErrorIs(t, Refund(ctx, released, "arbiter", now, &recordingMover{}), domain.ErrInvalidEscrowState)
	assert.ErrorIs(t, Release(ctx, released, "arbiter", now, &recordingMover{}), domain.ErrInvalidEscrowState)

	refunded := openTestEscrow(t)
	require.NoError(t, Refund(ctx, refunded, "recipient", now, &recordingMover{}))
	assert.ErrorIs(t, Release(ctx, refunded, "funder", now, &recordingMover{}), domain.ErrInvalidEscrowState)
	// Состояние проверяется раньше прав
	assert.ErrorIs(t, Release(ctx, refunded, "stranger", now, &recordingMover{}), domain.ErrInvalidEscrowState)
}

func TestNotFunded(t *testing.T) {
	e := openTestEscrow(t)
	e.IsFunded = false
	assert.ErrorIs(t, Release(context.Background(), e, "funder", time.Now(), &recordingMover{}), domain.ErrEscrowNotFunded)
	assert.ErrorIs(t, Refund(context.Background(), e, "stranger", time.Now(), &recordingMover{}), domain.ErrEscrowNotFunded)
}

func TestMoverFailureLeavesFlags(t *testing.T) {
	e := openTestEscrow(t)
	err := Release(context.Background(), e, "arbiter", time.Now(), &recordingMover{err: domain.ErrInsufficientFunds})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, e.IsReleased)
	assert.Nil(t, e.SettledBy)
}
