package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAccount_HoldCaptureRelease(t *testing.T) {
	a := &Account{AccountID: "A", BalanceAvailable: d("100")}

	require.NoError(t, a.HoldFunds(d("40")))
	assert.True(t, a.BalanceAvailable.Equal(d("60")))
	assert.True(t, a.BalanceReserved.Equal(d("40")))
	assert.True(t, a.TotalBalance().Equal(d("100")))

	require.NoError(t, a.ReleaseHold(d("15")))
	assert.True(t, a.BalanceAvailable.Equal(d("75")))
	assert.True(t, a.BalanceReserved.Equal(d("25")))

	require.NoError(t, a.CaptureHold(d("25")))
	assert.True(t, a.BalanceAvailable.Equal(d("75")))
	assert.True(t, a.BalanceReserved.IsZero())
	assert.True(t, a.TotalDebited.Equal(d("25")))
}

func TestAccount_InsufficientFunds(t *testing.T) {
	a := &Account{AccountID: "A", BalanceAvailable: d("100")}

	assert.ErrorIs(t, a.HoldFunds(d("150")), ErrInsufficientFunds)
	assert.ErrorIs(t, a.Debit(d("100.0001")), ErrInsufficientFunds)
	assert.True(t, a.BalanceAvailable.Equal(d("100")))
	assert.True(t, a.BalanceReserved.IsZero())

	assert.ErrorIs(t, a.CaptureHold(d("1")), ErrInvalidStateTransition)
	assert.ErrorIs(t, a.ReleaseHold(d("1")), ErrInvalidStateTransition)
}

func TestAccount_CreditDebitTotals(t *testing.T) {
	a := &Account{AccountID: "A"}
	a.Credit(d("10.5"))
	require.NoError(t, a.Debit(d("0.5")))
	assert.True(t, a.BalanceAvailable.Equal(d("10")))
	assert.True(t, a.TotalCredited.Equal(d("10.5")))
	assert.True(t, a.TotalDebited.Equal(d("0.5")))
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		typ      TransactionType
		from, to TransactionStatus
		ok       bool
	}{
		{TxnEarn, StatusInit, StatusPending, true},
		{TxnEarn, StatusPending, StatusCompleted, true},
		{TxnEarn, StatusPending, StatusHeld, false},
		{TxnHold, StatusPending, StatusHeld, true},
		{TxnHold, StatusPending, StatusCompleted, false},
		{TxnHold, StatusHeld, StatusCaptured, true},
		{TxnHold, StatusHeld, StatusReleased, true},
		{TxnHold, StatusHeld, StatusExpired, true},
		{TxnCapture, StatusHeld, StatusCaptured, false},
		{TxnHold, StatusCaptured, StatusReleased, false},
		{TxnDebit, StatusCompleted, StatusFailed, false},
		{TxnDebit, StatusFailed, StatusPending, false},
		{TxnTransfer, StatusInit, StatusCompleted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.typ, c.from, c.to), "%s %s->%s", c.typ, c.from, c.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []TransactionStatus{StatusCompleted, StatusFailed, StatusCaptured, StatusReleased, StatusExpired, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []TransactionStatus{StatusInit, StatusPending, StatusHeld} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestHoldActive(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	assert.True(t, (&Transaction{Status: StatusHeld, HoldExpiresAt: &future}).HoldActive(now))
	assert.False(t, (&Transaction{Status: StatusHeld, HoldExpiresAt: &past}).HoldActive(now))
	assert.False(t, (&Transaction{Status: StatusCaptured, HoldExpiresAt: &future}).HoldActive(now))
}

func TestNormalizeAmount(t *testing.T) {
	v, err := NormalizeAmount(d("12.3400"), Scale)
	require.NoError(t, err)
	assert.Equal(t, "12.34", v.String())

	_, err = NormalizeAmount(d("1.00001"), Scale)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NormalizeAmount(d("1.5"), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsDomainError(ErrInsufficientFunds))
	assert.False(t, IsDomainError(ErrPersistenceConflict))
	assert.True(t, IsRetryable(ErrPersistenceConflict))
	assert.False(t, IsRetryable(ErrValidation))
}
