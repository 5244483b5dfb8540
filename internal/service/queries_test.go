package service

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_OpenAccount(t *testing.T) {
	f := newFixture(t, WalletProfile())

	a, err := f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountID: "shop", OwnerID: "acme", AccountType: model.AccountMerchant})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.Equal(t, "USD", a.Currency)

	again, err := f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountID: "shop", OwnerID: "acme", AccountType: model.AccountMerchant})
	require.NoError(t, err)
	assert.Equal(t, a.AccountID, again.AccountID)

	_, err = f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountID: "shop", OwnerID: "other", AccountType: model.AccountMerchant})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountID: "x", AccountType: model.AccountSystem})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountID: "y", Currency: "EUR"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.engine.OpenAccount(f.ctx, OpenAccountRequest{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngine_DeactivateAccount(t *testing.T) {
	f := newFixture(t, WalletProfile())
	f.earn("alice", "100")

	a, err := f.engine.DeactivateAccount(f.ctx, "alice")
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.True(t, a.BalanceAvailable.Equal(amt("100")))

	_, err = f.engine.Submit(f.ctx, Command{IdempotencyKey: "d-1", Type: model.TxnDebit, AccountID: "alice", Amount: amt("1")})
	assert.ErrorIs(t, err, model.ErrAccountInactive)
	_, err = f.engine.Submit(f.ctx, Command{IdempotencyKey: "e-1", Type: model.TxnEarn, AccountID: "alice", Amount: amt("1")})
	assert.ErrorIs(t, err, model.ErrAccountInactive)

	_, err = f.engine.DeactivateAccount(f.ctx, "SYSTEM_ACCOUNT")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.engine.DeactivateAccount(f.ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestEngine_GetBalanceUsesCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	f := newFixture(t, WalletProfile(), func(d *Deps) { d.Cache = repo.NewBalanceCache(rdb, time.Minute) })
	require.NoError(t, f.store.DB(f.ctx).Create(&model.Account{
		AccountID: "alice", OwnerID: "alice", AccountType: model.AccountUser, Currency: "USD",
		BalanceAvailable: amt("42"), Active: true,
	}).Error)

	mock.ExpectGet("balance:alice").RedisNil()
	mock.ExpectSetNX("balance:alice", "42.0000|0.0000", time.Minute).SetVal(true)
	bal, err := f.engine.GetBalance(f.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(amt("42")))

	mock.ExpectGet("balance:alice").SetVal("42.0000|0.0000")
	bal, err = f.engine.GetBalance(f.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(amt("42")))
	assert.True(t, bal.Reserved.IsZero())

	mock.ExpectGet("balance:ghost").RedisNil()
	_, err = f.engine.GetBalance(f.ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_HistoryAndEntries(t *testing.T) {
	f := newFixture(t, WalletProfile())
	f.earn("alice", "100")
	xfer := f.submit(Command{IdempotencyKey: "t-1", Type: model.TxnTransfer, AccountID: "alice", ToAccountID: "bob", Amount: amt("10")})

	hist, err := f.engine.History(f.ctx, "alice", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	hist, err = f.engine.History(f.ctx, "bob", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, xfer.TransactionID, hist[0].TransactionID)

	entries, err := f.engine.Entries(f.ctx, xfer.TransactionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	sides := map[model.EntrySide]string{}
	for _, en := range entries {
		sides[en.Side] = en.AccountID
	}
	assert.Equal(t, "alice", sides[model.SideDebit])
	assert.Equal(t, "bob", sides[model.SideCredit])

	acct, err := f.engine.AccountEntries(f.ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, acct, 2)

	_, err = f.engine.Entries(f.ctx, "missing")
	assert.ErrorIs(t, err, model.ErrTransactionNotFound)
	_, err = f.engine.GetTransaction(f.ctx, "missing")
	assert.ErrorIs(t, err, model.ErrTransactionNotFound)
}
