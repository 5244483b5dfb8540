package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ledger-service/internal/lock"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *repo.Store
	clock  *testClock
	engine *Engine
}

func newStore(t *testing.T) *repo.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))
	return repo.NewStore(db, zap.NewNop().Sugar())
}

func newFixture(t *testing.T, opts Options, mutate ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: newStore(t),
		clock: &testClock{now: time.Now().UTC().Truncate(time.Second)},
	}
	f.engine = f.newEngine(opts, mutate...)
	require.NoError(t, f.engine.Bootstrap(f.ctx))
	return f
}

// newEngine builds another engine on the fixture's database.
func (f *fixture) newEngine(opts Options, mutate ...func(*Deps)) *Engine {
	d := Deps{
		Store:  f.store,
		Locker: lock.NewMemoryLocker(2 * time.Second),
		Log:    zap.NewNop().Sugar(),
		Clock:  f.clock.Now,
	}
	for _, m := range mutate {
		m(&d)
	}
	return NewEngine(d, opts)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) submit(cmd Command) *Result {
	f.t.Helper()
	res, err := f.engine.Submit(f.ctx, cmd)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) earn(account, amount string) *Result {
	f.t.Helper()
	return f.submit(Command{
		IdempotencyKey: "earn-" + uuid.NewString(),
		Type:           model.TxnEarn,
		AccountID:      account,
		Amount:         amt(amount),
	})
}

func (f *fixture) hold(account, amount string) *Result {
	f.t.Helper()
	return f.submit(Command{
		IdempotencyKey: "hold-" + uuid.NewString(),
		Type:           model.TxnHold,
		AccountID:      account,
		Amount:         amt(amount),
	})
}

func (f *fixture) account(id string) *model.Account {
	f.t.Helper()
	a, err := f.engine.GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) txn(id string) *model.Transaction {
	f.t.Helper()
	t, err := repo.NewTransactionRepo().Get(f.ctx, f.store.DB(f.ctx), id)
	require.NoError(f.t, err)
	return t
}

func (f *fixture) count(m interface{}) int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.store.DB(f.ctx).Model(m).Count(&n).Error)
	return n
}

// requireReconciled checks every listed account against its journal.
func (f *fixture) requireReconciled(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		rec, err := f.engine.Reconcile(f.ctx, id)
		require.NoError(f.t, err)
		require.True(f.t, rec.Balanced, "account %s: stored %s/%s journal %s/%s", id,
			rec.StoredAvailable, rec.StoredReserved, rec.JournalAvailable, rec.JournalReserved)
	}
}
