package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/shopspring/decimal"
)

// ErrCacheMiss is returned when no cached balance exists.
var ErrCacheMiss = errors.New("balance cache miss")

// Balance is the cached view of an account.
type Balance struct {
	Available decimal.Decimal
	Reserved  decimal.Decimal
}

// BalanceCache keeps read-side balances in redis. It is never consulted by
// the write path. A nil client disables it.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func balanceKey(accountID string) string { return "balance:" + accountID }

func cachedValue(a *model.Account) string {
	return a.BalanceAvailable.StringFixed(model.Scale) + "|" + a.BalanceReserved.StringFixed(model.Scale)
}

// Put writes redis. Only committed writers call it.
func (c *BalanceCache) Put(ctx context.Context, a *model.Account) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, balanceKey(a.AccountID), cachedValue(a), c.ttl).Err()
}

// Fill populates a missing entry from an unlocked read. It never replaces
// an existing value, so a Put from a later commit wins.
func (c *BalanceCache) Fill(ctx context.Context, a *model.Account) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.SetNX(ctx, balanceKey(a.AccountID), cachedValue(a), c.ttl).Err()
}

// Get reads redis.
func (c *BalanceCache) Get(ctx context.Context, accountID string) (Balance, error) {
	if c == nil || c.rdb == nil {
		return Balance{}, ErrCacheMiss
	}
	str, err := c.rdb.Get(ctx, balanceKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return Balance{}, ErrCacheMiss
	}
	if err != nil {
		return Balance{}, err
	}
	parts := strings.Split(str, "|")
	if len(parts) != 2 {
		return Balance{}, fmt.Errorf("malformed cached balance %q", str)
	}
	avail, err := decimal.NewFromString(parts[0])
	if err != nil {
		return Balance{}, err
	}
	reserved, err := decimal.NewFromString(parts[1])
	if err != nil {
		return Balance{}, err
	}
	return Balance{Available: avail, Reserved: reserved}, nil
}

// Invalidate drops the cached balance.
func (c *BalanceCache) Invalidate(ctx context.Context, accountID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, balanceKey(accountID)).Err()
}
