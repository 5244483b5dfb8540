package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// OpenAccountRequest opens an account explicitly. Accounts are otherwise
// opened by their first EARN, CREDIT or incoming TRANSFER.
type OpenAccountRequest struct {
	AccountID   string            `json:"account_id" validate:"required,max=64"`
	OwnerID     string            `json:"owner_id" validate:"max=64"`
	AccountType model.AccountType `json:"account_type"`
	Currency    string            `json:"currency" validate:"omitempty,len=3,uppercase"`
}

// OpenAccount creates the account, or returns it unchanged when an
// identical one already exists.
func (e *Engine) OpenAccount(ctx context.Context, req OpenAccountRequest) (*model.Account, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if req.AccountType == "" {
		req.AccountType = model.AccountUser
	}
	if !req.AccountType.Valid() || req.AccountType == model.AccountSystem {
		return nil, fmt.Errorf("%w: account_type %q", model.ErrValidation, req.AccountType)
	}
	if req.Currency == "" {
		req.Currency = e.opts.Currency
	}
	if req.Currency != e.opts.Currency {
		return nil, fmt.Errorf("%w: currency %s not supported", model.ErrValidation, req.Currency)
	}
	if req.AccountID == e.opts.SystemAccountID {
		return nil, fmt.Errorf("%w: %s is reserved", model.ErrValidation, req.AccountID)
	}
	if req.OwnerID == "" {
		req.OwnerID = req.AccountID
	}

	a := &model.Account{
		AccountID:   req.AccountID,
		OwnerID:     req.OwnerID,
		AccountType: req.AccountType,
		Currency:    req.Currency,
		Active:      true,
	}
	db := e.store.DB(ctx)
	err := e.accounts.Create(ctx, db, a)
	if errors.Is(err, repo.ErrDuplicateKey) {
		existing, gerr := e.accounts.Get(ctx, db, req.AccountID)
		if gerr != nil {
			return nil, gerr
		}
		if existing.OwnerID != req.OwnerID || existing.AccountType != req.AccountType {
			return nil, fmt.Errorf("%w: account %s already exists for %s", model.ErrValidation, req.AccountID, existing.OwnerID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	e.log.Infow("account opened", "account_id", a.AccountID, "owner_id", a.OwnerID, "type", a.AccountType)
	return a, nil
}

// DeactivateAccount stops an account from taking part in new transactions.
// Its balances and history stay as they are.
func (e *Engine) DeactivateAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == e.opts.SystemAccountID || accountID == e.opts.PlatformAccountID {
		return nil, fmt.Errorf("%w: %s cannot be deactivated", model.ErrValidation, accountID)
	}
	release, err := e.locker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var a *model.Account
	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := e.accounts.SetActive(ctx, tx, accountID, false); err != nil {
			return err
		}
		var err error
		a, err = e.accounts.Get(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.cache.Invalidate(ctx, accountID); err != nil {
		e.log.Warnw("balance cache invalidate failed", "account_id", accountID, "error", err)
	}
	e.log.Infow("account deactivated", "account_id", accountID)
	return a, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return e.accounts.Get(ctx, e.store.DB(ctx), accountID)
}

// GetBalance serves from the cache and falls back to the account row.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (repo.Balance, error) {
	bal, err := e.cache.Get(ctx, accountID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, repo.ErrCacheMiss) {
		e.log.Warnw("balance cache read failed", "account_id", accountID, "error", err)
	}
	a, err := e.accounts.Get(ctx, e.store.DB(ctx), accountID)
	if err != nil {
		return repo.Balance{}, err
	}
	if err := e.cache.Fill(ctx, a); err != nil {
		e.log.Warnw("balance cache fill failed", "account_id", accountID, "error", err)
	}
	return repo.Balance{Available: a.BalanceAvailable, Reserved: a.BalanceReserved}, nil
}

func (e *Engine) GetTransaction(ctx context.Context, transactionID string) (*Result, error) {
	t, err := e.txns.Get(ctx, e.store.DB(ctx), transactionID)
	if err != nil {
		return nil, err
	}
	return project(t, false), nil
}

// History lists transactions on accountID created at or after since.
func (e *Engine) History(ctx context.Context, accountID string, since time.Time, limit int) ([]*Result, error) {
	txs, err := e.txns.ListByAccount(ctx, e.store.DB(ctx), accountID, since, pageSize(limit))
	if err != nil {
		return nil, err
	}
	out := make([]*Result, 0, len(txs))
	for i := range txs {
		out = append(out, project(&txs[i], false))
	}
	return out, nil
}

// Entries returns the journal postings of one transaction.
func (e *Engine) Entries(ctx context.Context, transactionID string) ([]model.LedgerEntry, error) {
	db := e.store.DB(ctx)
	if _, err := e.txns.Get(ctx, db, transactionID); err != nil {
		return nil, err
	}
	return e.ledger.ListByTransaction(ctx, db, transactionID)
}

// AccountEntries returns the journal postings of one account.
func (e *Engine) AccountEntries(ctx context.Context, accountID string, since time.Time, limit int) ([]model.LedgerEntry, error) {
	db := e.store.DB(ctx)
	if _, err := e.accounts.Get(ctx, db, accountID); err != nil {
		return nil, err
	}
	return e.ledger.ListByAccount(ctx, db, accountID, since, pageSize(limit))
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
