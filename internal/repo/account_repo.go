package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/ledger-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository is the account store. Rows returned by LockAndLoad stay
// locked until tx ends.
type AccountRepository interface {
	LockAndLoad(ctx context.Context, tx *gorm.DB, accountID string) (*model.Account, error)
	GetOrCreate(ctx context.Context, tx *gorm.DB, seed *model.Account) (*model.Account, error)
	Get(ctx context.Context, tx *gorm.DB, accountID string) (*model.Account, error)
	Create(ctx context.Context, tx *gorm.DB, a *model.Account) error
	Save(ctx context.Context, tx *gorm.DB, a *model.Account) error
	SetActive(ctx context.Context, tx *gorm.DB, accountID string, active bool) error
}

type AccountRepo struct{}

func NewAccountRepo() *AccountRepo { return &AccountRepo{} }

// LockAndLoad locks account row.
func (r *AccountRepo) LockAndLoad(ctx context.Context, tx *gorm.DB, accountID string) (*model.Account, error) {
	var a model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

// GetOrCreate inserts seed unless the account exists, then locks it.
func (r *AccountRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, seed *model.Account) (*model.Account, error) {
	row := *seed
	row.Active = true
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, classify(err)
	}
	return r.LockAndLoad(ctx, tx, seed.AccountID)
}

// Get reads an account without locking it.
func (r *AccountRepo) Get(ctx context.Context, tx *gorm.DB, accountID string) (*model.Account, error) {
	var a model.Account
	err := tx.WithContext(ctx).Where("account_id = ?", accountID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, tx *gorm.DB, a *model.Account) error {
	return classify(tx.WithContext(ctx).Create(a).Error)
}

// Save writes balances with an optimistic version check on top of the row lock.
func (r *AccountRepo) Save(ctx context.Context, tx *gorm.DB, a *model.Account) error {
	res := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_id = ? AND version = ?", a.AccountID, a.Version).
		Updates(map[string]interface{}{
			"balance_available": a.BalanceAvailable,
			"balance_reserved":  a.BalanceReserved,
			"total_credited":    a.TotalCredited,
			"total_debited":     a.TotalDebited,
			"version":           a.Version + 1,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: account %s version %d", model.ErrPersistenceConflict, a.AccountID, a.Version)
	}
	a.Version++
	return nil
}

// SetActive flips the active flag. Accounts are never deleted.
func (r *AccountRepo) SetActive(ctx context.Context, tx *gorm.DB, accountID string, active bool) error {
	res := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	return nil
}
