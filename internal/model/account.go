package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountUser     AccountType = "USER"
	AccountMerchant AccountType = "MERCHANT"
	AccountPlatform AccountType = "PLATFORM"
	AccountSystem   AccountType = "SYSTEM"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountUser, AccountMerchant, AccountPlatform, AccountSystem:
		return true
	}
	return false
}

// Account holds the balances of one ledger participant. Rows are only
// mutated while locked by the engine and are never deleted.
type Account struct {
	AccountID        string          `gorm:"primaryKey;size:64;column:account_id"`
	OwnerID          string          `gorm:"size:64;not null;index"`
	AccountType      AccountType     `gorm:"size:16;not null"`
	Currency         string          `gorm:"size:8;not null"`
	BalanceAvailable decimal.Decimal `gorm:"type:numeric(24,4);not null;default:0"`
	BalanceReserved  decimal.Decimal `gorm:"type:numeric(24,4);not null;default:0"`
	TotalCredited    decimal.Decimal `gorm:"type:numeric(24,4);not null;default:0"`
	TotalDebited     decimal.Decimal `gorm:"type:numeric(24,4);not null;default:0"`
	OpeningBalance   decimal.Decimal `gorm:"type:numeric(24,4);not null;default:0"`
	Active           bool            `gorm:"not null;default:true"`
	Version          uint64          `gorm:"not null;default:0"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }

// TotalBalance is available plus reserved.
func (a *Account) TotalBalance() decimal.Decimal {
	return a.BalanceAvailable.Add(a.BalanceReserved)
}

// HasAvailable reports whether amt can be taken from the available balance.
func (a *Account) HasAvailable(amt decimal.Decimal) bool {
	return a.BalanceAvailable.GreaterThanOrEqual(amt)
}

// Credit adds amt to the available balance.
func (a *Account) Credit(amt decimal.Decimal) {
	a.BalanceAvailable = a.BalanceAvailable.Add(amt)
	a.TotalCredited = a.TotalCredited.Add(amt)
}

// Debit removes amt from the available balance.
func (a *Account) Debit(amt decimal.Decimal) error {
	if !a.HasAvailable(amt) {
		return a.insufficient(amt)
	}
	a.BalanceAvailable = a.BalanceAvailable.Sub(amt)
	a.TotalDebited = a.TotalDebited.Add(amt)
	return nil
}

// HoldFunds moves amt from available to reserved.
func (a *Account) HoldFunds(amt decimal.Decimal) error {
	if !a.HasAvailable(amt) {
		return a.insufficient(amt)
	}
	a.BalanceAvailable = a.BalanceAvailable.Sub(amt)
	a.BalanceReserved = a.BalanceReserved.Add(amt)
	return nil
}

// ReleaseHold moves amt from reserved back to available.
func (a *Account) ReleaseHold(amt decimal.Decimal) error {
	if a.BalanceReserved.LessThan(amt) {
		return fmt.Errorf("%w: reserved %s < %s on %s", ErrInvalidStateTransition,
			a.BalanceReserved.StringFixed(Scale), amt.StringFixed(Scale), a.AccountID)
	}
	a.BalanceReserved = a.BalanceReserved.Sub(amt)
	a.BalanceAvailable = a.BalanceAvailable.Add(amt)
	return nil
}

// CaptureHold removes amt from reserved; the value leaves the account.
func (a *Account) CaptureHold(amt decimal.Decimal) error {
	if a.BalanceReserved.LessThan(amt) {
		return fmt.Errorf("%w: reserved %s < %s on %s", ErrInvalidStateTransition,
			a.BalanceReserved.StringFixed(Scale), amt.StringFixed(Scale), a.AccountID)
	}
	a.BalanceReserved = a.BalanceReserved.Sub(amt)
	a.TotalDebited = a.TotalDebited.Add(amt)
	return nil
}

func (a *Account) insufficient(amt decimal.Decimal) error {
	return fmt.Errorf("%w: account %s available=%s requested=%s", ErrInsufficientFunds,
		a.AccountID, a.BalanceAvailable.StringFixed(Scale), amt.StringFixed(Scale))
}
