package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntrySide string

const (
	SideDebit  EntrySide = "DEBIT"
	SideCredit EntrySide = "CREDIT"
)

// Bucket names the balance of an account an entry moves.
type Bucket string

const (
	BucketAvailable Bucket = "AVAILABLE"
	BucketReserved  Bucket = "RESERVED"
)

// LedgerEntry is one leg of a balanced posting. Entries are append-only.
type LedgerEntry struct {
	EntryID       string          `gorm:"primaryKey;size:32;column:entry_id"`
	TransactionID string          `gorm:"size:64;not null;uniqueIndex:uk_ledger_entries_txn_side_account,priority:1"`
	Side          EntrySide       `gorm:"size:8;not null;uniqueIndex:uk_ledger_entries_txn_side_account,priority:2"`
	AccountID     string          `gorm:"size:64;not null;uniqueIndex:uk_ledger_entries_txn_side_account,priority:3;index:idx_ledger_entries_account"`
	Bucket        Bucket          `gorm:"size:16;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(24,4);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(24,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(24,4);not null"`
	Description   string          `gorm:"size:255"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_ledger_entries_created"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Signed returns the entry's effect on its bucket: credits add, debits subtract.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Side == SideDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
