package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TxnEarn       TransactionType = "EARN"
	TxnCredit     TransactionType = "CREDIT"
	TxnDebit      TransactionType = "DEBIT"
	TxnHold       TransactionType = "HOLD"
	TxnCapture    TransactionType = "CAPTURE"
	TxnRelease    TransactionType = "RELEASE"
	TxnTransfer   TransactionType = "TRANSFER"
	TxnRefund     TransactionType = "REFUND"
	TxnAdjustment TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxnEarn, TxnCredit, TxnDebit, TxnHold, TxnCapture, TxnRelease, TxnTransfer, TxnRefund, TxnAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusInit      TransactionStatus = "INIT"
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusHeld      TransactionStatus = "HELD"
	StatusCaptured  TransactionStatus = "CAPTURED"
	StatusReleased  TransactionStatus = "RELEASED"
	StatusExpired   TransactionStatus = "EXPIRED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Terminal statuses are immutable.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCaptured, StatusReleased, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the transaction state machine. HELD is reachable
// only by HOLD transactions and COMPLETED by every other type.
func CanTransition(typ TransactionType, from, to TransactionStatus) bool {
	switch from {
	case StatusInit:
		return to == StatusPending || to == StatusFailed || to == StatusCancelled
	case StatusPending:
		switch to {
		case StatusFailed, StatusCancelled:
			return true
		case StatusHeld:
			return typ == TxnHold
		case StatusCompleted:
			return typ != TxnHold
		}
	case StatusHeld:
		if typ != TxnHold {
			return false
		}
		switch to {
		case StatusCaptured, StatusReleased, StatusExpired, StatusCancelled:
			return true
		}
	}
	return false
}

// SuccessStatus is the status a transaction of type typ reaches when its
// mutation commits.
func SuccessStatus(typ TransactionType) TransactionStatus {
	if typ == TxnHold {
		return StatusHeld
	}
	return StatusCompleted
}

// Transaction is the durable state-machine record of one logical operation.
// IdempotencyKey is unique; it is nil only for internally chained children.
type Transaction struct {
	TransactionID         string            `gorm:"primaryKey;size:64;column:transaction_id"`
	IdempotencyKey        *string           `gorm:"size:128;uniqueIndex:uk_transactions_idempotency_key"`
	RequestHash           string            `gorm:"size:64;not null"`
	Type                  TransactionType   `gorm:"size:16;not null"`
	Status                TransactionStatus `gorm:"size:16;not null;index:idx_transactions_status"`
	Amount                decimal.Decimal   `gorm:"type:numeric(24,4);not null"`
	Direction             EntrySide         `gorm:"size:8"`
	Currency              string            `gorm:"size:8;not null"`
	AccountID             string            `gorm:"size:64;not null;index:idx_transactions_account"`
	CounterpartyAccountID *string           `gorm:"size:64"`
	HoldTransactionID     *string           `gorm:"size:64;index:idx_transactions_hold"`
	HoldExpiresAt         *time.Time        `gorm:"index:idx_transactions_hold_expiry"`
	ParentTransactionID   *string           `gorm:"size:64;index:idx_transactions_parent"`
	Description           string            `gorm:"size:255"`
	Metadata              datatypes.JSONMap
	FailureReason         string            `gorm:"size:512"`
	FailureCode           string            `gorm:"size:32"`
	CompletedAt           *time.Time
	CreatedAt             time.Time         `gorm:"autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime"`
}

func (Transaction) TableName() string { return "transactions" }

// HoldActive reports whether a HELD transaction can still be captured at now.
func (t *Transaction) HoldActive(now time.Time) bool {
	if t.Status != StatusHeld {
		return false
	}
	return t.HoldExpiresAt == nil || now.Before(*t.HoldExpiresAt)
}

// Key returns the idempotency key or "" for keyless children.
func (t *Transaction) Key() string {
	if t.IdempotencyKey == nil {
		return ""
	}
	return *t.IdempotencyKey
}
