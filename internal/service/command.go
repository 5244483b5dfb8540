package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/shopspring/decimal"
)

// Command is one client request. The same shape arrives over HTTP and from
// the command topic.
type Command struct {
	IdempotencyKey      string                 `json:"idempotency_key" validate:"required,max=128"`
	Type                model.TransactionType  `json:"type" validate:"required"`
	AccountID           string                 `json:"account_id" validate:"max=64"`
	FromAccountID       string                 `json:"from_account_id" validate:"max=64"`
	ToAccountID         string                 `json:"to_account_id" validate:"max=64"`
	OwnerID             string                 `json:"owner_id" validate:"max=64"`
	AccountType         model.AccountType      `json:"account_type"`
	Amount              decimal.Decimal        `json:"amount"`
	Currency            string                 `json:"currency" validate:"omitempty,len=3,uppercase"`
	HoldTransactionID   string                 `json:"hold_transaction_id" validate:"max=64"`
	ParentTransactionID string                 `json:"parent_transaction_id" validate:"max=64"`
	Description         string                 `json:"description" validate:"max=255"`
	Metadata            map[string]interface{} `json:"metadata"`
}

// Result is the client-visible projection of a transaction record.
type Result struct {
	TransactionID         string                  `json:"transaction_id"`
	IdempotencyKey        string                  `json:"idempotency_key,omitempty"`
	Type                  model.TransactionType   `json:"type"`
	Status                model.TransactionStatus `json:"status"`
	Amount                decimal.Decimal         `json:"amount"`
	Direction             model.EntrySide         `json:"direction,omitempty"`
	Currency              string                  `json:"currency"`
	AccountID             string                  `json:"account_id"`
	CounterpartyAccountID string                  `json:"counterparty_account_id,omitempty"`
	HoldTransactionID     string                  `json:"hold_transaction_id,omitempty"`
	HoldExpiresAt         *time.Time              `json:"hold_expires_at,omitempty"`
	ParentTransactionID   string                  `json:"parent_transaction_id,omitempty"`
	Description           string                  `json:"description,omitempty"`
	FailureCode           string                  `json:"failure_code,omitempty"`
	FailureReason         string                  `json:"failure_reason,omitempty"`
	CreatedAt             time.Time               `json:"created_at"`
	CompletedAt           *time.Time              `json:"completed_at,omitempty"`
	Replayed              bool                    `json:"replayed"`
}

func project(t *model.Transaction, replayed bool) *Result {
	return &Result{
		TransactionID:         t.TransactionID,
		IdempotencyKey:        t.Key(),
		Type:                  t.Type,
		Status:                t.Status,
		Amount:                t.Amount,
		Direction:             t.Direction,
		Currency:              t.Currency,
		AccountID:             t.AccountID,
		CounterpartyAccountID: deref(t.CounterpartyAccountID),
		HoldTransactionID:     deref(t.HoldTransactionID),
		HoldExpiresAt:         t.HoldExpiresAt,
		ParentTransactionID:   deref(t.ParentTransactionID),
		Description:           t.Description,
		FailureCode:           t.FailureCode,
		FailureReason:         t.FailureReason,
		CreatedAt:             t.CreatedAt,
		CompletedAt:           t.CompletedAt,
		Replayed:              replayed,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// normalize validates cmd and returns it with defaults applied and the
// amount at ledger scale.
func (e *Engine) normalize(cmd Command) (Command, error) {
	if err := e.validate.Struct(cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if !cmd.Type.Valid() {
		return cmd, fmt.Errorf("%w: unknown type %q", model.ErrValidation, cmd.Type)
	}
	if cmd.AccountID == "" {
		cmd.AccountID = cmd.FromAccountID
	} else if cmd.FromAccountID != "" && cmd.FromAccountID != cmd.AccountID {
		return cmd, fmt.Errorf("%w: account_id and from_account_id disagree", model.ErrValidation)
	}
	cmd.FromAccountID = ""
	if cmd.Currency == "" {
		cmd.Currency = e.opts.Currency
	}
	if cmd.Currency != e.opts.Currency {
		return cmd, fmt.Errorf("%w: currency %s not supported, ledger runs in %s", model.ErrValidation, cmd.Currency, e.opts.Currency)
	}
	if cmd.AccountType == "" {
		cmd.AccountType = model.AccountUser
	}
	if cmd.AccountType != model.AccountUser && cmd.AccountType != model.AccountMerchant {
		return cmd, fmt.Errorf("%w: account_type %s cannot be opened implicitly", model.ErrValidation, cmd.AccountType)
	}

	amt, err := model.NormalizeAmount(cmd.Amount, e.opts.Scale)
	if err != nil {
		return cmd, err
	}
	cmd.Amount = amt

	switch cmd.Type {
	case model.TxnEarn, model.TxnCredit, model.TxnDebit, model.TxnHold:
		if err := e.requireAccount(cmd); err != nil {
			return cmd, err
		}
		if err := requirePositive(cmd.Amount); err != nil {
			return cmd, err
		}
	case model.TxnTransfer:
		if cmd.AccountID == "" || cmd.ToAccountID == "" {
			return cmd, fmt.Errorf("%w: transfer needs from and to accounts", model.ErrValidation)
		}
		if cmd.AccountID == cmd.ToAccountID {
			return cmd, fmt.Errorf("%w: cannot transfer to self", model.ErrValidation)
		}
		if cmd.AccountID == e.opts.SystemAccountID || cmd.ToAccountID == e.opts.SystemAccountID {
			return cmd, fmt.Errorf("%w: TRANSFER cannot touch the system account", model.ErrValidation)
		}
		if err := requirePositive(cmd.Amount); err != nil {
			return cmd, err
		}
	case model.TxnCapture, model.TxnRelease:
		if cmd.HoldTransactionID == "" {
			return cmd, fmt.Errorf("%w: hold_transaction_id is required", model.ErrValidation)
		}
		if cmd.Amount.IsNegative() {
			return cmd, fmt.Errorf("%w: amount must not be negative", model.ErrValidation)
		}
		if cmd.Type == model.TxnRelease && !cmd.Amount.IsZero() {
			return cmd, fmt.Errorf("%w: release always returns the whole hold", model.ErrValidation)
		}
	case model.TxnRefund:
		if cmd.ParentTransactionID == "" {
			return cmd, fmt.Errorf("%w: parent_transaction_id is required", model.ErrValidation)
		}
		if err := requirePositive(cmd.Amount); err != nil {
			return cmd, err
		}
	case model.TxnAdjustment:
		if err := e.requireAccount(cmd); err != nil {
			return cmd, err
		}
		if cmd.Amount.IsZero() {
			return cmd, fmt.Errorf("%w: adjustment amount must be non-zero", model.ErrValidation)
		}
	}
	if cmd.OwnerID == "" {
		cmd.OwnerID = cmd.AccountID
	}
	return cmd, nil
}

func (e *Engine) requireAccount(cmd Command) error {
	if cmd.AccountID == "" {
		return fmt.Errorf("%w: account_id is required for %s", model.ErrValidation, cmd.Type)
	}
	if cmd.AccountID == e.opts.SystemAccountID {
		return fmt.Errorf("%w: %s cannot target the system account", model.ErrValidation, cmd.Type)
	}
	return nil
}

func requirePositive(amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}
	return nil
}

// fingerprint hashes the fields that decide what a command does. Two
// submissions under one key must agree on all of them.
func fingerprint(cmd Command) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		string(cmd.Type),
		cmd.AccountID,
		cmd.ToAccountID,
		cmd.Amount.StringFixed(model.Scale),
		cmd.Currency,
		cmd.HoldTransactionID,
		cmd.ParentTransactionID,
	}, "|")))
	return hex.EncodeToString(h[:])
}

func newValidator() *validator.Validate { return validator.New() }
