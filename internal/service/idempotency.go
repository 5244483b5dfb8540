package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"gorm.io/datatypes"
)

// begin returns the record for cmd's idempotency key, inserting it in INIT
// when the key is new. replayed is true when the record already existed.
// The unique index on the key decides races between concurrent submitters.
func (e *Engine) begin(ctx context.Context, cmd Command) (*model.Transaction, bool, error) {
	db := e.store.DB(ctx)
	existing, err := e.txns.GetByKey(ctx, db, cmd.IdempotencyKey)
	if err == nil {
		return e.matchReplay(existing, cmd)
	}
	if !errors.Is(err, model.ErrTransactionNotFound) {
		return nil, false, err
	}

	t, err := e.newRecord(ctx, cmd)
	if err != nil {
		return nil, false, err
	}
	err = e.txns.Insert(ctx, db, t)
	if errors.Is(err, repo.ErrDuplicateKey) {
		existing, err = e.txns.GetByKey(ctx, db, cmd.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return e.matchReplay(existing, cmd)
	}
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

func (e *Engine) matchReplay(existing *model.Transaction, cmd Command) (*model.Transaction, bool, error) {
	if existing.RequestHash != fingerprint(cmd) {
		return nil, false, fmt.Errorf("%w: key %s belongs to transaction %s",
			model.ErrIdempotencyConflict, cmd.IdempotencyKey, existing.TransactionID)
	}
	return existing, true, nil
}

// newRecord builds the INIT record for cmd. CAPTURE, RELEASE and REFUND
// copy the account, amount and counterparty of the record they reference.
// A missing reference is not an error here; the record fails once PENDING.
func (e *Engine) newRecord(ctx context.Context, cmd Command) (*model.Transaction, error) {
	key := cmd.IdempotencyKey
	t := &model.Transaction{
		TransactionID:  uuid.NewString(),
		IdempotencyKey: &key,
		RequestHash:    fingerprint(cmd),
		Type:           cmd.Type,
		Status:         model.StatusInit,
		Amount:         cmd.Amount,
		Currency:       cmd.Currency,
		AccountID:      cmd.AccountID,
		Description:    cmd.Description,
	}
	if len(cmd.Metadata) > 0 {
		t.Metadata = datatypes.JSONMap(cmd.Metadata)
	}

	switch cmd.Type {
	case model.TxnEarn, model.TxnCredit, model.TxnDebit:
		t.CounterpartyAccountID = ptr(e.opts.SystemAccountID)
	case model.TxnAdjustment:
		t.CounterpartyAccountID = ptr(e.opts.SystemAccountID)
		t.Direction = model.SideCredit
		if cmd.Amount.IsNegative() {
			t.Direction = model.SideDebit
		}
		t.Amount = cmd.Amount.Abs()
	case model.TxnHold:
		expires := e.now().Add(e.opts.HoldTTL)
		t.HoldExpiresAt = &expires
	case model.TxnTransfer:
		t.CounterpartyAccountID = ptr(cmd.ToAccountID)
	case model.TxnCapture, model.TxnRelease:
		t.HoldTransactionID = ptr(cmd.HoldTransactionID)
		t.AccountID = ""
		hold, err := e.reference(ctx, cmd.HoldTransactionID)
		if err != nil {
			return nil, err
		}
		if hold == nil || hold.Type != model.TxnHold {
			break
		}
		if cmd.AccountID != "" && cmd.AccountID != hold.AccountID {
			return nil, fmt.Errorf("%w: hold %s belongs to %s", model.ErrValidation, hold.TransactionID, hold.AccountID)
		}
		t.AccountID = hold.AccountID
		t.Currency = hold.Currency
		if t.Amount.IsZero() {
			t.Amount = hold.Amount
		}
		if cmd.Type == model.TxnCapture {
			dest := cmd.ToAccountID
			if dest == "" {
				dest = e.opts.PlatformAccountID
			}
			if dest == hold.AccountID {
				return nil, fmt.Errorf("%w: capture destination is the held account", model.ErrValidation)
			}
			if dest == e.opts.SystemAccountID {
				return nil, fmt.Errorf("%w: capture destination is the system account", model.ErrValidation)
			}
			t.CounterpartyAccountID = ptr(dest)
		}
	case model.TxnRefund:
		t.ParentTransactionID = ptr(cmd.ParentTransactionID)
		t.AccountID = ""
		parent, err := e.reference(ctx, cmd.ParentTransactionID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		t.AccountID = parent.AccountID
		t.CounterpartyAccountID = parent.CounterpartyAccountID
	}
	return t, nil
}

// reference loads a record by id, returning nil when it does not exist.
func (e *Engine) reference(ctx context.Context, id string) (*model.Transaction, error) {
	ref, err := e.txns.Get(ctx, e.store.DB(ctx), id)
	if errors.Is(err, model.ErrTransactionNotFound) {
		return nil, nil
	}
	return ref, err
}
