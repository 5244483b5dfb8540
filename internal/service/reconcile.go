package service

import (
	"context"

	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reconciliation compares an account's stored balances with the balances
// its journal entries add up to.
type Reconciliation struct {
	AccountID        string          `json:"account_id"`
	StoredAvailable  decimal.Decimal `json:"stored_available"`
	StoredReserved   decimal.Decimal `json:"stored_reserved"`
	JournalAvailable decimal.Decimal `json:"journal_available"`
	JournalReserved  decimal.Decimal `json:"journal_reserved"`
	Balanced         bool            `json:"balanced"`
}

// Reconcile replays the journal of accountID under its lock so no
// in-flight posting skews the comparison.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	release, err := e.locker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var rec *Reconciliation
	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		a, err := e.accounts.Get(ctx, tx, accountID)
		if err != nil {
			return err
		}
		sums, err := e.ledger.SumByAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		rec = &Reconciliation{
			AccountID:        accountID,
			StoredAvailable:  a.BalanceAvailable,
			StoredReserved:   a.BalanceReserved,
			JournalAvailable: a.OpeningBalance.Add(sums[model.BucketAvailable]),
			JournalReserved:  sums[model.BucketReserved],
		}
		rec.Balanced = rec.StoredAvailable.Equal(rec.JournalAvailable) &&
			rec.StoredReserved.Equal(rec.JournalReserved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Balanced {
		e.log.Errorw("account does not reconcile with journal",
			"account_id", accountID,
			"stored_available", rec.StoredAvailable.String(), "journal_available", rec.JournalAvailable.String(),
			"stored_reserved", rec.StoredReserved.String(), "journal_reserved", rec.JournalReserved.String())
	}
	return rec, nil
}

// PostingCheck sums the legs of one transaction.
type PostingCheck struct {
	TransactionID string          `json:"transaction_id"`
	Entries       int             `json:"entries"`
	Debits        decimal.Decimal `json:"debits"`
	Credits       decimal.Decimal `json:"credits"`
	Balanced      bool            `json:"balanced"`
}

// VerifyTransaction checks that a transaction's debits equal its credits.
// Transactions that failed have no entries and verify trivially.
func (e *Engine) VerifyTransaction(ctx context.Context, transactionID string) (*PostingCheck, error) {
	entries, err := e.Entries(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	chk := &PostingCheck{TransactionID: transactionID, Entries: len(entries), Debits: decimal.Zero, Credits: decimal.Zero}
	for _, en := range entries {
		if en.Side == model.SideDebit {
			chk.Debits = chk.Debits.Add(en.Amount)
		} else {
			chk.Credits = chk.Credits.Add(en.Amount)
		}
	}
	chk.Balanced = chk.Debits.Equal(chk.Credits)
	return chk, nil
}
