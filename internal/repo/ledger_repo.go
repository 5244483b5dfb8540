package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrUnbalancedPosting is returned when the two legs of a pair differ.
var ErrUnbalancedPosting = errors.New("unbalanced posting")

// Leg is one side of a posting.
type Leg struct {
	AccountID     string
	Bucket        model.Bucket
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
}

// LedgerRepository is the append-only journal. PostPair is the only writer.
type LedgerRepository interface {
	PostPair(ctx context.Context, tx *gorm.DB, transactionID string, debit, credit Leg) ([]model.LedgerEntry, error)
	ListByTransaction(ctx context.Context, tx *gorm.DB, transactionID string) ([]model.LedgerEntry, error)
	ListByAccount(ctx context.Context, tx *gorm.DB, accountID string, since time.Time, limit int) ([]model.LedgerEntry, error)
	SumByAccount(ctx context.Context, tx *gorm.DB, accountID string) (map[model.Bucket]decimal.Decimal, error)
}

type LedgerRepo struct{}

func NewLedgerRepo() *LedgerRepo { return &LedgerRepo{} }

// PostPair writes a debit and a credit of equal amount for one transaction.
// It must run inside the same tx as the balance mutation it records.
func (r *LedgerRepo) PostPair(ctx context.Context, tx *gorm.DB, transactionID string, debit, credit Leg) ([]model.LedgerEntry, error) {
	if !debit.Amount.IsPositive() || !debit.Amount.Equal(credit.Amount) {
		return nil, fmt.Errorf("%w: txn %s debit=%s credit=%s", ErrUnbalancedPosting,
			transactionID, debit.Amount.String(), credit.Amount.String())
	}
	now := time.Now().UTC()
	entries := []model.LedgerEntry{
		newEntry(transactionID, model.SideDebit, debit, now),
		newEntry(transactionID, model.SideCredit, credit, now),
	}
	if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func newEntry(transactionID string, side model.EntrySide, leg Leg, at time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		EntryID:       ulid.Make().String(),
		TransactionID: transactionID,
		Side:          side,
		AccountID:     leg.AccountID,
		Bucket:        leg.Bucket,
		Amount:        leg.Amount,
		BalanceBefore: leg.BalanceBefore,
		BalanceAfter:  leg.BalanceAfter,
		Description:   leg.Description,
		CreatedAt:     at,
	}
}

func (r *LedgerRepo) ListByTransaction(ctx context.Context, tx *gorm.DB, transactionID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("entry_id asc").
		Find(&entries).Error
	return entries, classify(err)
}

func (r *LedgerRepo) ListByAccount(ctx context.Context, tx *gorm.DB, accountID string, since time.Time, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("entry_id asc").
		Limit(limit).
		Find(&entries).Error
	return entries, classify(err)
}

// SumByAccount folds every entry of accountID per bucket. Sums are done in
// decimal rather than SQL so precision does not depend on the driver.
func (r *LedgerRepo) SumByAccount(ctx context.Context, tx *gorm.DB, accountID string) (map[model.Bucket]decimal.Decimal, error) {
	sums := map[model.Bucket]decimal.Decimal{
		model.BucketAvailable: decimal.Zero,
		model.BucketReserved:  decimal.Zero,
	}
	var batch []model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("account_id = ?", accountID).
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				sums[batch[i].Bucket] = sums[batch[i].Bucket].Add(batch[i].Signed())
			}
			return nil
		}).Error
	if err != nil {
		return nil, classify(err)
	}
	return sums, nil
}
