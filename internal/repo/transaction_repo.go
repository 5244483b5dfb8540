package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionRepository persists transaction records. Transition is the only
// way a record changes status.
type TransactionRepository interface {
	Insert(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	Get(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	GetByKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error)
	LockByID(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	Transition(ctx context.Context, tx *gorm.DB, t *model.Transaction, to model.TransactionStatus, fields map[string]interface{}) error
	ListExpiredHolds(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]model.Transaction, error)
	ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]model.Transaction, error)
	RefundedTotal(ctx context.Context, tx *gorm.DB, parentID string) (decimal.Decimal, error)
	ListByAccount(ctx context.Context, tx *gorm.DB, accountID string, since time.Time, limit int) ([]model.Transaction, error)
}

type TransactionRepo struct{}

func NewTransactionRepo() *TransactionRepo { return &TransactionRepo{} }

// Insert creates the record. A reused idempotency key yields ErrDuplicateKey.
func (r *TransactionRepo) Insert(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return classify(tx.WithContext(ctx).Create(t).Error)
}

func (r *TransactionRepo) Get(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	return r.first(tx.WithContext(ctx).Where("transaction_id = ?", id), id)
}

func (r *TransactionRepo) GetByKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error) {
	return r.first(tx.WithContext(ctx).Where("idempotency_key = ?", key), key)
}

// LockByID locks the record for the rest of tx.
func (r *TransactionRepo) LockByID(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	return r.first(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("transaction_id = ?", id), id)
}

func (r *TransactionRepo) first(q *gorm.DB, ref string) (*model.Transaction, error) {
	var t model.Transaction
	err := q.First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrTransactionNotFound, ref)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// Transition moves t to status to. The update is conditional on the status
// t was read with, so a concurrent transition makes it fail instead of
// overwriting.
func (r *TransactionRepo) Transition(ctx context.Context, tx *gorm.DB, t *model.Transaction, to model.TransactionStatus, fields map[string]interface{}) error {
	if !model.CanTransition(t.Type, t.Status, to) {
		return fmt.Errorf("%w: %s %s %s -> %s", model.ErrInvalidStateTransition, t.Type, t.TransactionID, t.Status, to)
	}
	now := time.Now().UTC()
	upd := map[string]interface{}{"status": to, "updated_at": now}
	for k, v := range fields {
		upd[k] = v
	}
	if to.Terminal() {
		upd["completed_at"] = now
	}
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_id = ? AND status = ?", t.TransactionID, t.Status).
		Updates(upd)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s is no longer %s", model.ErrInvalidStateTransition, t.TransactionID, t.Status)
	}
	t.Status = to
	t.UpdatedAt = now
	if to.Terminal() {
		t.CompletedAt = &now
	}
	if reason, ok := fields["failure_reason"].(string); ok {
		t.FailureReason = reason
	}
	if code, ok := fields["failure_code"].(string); ok {
		t.FailureCode = code
	}
	return nil
}

// ListExpiredHolds returns HELD holds whose expiry has passed, oldest first.
func (r *TransactionRepo) ListExpiredHolds(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Where("type = ? AND status = ? AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?", model.TxnHold, model.StatusHeld, now).
		Order("hold_expires_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, classify(err)
}

// ListStale returns INIT/PENDING records last touched before olderThan.
func (r *TransactionRepo) ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Where("status IN ? AND updated_at <= ?", []model.TransactionStatus{model.StatusInit, model.StatusPending}, olderThan).
		Order("updated_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, classify(err)
}

// RefundedTotal sums completed refunds of parentID.
func (r *TransactionRepo) RefundedTotal(ctx context.Context, tx *gorm.DB, parentID string) (decimal.Decimal, error) {
	var refunds []model.Transaction
	err := tx.WithContext(ctx).
		Where("parent_transaction_id = ? AND type = ? AND status = ?", parentID, model.TxnRefund, model.StatusCompleted).
		Find(&refunds).Error
	if err != nil {
		return decimal.Zero, classify(err)
	}
	total := decimal.Zero
	for _, rf := range refunds {
		total = total.Add(rf.Amount)
	}
	return total, nil
}

// ListByAccount fetches transactions touching accountID, oldest first.
func (r *TransactionRepo) ListByAccount(ctx context.Context, tx *gorm.DB, accountID string, since time.Time, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Where("(account_id = ? OR counterparty_account_id = ?) AND created_at >= ?", accountID, accountID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, classify(err)
}
