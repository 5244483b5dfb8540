package repo

import (
	"context"
	"time"

	"github.com/richardliu001/ledger-service/internal/model"
	"gorm.io/gorm"
)

// OutboxRepository stores completion events until the relay publishes them.
type OutboxRepository interface {
	Create(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	Poll(ctx context.Context, tx *gorm.DB, limit int) ([]model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uint64) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uint64, cause error) error
}

type OutboxRepo struct{}

func NewOutboxRepo() *OutboxRepo { return &OutboxRepo{} }

// Create writes event.
func (r *OutboxRepo) Create(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return classify(tx.WithContext(ctx).Create(evt).Error)
}

// Poll pulls unprocessed events in insertion order.
func (r *OutboxRepo) Poll(ctx context.Context, tx *gorm.DB, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := tx.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, classify(err)
}

// MarkProcessed sets processed flag.
func (r *OutboxRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, id uint64) error {
	now := time.Now().UTC()
	return classify(tx.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error)
}

// MarkFailed records a failed publish attempt; the event stays pending.
func (r *OutboxRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uint64, cause error) error {
	msg := cause.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return classify(tx.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"attempts": gorm.Expr("attempts + 1"), "last_error": msg}).Error)
}
