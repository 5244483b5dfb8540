package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay publishes committed outbox rows in insertion order. A row is
// marked processed only after the broker accepted it, so a crash between
// the two publishes it again.
type Relay struct {
	store   *repo.Store
	outbox  repo.OutboxRepository
	pub     Publisher
	cfg     RelayConfig
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewRelay(store *repo.Store, pub Publisher, cfg RelayConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Relay{store: store, outbox: repo.NewOutboxRepo(), pub: pub, cfg: cfg, log: logger, metrics: m}
}

// RunOnce publishes one batch and returns how many rows were sent. It stops
// at the first failure so later events never overtake an earlier one.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	db := r.store.DB(ctx)
	events, err := r.outbox.Poll(ctx, db, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("poll outbox: %w", err)
	}
	sent := 0
	for _, evt := range events {
		err := r.pub.Publish(ctx, toMessage(evt))
		r.metrics.ObservePublish(err)
		if err != nil {
			if merr := r.outbox.MarkFailed(ctx, db, evt.ID, err); merr != nil {
				r.log.Errorf("mark failed id=%d: %v", evt.ID, merr)
			}
			return sent, fmt.Errorf("publish id=%d: %w", evt.ID, err)
		}
		if err := r.outbox.MarkProcessed(ctx, db, evt.ID); err != nil {
			return sent, fmt.Errorf("mark processed id=%d: %w", evt.ID, err)
		}
		sent++
	}
	return sent, nil
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Errorf("relay: %v", err)
			}
			if n > 0 {
				r.log.Infof("relayed %d events", n)
			}
		}
	}
}

func toMessage(evt model.OutboxEvent) kafka.Message {
	keys := make([]string, 0, len(evt.Headers))
	for k := range evt.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(evt.EventID)},
		{Key: "event_type", Value: []byte(evt.EventType)},
	}
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(fmt.Sprint(evt.Headers[k]))})
	}
	return kafka.Message{
		Topic:   evt.Topic,
		Key:     []byte(evt.AggregateID),
		Value:   []byte(evt.Payload),
		Headers: headers,
		Time:    evt.CreatedAt,
	}
}
