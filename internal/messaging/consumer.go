package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Submitter is the part of the engine the consumer drives.
type Submitter interface {
	Submit(ctx context.Context, cmd service.Command) (*service.Result, error)
}

type ConsumerConfig struct {
	DeadLetterTopic string
	MaxRetries      int
	Backoff         time.Duration
	MaxBackoff      time.Duration
}

// Consumer feeds command messages to the engine. A message is committed
// only once its outcome is durable: the transaction settled, or the
// message sits on the dead-letter topic.
type Consumer struct {
	src     Source
	dlq     Publisher
	engine  Submitter
	cfg     ConsumerConfig
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewConsumer(src Source, dlq Publisher, engine Submitter, cfg ConsumerConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Consumer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 5 * time.Second
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Consumer{src: src, dlq: dlq, engine: engine, cfg: cfg, log: logger, metrics: m, sleep: sleepCtx}
}

// Run consumes until ctx is done. It returns an error only when a message
// can neither be settled nor dead-lettered; the process should exit so the
// message is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("command consumer started")
	for {
		msg, err := c.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("command consumer stopped")
				return nil
			}
			c.log.Warnf("fetch: %v", err)
			if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
				return nil
			}
			continue
		}
		if err := c.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle processes one message and commits it.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	cmd, err := decodeCommand(msg)
	if err != nil {
		return c.deadLetter(ctx, msg, err, 0)
	}

	for attempt := 1; ; attempt++ {
		res, err := c.engine.Submit(ctx, cmd)
		switch {
		case err == nil:
			c.metrics.ObserveConsumed("applied")
			c.log.Infow("command applied", "key", cmd.IdempotencyKey, "transaction_id", res.TransactionID, "status", res.Status)
			return c.commit(ctx, msg)
		case model.IsDomainError(err):
			// the FAILED record and its event are the outcome
			c.metrics.ObserveConsumed("failed")
			c.log.Infow("command failed", "key", cmd.IdempotencyKey, "error", err)
			return c.commit(ctx, msg)
		case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrIdempotencyConflict):
			return c.deadLetter(ctx, msg, err, attempt)
		case attempt > c.cfg.MaxRetries:
			return c.deadLetter(ctx, msg, err, attempt)
		}
		c.metrics.ObserveConsumed("retried")
		c.log.Warnw("command retry", "key", cmd.IdempotencyKey, "attempt", attempt, "error", err)
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.Backoff << uint(attempt-1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	dl := kafka.Message{
		Topic: c.cfg.DeadLetterTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "x-attempts", Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: "x-source-topic", Value: []byte(msg.Topic)},
		),
	}
	if err := c.dlq.Publish(ctx, dl); err != nil {
		return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, err)
	}
	c.metrics.ObserveDeadLetter()
	c.metrics.ObserveConsumed("dead_lettered")
	c.log.Warnw("command dead-lettered", "topic", msg.Topic, "offset", msg.Offset, "attempts", attempts, "error", cause)
	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.src.Commit(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// decodeCommand reads a JSON command. The idempotency key may also come in
// the idempotency-key header or, failing that, the message key.
func decodeCommand(msg kafka.Message) (service.Command, error) {
	var cmd service.Command
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: decode command: %v", model.ErrValidation, err)
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = header(msg, "idempotency-key")
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = string(msg.Key)
	}
	return cmd, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
