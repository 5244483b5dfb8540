package service

import (
	"context"
	"time"

	"github.com/richardliu001/ledger-service/internal/metrics"
	"go.uber.org/zap"
)

// SweepConfig tunes the background sweep.
type SweepConfig struct {
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
}

// Sweeper expires lapsed holds and re-drives records stuck in INIT or
// PENDING. Running several sweepers at once is safe: every action goes
// through the engine's idempotency keys and account locks.
type Sweeper struct {
	engine  *Engine
	cfg     SweepConfig
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewSweeper(engine *Engine, cfg SweepConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Sweeper{engine: engine, cfg: cfg, log: logger, metrics: m}
}

// RunOnce does one pass and reports how many holds expired and how many
// stale records settled.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, resumed int, err error) {
	e := s.engine
	now := e.now()

	holds, err := e.txns.ListExpiredHolds(ctx, e.store.DB(ctx), now, s.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, h := range holds {
		res, err := e.ExpireHold(ctx, h.TransactionID)
		if err != nil {
			s.log.Warnw("expire hold", "hold_id", h.TransactionID, "error", err)
			continue
		}
		if !res.Replayed {
			expired++
			s.metrics.ObserveExpiredHold()
		}
	}

	stale, err := e.txns.ListStale(ctx, e.store.DB(ctx), now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return expired, 0, err
	}
	for _, t := range stale {
		res, err := e.Resume(ctx, t.TransactionID)
		if res != nil && settled(res.Status) {
			resumed++
			s.metrics.ObserveResumed()
		}
		if err != nil {
			s.log.Warnw("resume transaction", "transaction_id", t.TransactionID, "error", err)
		}
	}
	return expired, resumed, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Infow("sweeper started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			expired, resumed, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Errorf("sweep: %v", err)
				continue
			}
			if expired > 0 || resumed > 0 {
				s.log.Infow("sweep pass", "expired", expired, "resumed", resumed)
			}
		}
	}
}
