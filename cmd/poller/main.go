package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/ledger-service/internal/app"
	"github.com/richardliu001/ledger-service/internal/config"
	"github.com/richardliu001/ledger-service/internal/logger"
	"github.com/richardliu001/ledger-service/internal/messaging"
	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/repo"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := app.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("%v", err)
	}

	pub := messaging.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer pub.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	app.ServeMetrics(ctx, cfg.Server.MetricsPort, log)

	relay := messaging.NewRelay(repo.NewStore(gdb, log, repo.WithLockTimeout(cfg.Lock.Timeout)), pub, messaging.RelayConfig{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
	}, log, m)
	relay.Run(ctx)
}
