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
	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	app.ServeMetrics(ctx, cfg.Server.MetricsPort, log)

	engine, err := app.NewEngine(cfg, gdb, rdb, m, log)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	if err := engine.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap accounts: %v", err)
	}

	src := messaging.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic, cfg.Kafka.GroupID)
	defer src.Close()
	dlq := messaging.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer dlq.Close()

	consumer := messaging.NewConsumer(src, dlq, engine, messaging.ConsumerConfig{
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		MaxRetries:      cfg.Consumer.MaxRetries,
		Backoff:         cfg.Consumer.Backoff,
		MaxBackoff:      cfg.Consumer.MaxBackoff,
	}, log, m)
	if err := consumer.Run(ctx); err != nil {
		// uncommitted message is redelivered after restart
		log.Errorf("consumer stopped: %v", err)
		os.Exit(1)
	}
}
