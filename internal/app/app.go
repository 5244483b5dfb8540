// Package app wires the shared infrastructure of the ledger binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/ledger-service/internal/config"
	"github.com/richardliu001/ledger-service/internal/lock"
	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/richardliu001/ledger-service/internal/service"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenPostgres opens the pool with driver errors translated so unique
// violations surface as gorm.ErrDuplicatedKey.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return gdb, nil
}

func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewEngine builds the engine for the configured profile. rdb may be nil
// when the lock backend is memory; the balance cache is then disabled.
// The store's lock_timeout bounds row-lock waits even when the keyed
// locker does not span processes.
func NewEngine(cfg *config.Config, gdb *gorm.DB, rdb *redis.Client, m *metrics.Metrics, log *zap.SugaredLogger) (*service.Engine, error) {
	opts, err := service.OptionsFromConfig(cfg.Ledger, cfg.Kafka.EventsTopic)
	if err != nil {
		return nil, err
	}
	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("lock backend redis needs a redis client")
		}
		locker = lock.NewRedisLocker(rdb, log, cfg.Lock.TTL, cfg.Lock.Timeout)
	default:
		locker = lock.NewMemoryLocker(cfg.Lock.Timeout)
	}
	return service.NewEngine(service.Deps{
		Store:   repo.NewStore(gdb, log, repo.WithLockTimeout(cfg.Lock.Timeout)),
		Cache:   repo.NewBalanceCache(rdb, cfg.Redis.CacheTTL),
		Locker:  locker,
		Metrics: m,
		Log:     log,
	}, opts), nil
}

// ServeMetrics exposes the default registry on port until ctx is done.
// Port 0 disables it.
func ServeMetrics(ctx context.Context, port int, log *zap.SugaredLogger) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics listener: %v", err)
		}
	}()
}
