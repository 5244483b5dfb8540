package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/ledger-service/internal/app"
	"github.com/richardliu001/ledger-service/internal/config"
	"github.com/richardliu001/ledger-service/internal/logger"
	"github.com/richardliu001/ledger-service/internal/metrics"
	"github.com/richardliu001/ledger-service/internal/repo"
	httptransport "github.com/richardliu001/ledger-service/internal/transport/http"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := app.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer rdb.Close()

	// 5. engine
	m := metrics.New(prometheus.DefaultRegisterer)
	engine, err := app.NewEngine(cfg, gdb, rdb, m, log)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	if err := engine.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap accounts: %v", err)
	}

	// 6. gin router
	router := httptransport.NewRouter(engine, cfg.RateLimit, prometheus.DefaultGatherer, log)

	// 7. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("ledger-server (%s) listening on %s", engine.Options().Profile, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
