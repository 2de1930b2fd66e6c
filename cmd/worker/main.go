// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/app"
	"github.com/unclebandit/newsletter-dispatch/internal/config"
	"github.com/unclebandit/newsletter-dispatch/internal/db"
	"github.com/unclebandit/newsletter-dispatch/internal/logging"
	"github.com/unclebandit/newsletter-dispatch/internal/queue"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal("❌ loading config: ", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal("❌ building logger: ", err)
	}
	defer logger.Sync()

	if cfg.AMQPURL == "" {
		logger.Fatal("❌ AMQP_URL is required for the worker")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ worker stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	database, err := db.Open(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return err
	}
	defer database.Close()

	deliveries, closeLedger, err := app.NewLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	q, err := queue.DialAMQP(cfg.AMQPURL, logger)
	if err != nil {
		return err
	}

	mail := app.NewMailer(cfg, logger, prometheus.DefaultRegisterer)
	worker := service.NewWorker(app.NewDispatcher(cfg, database, mail, deliveries, logger), logger)

	if err := q.Subscribe(service.DispatchTopic, worker.Handle); err != nil {
		q.Close()
		return err
	}

	metrics := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	logger.Info("Worker running, waiting for dispatch jobs...", zap.String("queue", service.DispatchTopic))
	<-ctx.Done()

	logger.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)

	// In-flight jobs see a cancelled context, stop after their current batch
	// and are nacked for redelivery.
	return q.Close()
}
