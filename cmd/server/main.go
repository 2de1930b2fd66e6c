// cmd/server/main.go
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
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/app"
	"github.com/unclebandit/newsletter-dispatch/internal/config"
	"github.com/unclebandit/newsletter-dispatch/internal/controller"
	"github.com/unclebandit/newsletter-dispatch/internal/db"
	"github.com/unclebandit/newsletter-dispatch/internal/logging"
	"github.com/unclebandit/newsletter-dispatch/internal/queue"
	"github.com/unclebandit/newsletter-dispatch/internal/repository"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// Init DB
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

	q, err := app.NewQueue(cfg, logger)
	if err != nil {
		return err
	}

	newsletterRepo := &repository.NewsletterRepository{DB: database}
	subscriberRepo := &repository.SubscriberRepository{DB: database}

	mail := app.NewMailer(cfg, logger, prometheus.DefaultRegisterer)
	dispatcher := app.NewDispatcher(cfg, database, mail, deliveries, logger)

	// With RabbitMQ the worker binary consumes jobs; the in-memory queue
	// needs an in-process consumer.
	if _, inMemory := q.(*queue.InMemoryQueue); inMemory {
		worker := service.NewWorker(dispatcher, logger)
		if err := q.Subscribe(service.DispatchTopic, worker.Handle); err != nil {
			return err
		}
	}

	newsletterService := &service.NewsletterService{
		NewsletterRepo: newsletterRepo,
		SubscriberRepo: subscriberRepo,
		Dispatcher:     dispatcher,
		Queue:          q,
		Logger:         logger,
	}
	subscriberService := &service.SubscriberService{SubscriberRepo: subscriberRepo}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: controller.NewRouter(controller.RouterDeps{
			Newsletters: newsletterService,
			Subscribers: subscriberService,
			Logger:      logger,
			Shutdown:    ctx,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server running", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		q.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Interrupted in-memory jobs are lost here; their newsletters stay in
	// sending and can be re-triggered.
	return q.Close()
}
