// internal/controller/router.go
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/handler"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

type RouterDeps struct {
	Newsletters *service.NewsletterService
	Subscribers *service.SubscriberService
	Logger      *zap.Logger
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// Shutdown interrupts synchronous dispatches; nil means never.
	Shutdown context.Context
}

// NewRouter wires every route. Synchronous sends are left without a request
// timeout and run detached from the client connection, since a dispatch waits
// between batches.
func NewRouter(deps RouterDeps) http.Handler {
	newsletterController := &NewsletterController{
		NewsletterService: deps.Newsletters,
		Logger:            deps.Logger,
		Shutdown:          deps.Shutdown,
	}
	newsletterHandler := &handler.NewsletterHandler{Service: deps.Newsletters, Logger: deps.Logger}
	subscriberHandler := &handler.SubscriberHandler{Service: deps.Subscribers, Logger: deps.Logger}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/newsletters/{id}/send", newsletterController.SendNewsletter)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Newsletter routes
		r.Post("/newsletters", newsletterController.CreateNewsletter)
		r.Get("/newsletters", newsletterController.ListNewsletters)
		r.Get("/newsletters/{id}", newsletterHandler.GetNewsletterWithProgress)

		// Subscriber routes
		r.Post("/subscribers", subscriberHandler.Subscribe)
		r.Get("/subscribers", subscriberHandler.List)
		r.Delete("/subscribers/{email}", subscriberHandler.Unsubscribe)
		r.Post("/subscribers/{email}/bounce", subscriberHandler.MarkBounced)
		r.Get("/unsubscribe", subscriberHandler.UnsubscribeLink)
		r.Post("/unsubscribe", subscriberHandler.ConfirmUnsubscribe)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("📥 request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
