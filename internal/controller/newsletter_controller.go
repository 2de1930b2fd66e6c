// internal/controller/newsletter_controller.go
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/handler"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

type NewsletterController struct {
	NewsletterService *service.NewsletterService
	Logger            *zap.Logger
	// Shutdown, when set, interrupts synchronous dispatches once it is done.
	Shutdown context.Context
}

func (c *NewsletterController) CreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject    string `json:"subject"`
		HTMLBody   string `json:"html_body"`
		SenderName string `json:"sender_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteError(w, c.Logger, fmt.Errorf("%w: invalid body", appErrors.ErrInvalidInput))
		return
	}

	newsletter, err := c.NewsletterService.Create(r.Context(), body.Subject, body.HTMLBody, body.SenderName)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, newsletter)
}

func (c *NewsletterController) ListNewsletters(w http.ResponseWriter, r *http.Request) {
	// Unparseable values fall back to the service defaults
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	newsletters, pagination, err := c.NewsletterService.List(r.Context(), page, pageSize, status)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       newsletters,
		"pagination": pagination,
	})
}

// SendNewsletter dispatches in the request, or hands the newsletter to the
// job queue when called with ?async=true.
func (c *NewsletterController) SendNewsletter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := c.NewsletterService.Enqueue(r.Context(), id); err != nil {
			handler.WriteError(w, c.Logger, err)
			return
		}
		handler.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"newsletter_id": id,
			"status":        "queued",
		})
		return
	}

	// The run outlives the request; only server shutdown stops it.
	ctx := context.WithoutCancel(r.Context())
	if c.Shutdown != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.Shutdown, cancel)
		defer stop()
	}

	result, err := c.NewsletterService.Send(ctx, id)
	if err != nil && result == nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	body := map[string]interface{}{
		"newsletter_id": result.NewsletterID,
		"success_count": result.SuccessCount,
		"failure_count": result.FailureCount,
		"message":       result.Summary(),
	}
	if err != nil {
		// Mail already went out, so the counts are reported with the error.
		c.logger().Error("❌ dispatch ended early",
			zap.String("newsletter_id", id),
			zap.String("summary", result.Summary()),
			zap.Error(err))
		body["error"] = "dispatch did not complete"
		handler.WriteJSON(w, handler.StatusFor(err), body)
		return
	}

	handler.WriteJSON(w, http.StatusOK, body)
}

func (c *NewsletterController) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
