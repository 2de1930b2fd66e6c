// internal/handler/newsletter_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

// NewsletterHandler serves newsletter reads.
type NewsletterHandler struct {
	Service *service.NewsletterService
	Logger  *zap.Logger
}

// GetNewsletterWithProgress returns one newsletter together with its dispatch
// progress and the current active-subscriber count.
func (h *NewsletterHandler) GetNewsletterWithProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.Service.GetWithProgress(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}
