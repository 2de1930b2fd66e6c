// internal/handler/subscriber_handler.go
package handler

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

type SubscriberHandler struct {
	Service *service.SubscriberService
	Logger  *zap.Logger
}

func (h *SubscriberHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, h.Logger, fmt.Errorf("%w: invalid body", appErrors.ErrInvalidInput))
		return
	}

	sub, err := h.Service.Subscribe(r.Context(), body.Email)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, sub)
}

func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Service.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  subs,
		"count": len(subs),
	})
}

func (h *SubscriberHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Unsubscribe(r.Context(), chi.URLParam(r, "email")); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriberHandler) MarkBounced(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.MarkBounced(r.Context(), chi.URLParam(r, "email")); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var (
	confirmPage = template.Must(template.New("confirm").Parse(
		`<!doctype html><html><body><form method="post" action="/unsubscribe">` +
			`<input type="hidden" name="email" value="{{.}}">` +
			`<p>Stop sending newsletters to {{.}}?</p><button type="submit">Unsubscribe</button>` +
			`</form></body></html>`))
	unsubscribedPage = template.Must(template.New("unsubscribed").Parse(
		`<!doctype html><html><body><p>{{.}} has been unsubscribed.</p></body></html>`))
)

// UnsubscribeLink is the target of the {unsubscribe_url} placeholder. It only
// renders a confirmation form, so link scanners that follow it change nothing.
func (h *SubscriberHandler) UnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	email, err := service.NormalizeEmail(r.URL.Query().Get("email"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = confirmPage.Execute(w, email)
}

// ConfirmUnsubscribe handles the form posted by UnsubscribeLink.
func (h *SubscriberHandler) ConfirmUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	if err := h.Service.Unsubscribe(r.Context(), email); err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError && h.Logger != nil {
			h.Logger.Error("❌ unsubscribe failed", zap.Error(err))
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = unsubscribedPage.Execute(w, email)
}
