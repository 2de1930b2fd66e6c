// internal/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
)

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrNewsletterAlreadySent), errors.Is(err, appErrors.ErrDispatchInProgress):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrInvalidInput), errors.Is(err, appErrors.ErrInvalidEmail):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes {"error": ...}. Server errors are logged and their
// details kept out of the response.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("❌ request failed", zap.Error(err))
		}
		msg = "internal server error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}
