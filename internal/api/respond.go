package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// ErrorResponse is the body of every JSON error
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondServiceError maps service errors to status codes. Unexpected errors
// are logged and hidden behind a generic message.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validErr *notes.ValidationError
	if errors.As(err, &validErr) {
		respondError(w, http.StatusBadRequest, validErr.Message)
		return
	}

	switch {
	case errors.Is(err, notes.ErrPatientNotFound):
		respondError(w, http.StatusNotFound, "Patient not found")
	case errors.Is(err, notes.ErrNoteNotFound):
		respondError(w, http.StatusNotFound, "Note not found")
	default:
		h.logger.WithRequestID(middleware.GetReqID(r.Context())).Error("Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
