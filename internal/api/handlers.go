package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

const healthTimeout = 5 * time.Second

// Handler serves the notes API
type Handler struct {
	service        *notes.Service
	uploads        *audio.UploadDir
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *notes.Service, uploads *audio.UploadDir, maxUploadBytes int64, logger *logger.Logger) *Handler {
	return &Handler{
		service:        service,
		uploads:        uploads,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("api-handler"),
	}
}

// ListPatients returns every patient ordered by id
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.service.ListPatients(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

// ListNotes returns note summaries, newest first
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.ListNotes(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

// GetNote returns one note with a fresh audio URL
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := notes.ParseID(chi.URLParam(r, "id"), "id", "Invalid id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	detail, err := h.service.GetNote(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// CreateNote ingests a multipart upload into a new note
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	form, err := h.decodeUpload(w, r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	patientID, err := notes.ParseID(form.PatientID, patientIDField, "Invalid patientId")
	if err != nil {
		h.releaseUpload(form, "invalid patientId")
		h.respondServiceError(w, r, err)
		return
	}
	if form.Audio == nil {
		h.respondServiceError(w, r, &notes.ValidationError{Field: audioField, Message: "Audio file is required"})
		return
	}

	detail, err := h.service.Ingest(r.Context(), notes.IngestRequest{
		PatientID: patientID,
		Audio:     form.Audio,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, detail)
}

// Health reports whether the database is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.service.Health(ctx); err != nil {
		h.logger.Warn("Health check failed", logger.Error(err))
		respondJSON(w, http.StatusInternalServerError, HealthResponse{Status: "error", Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ServeUpload streams a stored recording from the upload directory
func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.uploads.Path(), key))
}
