package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

const (
	audioField     = "audio"
	patientIDField = "patientId"

	// formOverhead bounds the non-file parts of a multipart body
	formOverhead = 1 << 20

	maxFieldBytes = 1 << 10
)

// uploadForm is the decoded POST /notes body. Audio is nil when no file was sent.
type uploadForm struct {
	PatientID string
	Audio     *audio.TempFile
}

// releaseUpload drops the received file, if any. A failed delete is logged
// and otherwise ignored.
func (h *Handler) releaseUpload(form *uploadForm, reason string) {
	if form == nil || form.Audio == nil {
		return
	}
	if err := form.Audio.Release(); err != nil {
		h.logger.Warn("Failed to remove rejected upload",
			logger.String("upload", form.Audio.Name()),
			logger.String("original_name", form.Audio.OriginalName()),
			logger.String("reason", reason),
			logger.Error(err))
	}
}

// decodeUpload streams the multipart body, writing the audio part straight
// into the upload directory. On error nothing is left on disk.
func (h *Handler) decodeUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	form := &uploadForm{}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)
	reader, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		// Treated as an empty form so field validation reports what is missing
		return form, nil
	}
	if err != nil {
		return nil, malformedBody()
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			h.releaseUpload(form, "malformed body")
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, fileTooLarge()
			}
			return nil, malformedBody()
		}

		if err := h.readPart(form, part); err != nil {
			part.Close()
			h.releaseUpload(form, "invalid part")
			return nil, err
		}
		part.Close()
	}
}

func (h *Handler) readPart(form *uploadForm, part *multipart.Part) error {
	switch {
	case part.FormName() == patientIDField && part.FileName() == "":
		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		if err != nil {
			return bodyError(err)
		}
		if form.PatientID == "" {
			form.PatientID = string(value)
		}
		return nil

	case part.FormName() == audioField && part.FileName() != "":
		if form.Audio != nil {
			return &notes.ValidationError{Field: audioField, Message: "Unexpected field: audio sent more than once"}
		}
		contentType := part.Header.Get("Content-Type")
		if !isAudio(contentType) {
			return &notes.ValidationError{Field: audioField, Message: "Invalid audio file type"}
		}

		upload, err := h.uploads.Save(part.FileName(), contentType, io.LimitReader(part, h.maxUploadBytes+1))
		if err != nil {
			return bodyError(err)
		}
		form.Audio = upload
		if upload.Size() > h.maxUploadBytes {
			return fileTooLarge()
		}
		return nil

	case part.FileName() != "":
		return &notes.ValidationError{Field: part.FormName(), Message: fmt.Sprintf("Unexpected field: %s", part.FormName())}

	default:
		if _, err := io.Copy(io.Discard, io.LimitReader(part, maxFieldBytes)); err != nil {
			return bodyError(err)
		}
		return nil
	}
}

func isAudio(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mediaType, "audio/")
}

func malformedBody() error {
	return &notes.ValidationError{Field: "body", Message: "Malformed multipart body"}
}

func fileTooLarge() error {
	return &notes.ValidationError{Field: audioField, Message: "Audio file too large"}
}

// bodyError classifies a failure while reading the request body. Oversize and
// truncated bodies are the client's fault; anything else is internal.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fileTooLarge()
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return malformedBody()
	}
	return fmt.Errorf("failed to read upload: %w", err)
}
