package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yegors/oasis-scribe/internal/ai"
	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// Pipeline is the AI adapter as seen by the service. Implementations absorb
// upstream failures, so no method returns an error.
type Pipeline interface {
	Transcribe(ctx context.Context, path string) string
	Summarize(ctx context.Context, transcript string) string
	Extract(ctx context.Context, transcript string) ai.Extraction
}

// Recorder receives ingestion outcomes for metrics
type Recorder interface {
	NoteIngested(backend string)
	AudioStoreFailed(backend string)
}

type nopRecorder struct{}

func (nopRecorder) NoteIngested(string)     {}
func (nopRecorder) AudioStoreFailed(string) {}

// IngestRequest is one upload. Ingest owns Audio from the moment it is called.
type IngestRequest struct {
	PatientID int64
	Audio     *audio.TempFile
}

// Service ingests voice recordings into notes and serves them back
type Service struct {
	repo     Repository
	pipeline Pipeline
	store    audio.Store
	recorder Recorder
	tracer   trace.Tracer
	logger   *logger.Logger
}

// NewService creates a notes service. recorder may be nil.
func NewService(repo Repository, pipeline Pipeline, store audio.Store, recorder Recorder, logger *logger.Logger) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		store:    store,
		recorder: recorder,
		tracer:   otel.Tracer("github.com/yegors/oasis-scribe/internal/notes"),
		logger:   logger.Named("notes-service"),
	}
}

// Ingest validates the request, runs the AI pipeline on the local upload,
// makes the audio durable and persists the note with normalized fields.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*NoteDetail, error) {
	ctx, span := s.tracer.Start(ctx, "notes.Ingest",
		trace.WithAttributes(attribute.Int64("patient.id", req.PatientID)))
	defer span.End()

	upload := req.Audio

	// Validation. Rejected uploads can never back a note, so they are dropped here.
	if req.PatientID <= 0 {
		s.discard(upload, "invalid patient id")
		return nil, &ValidationError{Field: "patientId", Message: "Invalid patientId"}
	}
	if upload == nil {
		return nil, &ValidationError{Field: "audio", Message: "Audio file is required"}
	}

	patient, err := s.repo.FindPatient(ctx, req.PatientID)
	if err != nil {
		s.discard(upload, "patient lookup failed")
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, s.fail(span, fmt.Errorf("failed to look up patient: %w", err))
	}

	log := s.logger.With(
		logger.Int64("patient_id", patient.ID),
		logger.String("upload", upload.Name()))

	// The pipeline reads the locally received file, before any storage decision
	start := time.Now()
	transcript := s.transcribe(ctx, upload.Path())
	summary, extraction := s.analyze(ctx, transcript)
	log.Debug("AI pipeline finished", logger.Duration("duration", time.Since(start)))

	if err := ctx.Err(); err != nil {
		s.discard(upload, "request aborted")
		return nil, s.fail(span, fmt.Errorf("ingestion aborted: %w", err))
	}

	key, err := s.storeAudio(ctx, upload)
	if err != nil {
		// The upload stays on disk: it is the only copy of the recording
		log.Error("Failed to store audio, upload retained", logger.Error(err))
		s.recorder.AudioStoreFailed(s.store.Kind())
		return nil, s.fail(span, err)
	}

	if !s.store.KeepsSource() {
		if err := upload.Release(); err != nil {
			log.Warn("Failed to remove upload after remote store", logger.Error(err))
		}
	}

	note, err := s.repo.CreateNote(ctx, &NewNote{
		PatientID:     patient.ID,
		AudioKey:      key,
		Transcription: transcript,
		Summary:       summary,
		Fields:        NormalizedFields(extraction.Values),
		Raw:           extraction.Raw,
	})
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to create note: %w", err))
	}
	if note.Patient == nil {
		note.Patient = patient
	}

	s.recorder.NoteIngested(s.store.Kind())
	span.SetAttributes(attribute.Int64("note.id", note.ID))
	log.Info("Note created",
		logger.Int64("note_id", note.ID),
		logger.String("audio_key", key),
		logger.String("backend", s.store.Kind()))

	return &NoteDetail{Note: *note, AudioURL: s.resolve(ctx, key)}, nil
}

func (s *Service) transcribe(ctx context.Context, path string) string {
	ctx, span := s.tracer.Start(ctx, "ai.Transcribe")
	defer span.End()
	return s.pipeline.Transcribe(ctx, path)
}

// analyze runs summarization and extraction side by side; both only need the transcript
func (s *Service) analyze(ctx context.Context, transcript string) (string, ai.Extraction) {
	var (
		summary    string
		extraction ai.Extraction
	)

	var g errgroup.Group
	g.Go(func() error {
		ctx, span := s.tracer.Start(ctx, "ai.Summarize")
		defer span.End()
		summary = s.pipeline.Summarize(ctx, transcript)
		return nil
	})
	g.Go(func() error {
		ctx, span := s.tracer.Start(ctx, "ai.Extract")
		defer span.End()
		extraction = s.pipeline.Extract(ctx, transcript)
		return nil
	})
	_ = g.Wait()

	return summary, extraction
}

func (s *Service) storeAudio(ctx context.Context, upload *audio.TempFile) (string, error) {
	ctx, span := s.tracer.Start(ctx, "audio.Put",
		trace.WithAttributes(attribute.String("audio.backend", s.store.Kind())))
	defer span.End()

	key, err := s.store.Put(ctx, upload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return "", fmt.Errorf("failed to store audio: %w", err)
	}
	return key, nil
}

// resolve returns nil when the key cannot be turned into a URL
func (s *Service) resolve(ctx context.Context, key string) *string {
	url, err := s.store.Resolve(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to resolve audio URL",
			logger.String("audio_key", key),
			logger.Error(err))
		return nil
	}
	return &url
}

func (s *Service) discard(upload *audio.TempFile, reason string) {
	if upload == nil {
		return
	}
	if err := upload.Release(); err != nil {
		s.logger.Warn("Failed to remove rejected upload",
			logger.String("upload", upload.Name()),
			logger.String("reason", reason),
			logger.Error(err))
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ListPatients returns every patient ordered by id
func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// ListNotes returns note summaries, newest first
func (s *Service) ListNotes(ctx context.Context) ([]NoteSummary, error) {
	summaries, err := s.repo.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return summaries, nil
}

// GetNote returns a full note with a freshly resolved audio URL
func (s *Service) GetNote(ctx context.Context, id int64) (*NoteDetail, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "id", Message: "Invalid id"}
	}

	note, err := s.repo.FindNote(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoteNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find note %d: %w", id, err)
	}

	return &NoteDetail{Note: *note, AudioURL: s.resolve(ctx, note.AudioKey)}, nil
}

// Health checks the persistence backend
func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
