package ai

import (
	"context"
	"errors"

	"github.com/yegors/oasis-scribe/internal/oasis"
)

// Pipeline step names, used in logs and metrics
const (
	StepTranscribe = "transcribe"
	StepSummarize  = "summarize"
	StepExtract    = "extract"
)

// ErrNotConfigured is returned by a provider that has no credential
var ErrNotConfigured = errors.New("ai: provider not configured")

// Provider is the raw upstream boundary. Every call either succeeds or
// returns an error; fallback policy lives in Pipeline, not here.
type Provider interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	Extract(ctx context.Context, transcript string) (map[string]any, error)
}

// Extraction is the result of the structured extraction step. Values hold the
// provider's per-item guesses, not yet normalized; Raw is the payload as
// returned, kept for audit.
type Extraction struct {
	Values oasis.Values
	Raw    map[string]any
}

// Config represents the configuration for the OpenAI provider
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
	TimeoutSeconds     int // per-request timeout
}
