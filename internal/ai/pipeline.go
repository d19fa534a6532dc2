package ai

import (
	"context"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/yegors/oasis-scribe/internal/oasis"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// summaryFallbackRunes is how much transcript the offline summary keeps
const summaryFallbackRunes = 120

const ellipsis = "…"

// FallbackRecorder is notified whenever a step falls back to local output
type FallbackRecorder interface {
	ProviderFallback(step string)
}

// Pipeline wraps a Provider with the single-attempt-then-fallback policy.
// None of its methods return errors.
type Pipeline struct {
	provider Provider
	recorder FallbackRecorder
	logger   *logger.Logger
}

// NewPipeline creates a pipeline. A nil provider means no credential is
// configured, so every step uses its local fallback.
func NewPipeline(provider Provider, recorder FallbackRecorder, logger *logger.Logger) *Pipeline {
	return &Pipeline{
		provider: provider,
		recorder: recorder,
		logger:   logger.Named("ai-pipeline"),
	}
}

// Transcribe returns the provider transcript, or a placeholder naming the file
func (p *Pipeline) Transcribe(ctx context.Context, path string) string {
	if p.provider != nil {
		text, err := p.provider.Transcribe(ctx, path)
		if err == nil {
			return text
		}
		p.fallback(StepTranscribe, err)
	} else {
		p.fallback(StepTranscribe, nil)
	}
	return TranscriptPlaceholder(path)
}

// Summarize returns the provider synopsis, or a truncated transcript
func (p *Pipeline) Summarize(ctx context.Context, transcript string) string {
	if p.provider != nil {
		summary, err := p.provider.Summarize(ctx, transcript)
		if err == nil {
			return summary
		}
		p.fallback(StepSummarize, err)
	} else {
		p.fallback(StepSummarize, nil)
	}
	return TruncateSummary(transcript)
}

// Extract returns the provider's Section G guesses, or all-zero defaults
func (p *Pipeline) Extract(ctx context.Context, transcript string) Extraction {
	if p.provider != nil {
		raw, err := p.provider.Extract(ctx, transcript)
		if err == nil {
			return Extraction{Values: oasis.FromRaw(raw), Raw: raw}
		}
		p.fallback(StepExtract, err)
	} else {
		p.fallback(StepExtract, nil)
	}
	return DefaultExtraction()
}

func (p *Pipeline) fallback(step string, err error) {
	if p.recorder != nil {
		p.recorder.ProviderFallback(step)
	}
	if err == nil {
		p.logger.Debug("No provider configured, using local fallback", logger.String("step", step))
		return
	}
	p.logger.Warn("Provider call failed, using local fallback",
		logger.String("step", step),
		logger.Error(err))
}

// TranscriptPlaceholder is the offline transcript for an audio file
func TranscriptPlaceholder(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "audio"
	}
	return fmt.Sprintf("Transcribed text for %s", name)
}

// TruncateSummary keeps the first 120 characters, marking any cut with an ellipsis
func TruncateSummary(transcript string) string {
	if utf8.RuneCountInString(transcript) <= summaryFallbackRunes {
		return transcript
	}
	runes := []rune(transcript)
	return string(runes[:summaryFallbackRunes]) + ellipsis
}

// DefaultExtraction scores every item "0", with an identical audit payload
func DefaultExtraction() Extraction {
	values := oasis.Defaults()
	return Extraction{Values: values, Raw: values.ToRaw()}
}
