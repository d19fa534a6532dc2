package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/yegors/oasis-scribe/internal/oasis"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

const (
	summarySystemPrompt    = "You summarize clinical conversations."
	extractionSystemPrompt = "You extract OASIS Section G values."

	summaryMaxTokens    = 50
	extractionMaxTokens = 200

	defaultAudioContentType = "audio/mpeg"
)

// OpenAIProvider calls the OpenAI audio and chat APIs
type OpenAIProvider struct {
	client openai.Client
	config Config
	logger *logger.Logger
}

// NewOpenAIProvider creates a provider, or returns ErrNotConfigured when no key is set
func NewOpenAIProvider(config Config, logger *logger.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	timeout := time.Duration(config.TimeoutSeconds) * time.Second

	// Retries are disabled: a failed call falls back instead of being repeated
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(newHTTPClient(timeout)),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		config: config,
		logger: logger.Named("openai"),
	}, nil
}

// newHTTPClient builds a keep-alive client for the provider API
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Transcribe uploads the audio file to the transcription endpoint
func (p *OpenAIProvider) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = defaultAudioContentType
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(f, name, contentType),
		Model: openai.AudioModel(p.config.TranscriptionModel),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	p.logger.Debug("Transcription completed",
		logger.String("file", name),
		logger.Int("chars", len(resp.Text)),
		logger.Duration("duration", time.Since(start)))

	return resp.Text, nil
}

// Summarize asks the chat model for a one-sentence synopsis
func (p *OpenAIProvider) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := "Summarize the following home-health visit transcript in one sentence.\n\n" + transcript

	content, err := p.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(summaryMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("summary request failed: %w", err)
	}

	return strings.TrimSpace(content), nil
}

// Extract asks the chat model for a JSON object keyed by Section G item
func (p *OpenAIProvider) Extract(ctx context.Context, transcript string) (map[string]any, error) {
	items := make([]string, len(oasis.Items))
	for i, item := range oasis.Items {
		items[i] = string(item)
	}
	prompt := fmt.Sprintf("Extract the numeric values for OASIS Section G items %s from the transcript below. Respond in JSON with keys for each item.\n\nTranscript:\n%s",
		strings.Join(items, ", "), transcript)

	content, err := p.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(extractionMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	return parseExtraction(content)
}

func (p *OpenAIProvider) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// parseExtraction decodes the model's JSON object. An empty reply is treated
// as an empty object, matching a model that found nothing to score.
func parseExtraction(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		content = "{}"
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("malformed extraction payload: %w", err)
	}
	if raw == nil {
		return nil, errors.New("extraction payload is not a JSON object")
	}
	return raw, nil
}
