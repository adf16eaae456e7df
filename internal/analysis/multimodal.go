package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/mbd888/scamshield/internal/capture"
)

const (
	defaultMultimodalMaxTokens = 2048

	analysisPrompt = `You are screening a recorded phone call for fraud.
Listen to the attached audio and answer with a single JSON object, no prose:
{
  "transcription": "verbatim transcript",
  "scamDetected": true or false,
  "riskLevel": "critical" | "high" | "medium" | "low",
  "redFlags": ["specific indicators heard in the call"],
  "keywords": ["suspicious words or phrases"],
  "speakers": number of distinct speakers,
  "suspiciousSpeaker": "which speaker seems to be the scammer, if any",
  "recommendations": "what the listener should do now"
}`
)

// chatCompletions is the slice of the OpenAI client this backend uses.
type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// MultimodalConfig configures an OpenAI-compatible chat completions endpoint
// that accepts inline audio (OpenAI audio models, Gemini's compatibility API).
type MultimodalConfig struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// MultimodalBackend asks a general multimodal model for a verdict and
// returns its free text for best-effort parsing.
type MultimodalBackend struct {
	name        string
	completions chatCompletions
	model       string
	maxTokens   int
}

// NewMultimodalBackend builds the backend. SDK retries are disabled.
func NewMultimodalBackend(cfg MultimodalConfig) (*MultimodalBackend, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("multimodal backend: api key required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("multimodal backend: model required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)

	return newMultimodalBackend(cfg, &client.Chat.Completions), nil
}

func newMultimodalBackend(cfg MultimodalConfig, completions chatCompletions) *MultimodalBackend {
	name := cfg.Name
	if name == "" {
		name = "multimodal"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMultimodalMaxTokens
	}
	return &MultimodalBackend{
		name:        name,
		completions: completions,
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   maxTokens,
	}
}

func (b *MultimodalBackend) Name() string { return b.name }

// Analyze sends the audio inline with the screening prompt.
func (b *MultimodalBackend) Analyze(ctx context.Context, art *capture.Artifact) (Response, error) {
	audio := openai.ChatCompletionContentPartInputAudioInputAudioParam{Data: art.Base64()}
	if isMP3(art.MIMEType) {
		audio.Format = "mp3"
	} else {
		audio.Format = "wav"
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(b.model),
		MaxCompletionTokens: openai.Int(int64(b.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(analysisPrompt),
				openai.InputAudioContentPart(audio),
			}),
		},
	}

	completion, err := b.completions.New(ctx, params)
	if err != nil {
		return nil, b.mapError(ctx, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, &FailedError{Message: "model returned no choices"}
	}
	return Unstructured{Text: completion.Choices[0].Message.Content}, nil
}

func (b *MultimodalBackend) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrBackendUnavailable, apiErr.StatusCode)
	default:
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &FailedError{Status: apiErr.StatusCode, Message: msg}
	}
}

// Chat completions accept wav or mp3 input audio only.
func isMP3(mime string) bool {
	return strings.Contains(mime, "mpeg") || strings.Contains(mime, "mp3")
}
