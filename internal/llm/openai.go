package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// SystemInstruction is the fixed system message of every extraction call.
	SystemInstruction = "You are a helpful healthcare AI. Always return raw JSON, no markdown blocks."

	// DefaultTemperature keeps structured output close to deterministic.
	DefaultTemperature = 0.3

	DefaultChatModel       = "gpt-4o-mini"
	DefaultTranscribeModel = openai.Whisper1

	// APITypeAzure selects Azure OpenAI endpoints and deployment naming.
	APITypeAzure = "azure"
)

// ExtractionError reports that the extraction service could not produce a
// response.  Callers fall back to default fields.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return "structured extraction failed: " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Config selects the OpenAI (or Azure OpenAI) account and models.
type Config struct {
	APIKey          string
	APIType         string
	BaseURL         string
	ChatModel       string
	TranscribeModel string
	Temperature     float32
	HTTPClient      *http.Client
}

// OpenAIClient calls the OpenAI API for structured extraction and speech
// transcription.
type OpenAIClient struct {
	client          *openai.Client
	chatModel       string
	transcribeModel string
	temperature     float32
}

// NewOpenAIClient constructs an OpenAI-backed client and falls back to
// sensible model defaults.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	var oc openai.ClientConfig
	if cfg.APIType == APITypeAzure {
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	c := &OpenAIClient{
		client:          openai.NewClientWithConfig(oc),
		chatModel:       cfg.ChatModel,
		transcribeModel: cfg.TranscribeModel,
		temperature:     cfg.Temperature,
	}
	if c.chatModel == "" {
		c.chatModel = DefaultChatModel
	}
	if c.transcribeModel == "" {
		c.transcribeModel = DefaultTranscribeModel
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	return c
}

// Extract runs a single-turn, stateless chat completion and returns the raw
// assistant text.  Errors are *ExtractionError.
func (c *OpenAIClient) Extract(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", &ExtractionError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ExtractionError{Err: errors.New("response contained no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Recognize transcribes the WAV file at path with Whisper.  language may be a
// locale such as "en-US"; only the language part is sent.
func (c *OpenAIClient) Recognize(ctx context.Context, path, language string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: path,
		Language: whisperLanguage(language),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func whisperLanguage(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
