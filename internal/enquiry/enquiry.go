// Package enquiry answers free-form pharmacy questions using the OpenAI API.
//
// It backs the general-enquiry flow; the flow itself degrades to a canned
// reply when the assistant fails, so errors here are advisory.
package enquiry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the API responded without any completion.
var ErrNoChoicesReturned = errors.New("no choices returned")

// systemPrompt frames the assistant. It must never produce medical advice
// beyond general information.
const systemPrompt = "You are a helpful assistant for a community pharmacy. " +
	"Answer general questions about opening hours, services, medication availability and ordering. " +
	"Keep answers short and suitable for a WhatsApp chat. " +
	"Never give medical advice; for anything clinical, suggest booking a consultation with the pharmacist."

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// openAIChat adapts the OpenAI client to chatService.
type openAIChat struct {
	client openai.Client
}

func (s *openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

// Opts holds configuration options for the assistant.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the assistant.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Assistant wraps the OpenAI chat completion service.
type Assistant struct {
	chat  chatService
	model string
}

// NewAssistant creates an assistant, falling back to the OPENAI_API_KEY
// environment variable when no key is provided via options.
func NewAssistant(opts ...Option) (*Assistant, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Assistant{chat: &openAIChat{client: client}, model: cfg.Model}, nil
}

// Unavailable stands in for the assistant when no API key is configured. It
// always errors, which the enquiry flow turns into its canned fallback reply.
type Unavailable struct{}

func (Unavailable) Answer(ctx context.Context, question string) (string, error) {
	return "", errors.New("enquiry assistant not configured")
}

// Answer generates a reply to a contact's question.
func (a *Assistant) Answer(ctx context.Context, question string) (string, error) {
	resp, err := a.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		return "", fmt.Errorf("enquiry completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
