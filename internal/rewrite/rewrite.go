// Package rewrite refines raw transcriptions with an LLM.
//
// Every provider is reached through the OpenAI-compatible chat completion
// protocol; only the base URL and credential differ. The None backend
// returns its input unchanged so rewriting can be turned off without the
// caller special-casing it.
package rewrite

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chaz8081/dictaflow/internal/config"
)

// Backend turns raw text plus a prompt template into refined text.
type Backend interface {
	Rewrite(ctx context.Context, req Request) (string, error)
	Available(ctx context.Context) bool
	Name() string
}

// Request is one rewrite call.
type Request struct {
	Text       string // raw transcription, sent as the user message
	Template   string // prompt template body, rendered into the system message
	AppContext string // focused application, substituted for {{app}}
	Language   string // language code, substituted for {{language}} as a display name
}

// Provider base URLs.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	OllamaBaseURL = "http://localhost:11434/v1"
)

// New creates a Backend for the configured provider.
func New(cfg *config.RewriteConfig, client *http.Client) (Backend, error) {
	chat := ChatConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.Provider {
	case "none", "":
		return None{}, nil
	case "openai":
		if chat.BaseURL == "" {
			chat.BaseURL = OpenAIBaseURL
		}
		if chat.Model == "" {
			chat.Model = "gpt-4o-mini"
		}
		chat.Label = "OpenAI"
	case "ollama":
		if chat.BaseURL == "" {
			chat.BaseURL = OllamaBaseURL
		}
		if chat.APIKey == "" {
			chat.APIKey = "ollama"
		}
		if chat.Model == "" {
			chat.Model = "llama3.2"
		}
		chat.Label = "Ollama"
	case "custom":
		if chat.BaseURL == "" {
			return nil, fmt.Errorf("rewrite: custom provider needs base_url")
		}
		chat.Label = "Custom"
	default:
		return nil, fmt.Errorf("rewrite: unknown provider %q (supported: none, openai, ollama, custom)", cfg.Provider)
	}
	return NewChat(chat, client), nil
}

// None is the pass-through backend.
type None struct{}

// Rewrite returns the input unchanged.
func (None) Rewrite(_ context.Context, req Request) (string, error) {
	return req.Text, nil
}

// Available is always true.
func (None) Available(context.Context) bool { return true }

// Name implements Backend.
func (None) Name() string { return "None" }
