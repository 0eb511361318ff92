package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
)

// Cloud defaults.
const (
	DefaultCloudBaseURL = "https://api.openai.com/v1"
	DefaultCloudModel   = "whisper-1"
)

// CloudConfig configures the cloud backend.
type CloudConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	// Timeout is the fixed part of the per-request allowance. Each second
	// of audio adds two more seconds on top.
	Timeout time.Duration
}

// Cloud transcribes through a hosted OpenAI-compatible API.
type Cloud struct {
	up      uploader
	timeout time.Duration
}

// NewCloud creates a cloud backend. A nil client uses http.DefaultClient.
func NewCloud(cfg CloudConfig, client *http.Client) *Cloud {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCloudModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Cloud{
		up: uploader{
			client:   client,
			baseURL:  cfg.BaseURL,
			apiKey:   cfg.APIKey,
			model:    cfg.Model,
			language: cfg.Language,
		},
		timeout: cfg.Timeout,
	}
}

// Transcribe uploads the artifact.
func (c *Cloud) Transcribe(ctx context.Context, a *audio.Artifact) (string, error) {
	if c.up.apiKey == "" {
		return "", fmt.Errorf("transcribe: %w: no API key configured", backend.ErrAuth)
	}
	return c.up.upload(ctx, a, c.requestTimeout(a.Duration))
}

// Available is true when a credential is configured. It does not probe the network.
func (c *Cloud) Available(context.Context) bool {
	return c.up.apiKey != ""
}

// Name implements Backend.
func (c *Cloud) Name() string {
	return "OpenAI Whisper"
}

func (c *Cloud) requestTimeout(d time.Duration) time.Duration {
	return c.timeout + 2*d
}
