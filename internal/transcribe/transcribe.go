// Package transcribe provides speech-to-text backends.
//
// Supported backends:
//   - cloud: an OpenAI-compatible /audio/transcriptions API
//   - local: the same API served by a local container kept alive by a service.Supervisor
package transcribe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/config"
	"github.com/chaz8081/dictaflow/internal/service"
)

// Backend converts an audio artifact into raw text.
type Backend interface {
	// Transcribe uploads the artifact and returns the trimmed transcription.
	Transcribe(ctx context.Context, a *audio.Artifact) (string, error)
	// Available reports whether the backend can be used right now.
	Available(ctx context.Context) bool
	// Name is a human-readable label for status displays.
	Name() string
}

// New creates a Backend based on the config backend setting. sup is only
// used by the local backend and may be nil for cloud.
func New(cfg *config.TranscribeConfig, sup service.Supervisor, client *http.Client) (Backend, error) {
	switch cfg.Backend {
	case "cloud", "":
		return NewCloud(CloudConfig{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Language: cfg.Language,
		}, client), nil
	case "local":
		if sup == nil {
			return nil, fmt.Errorf("transcribe: local backend needs a service supervisor")
		}
		return NewLocal(LocalConfig{
			BaseURL:        cfg.Local.BaseURL(),
			Model:          cfg.Local.Model,
			Language:       cfg.Language,
			StartupTimeout: cfg.Local.StartupTimeout,
		}, sup, client), nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: cloud, local)", cfg.Backend)
	}
}
