package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
	"github.com/chaz8081/dictaflow/internal/service"
)

// Local defaults.
const (
	DefaultLocalModel          = "Systran/faster-whisper-base"
	DefaultLocalStartupTimeout = 5 * time.Minute
	DefaultLocalPollInterval   = 2 * time.Second
)

// LocalConfig configures the local backend.
type LocalConfig struct {
	BaseURL        string // e.g. http://127.0.0.1:8000/v1
	Model          string
	Language       string
	StartupTimeout time.Duration // cumulative wait for the service to turn healthy
	PollInterval   time.Duration
	ProbeTimeout   time.Duration // single health check
}

// Local transcribes through a service on localhost that a Supervisor keeps
// running. The service is started on first use and awaited until healthy.
type Local struct {
	up    uploader
	sup   service.Supervisor
	cfg   LocalConfig
	sleep backend.SleepFunc

	mu    sync.Mutex
	ready bool
}

// NewLocal creates a local backend. A nil client uses http.DefaultClient.
func NewLocal(cfg LocalConfig, sup service.Supervisor, client *http.Client) *Local {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultLocalStartupTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultLocalPollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = service.DefaultProbeTimeout
	}
	return &Local{
		up: uploader{
			client:   client,
			baseURL:  cfg.BaseURL,
			model:    cfg.Model,
			language: cfg.Language,
		},
		sup:   sup,
		cfg:   cfg,
		sleep: backend.Sleep,
	}
}

// Transcribe makes sure the service is up, then uploads the artifact.
func (l *Local) Transcribe(ctx context.Context, a *audio.Artifact) (string, error) {
	if err := l.ensureReady(ctx); err != nil {
		return "", err
	}

	text, err := l.up.upload(ctx, a, localTimeout(a.Duration))
	if errors.Is(err, backend.ErrNetwork) {
		// The container may have died; check again on the next call.
		l.mu.Lock()
		l.ready = false
		l.mu.Unlock()
	}
	return text, err
}

// Available runs one bounded health probe.
func (l *Local) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()
	return l.sup.Health(ctx)
}

// Name implements Backend.
func (l *Local) Name() string {
	return "Local Whisper"
}

// ensureReady starts the service if needed and blocks until it reports
// healthy. StartupTimeout bounds the whole wait, including EnsureRunning.
func (l *Local) ensureReady(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return nil
	}
	if l.probe(ctx) {
		l.ready = true
		return nil
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, l.cfg.StartupTimeout)
	defer cancel()
	notReady := func(err error) error {
		if parent.Err() != nil {
			return fmt.Errorf("transcribe: waiting for local service: %w", parent.Err())
		}
		return fmt.Errorf("transcribe: %w: local service not healthy after %s: %v", backend.ErrUnavailable, l.cfg.StartupTimeout, err)
	}

	if err := l.ensureRunning(ctx); err != nil {
		if ctx.Err() != nil {
			return notReady(err)
		}
		return fmt.Errorf("transcribe: %w: %v", backend.ErrUnavailable, err)
	}

	slog.Info("[transcribe] waiting for local service", "timeout", l.cfg.StartupTimeout)
	start := time.Now()
	polls := max(1, int((l.cfg.StartupTimeout+l.cfg.PollInterval-1)/l.cfg.PollInterval))
	for i := 0; i < polls; i++ {
		if err := l.sleep(ctx, min(l.cfg.PollInterval, l.cfg.StartupTimeout)); err != nil {
			return notReady(err)
		}
		if l.probe(ctx) {
			slog.Info("[transcribe] local service ready", "waited", time.Since(start).Round(time.Second))
			l.ready = true
			return nil
		}
		if ctx.Err() != nil {
			return notReady(ctx.Err())
		}
	}
	return notReady(errors.New("startup timeout spent"))
}

// ensureRunning returns when the supervisor does or when ctx is done,
// whichever comes first.
func (l *Local) ensureRunning(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- l.sup.EnsureRunning(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()
	return l.sup.Health(ctx)
}

// localTimeout allows more time than the cloud: CPU inference can run
// slower than real time.
func localTimeout(d time.Duration) time.Duration {
	return time.Minute + 5*d
}
