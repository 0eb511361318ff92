package pipeline

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/chaz8081/dictaflow/internal/config"
	"github.com/chaz8081/dictaflow/internal/inject"
	"github.com/chaz8081/dictaflow/internal/rewrite"
	"github.com/chaz8081/dictaflow/internal/service"
	"github.com/chaz8081/dictaflow/internal/transcribe"
)

// Injector delivers the final text to the focused application.
type Injector interface {
	Inject(text string) error
}

// Backends is everything one cycle talks to, resolved from one config snapshot.
type Backends struct {
	Transcriber transcribe.Backend
	Rewriter    rewrite.Backend
	Injector    Injector
}

// Resolver builds the backends for a config snapshot.
type Resolver interface {
	Resolve(cfg *config.Config) (Backends, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(cfg *config.Config) (Backends, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(cfg *config.Config) (Backends, error) { return f(cfg) }

// DefaultResolver builds real backends. The local transcription backend and
// its supervisor are cached per service config so the service is started
// and awaited once per session rather than once per cycle.
type DefaultResolver struct {
	Client      *http.Client
	NewInjector func(inject.Method, inject.Options) Injector // nil uses inject.NewSystem

	mu       sync.Mutex
	localKey config.LocalServiceConfig
	localLng string
	local    transcribe.Backend
	sup      service.Supervisor
}

// Resolve implements Resolver.
func (r *DefaultResolver) Resolve(cfg *config.Config) (Backends, error) {
	var (
		tr  transcribe.Backend
		err error
	)
	if cfg.Transcribe.Backend == "local" {
		tr, err = r.localBackend(cfg)
	} else {
		tr, err = transcribe.New(&cfg.Transcribe, nil, r.Client)
	}
	if err != nil {
		return Backends{}, err
	}

	rw, err := rewrite.New(&cfg.Rewrite, r.Client)
	if err != nil {
		return Backends{}, err
	}

	method, err := inject.ParseMethod(cfg.Inject.Method)
	if err != nil {
		return Backends{}, err
	}
	opts := inject.Options{
		TypingDelay:     cfg.Inject.TypingDelay,
		SettleDelay:     cfg.Inject.SettleDelay,
		ClipboardBackup: cfg.Inject.ClipboardBackup,
		NewlineChord:    cfg.Inject.NewlineChord,
		PasteBlocklist:  cfg.Inject.PasteBlocklist,
	}
	var inj Injector
	if r.NewInjector != nil {
		inj = r.NewInjector(method, opts)
	} else {
		inj = inject.NewSystem(method, opts)
	}

	return Backends{Transcriber: tr, Rewriter: rw, Injector: inj}, nil
}

// Supervisor returns the cached local service supervisor for cfg.
func (r *DefaultResolver) Supervisor(cfg *config.Config) (service.Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refreshLocked(cfg); err != nil {
		return nil, err
	}
	return r.sup, nil
}

func (r *DefaultResolver) localBackend(cfg *config.Config) (transcribe.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refreshLocked(cfg); err != nil {
		return nil, err
	}
	return r.local, nil
}

// refreshLocked rebuilds the supervisor and local backend when the service
// config changed. Caller must hold mu.
func (r *DefaultResolver) refreshLocked(cfg *config.Config) error {
	lc := cfg.Transcribe.Local
	if r.sup != nil && r.localKey == lc && r.localLng == cfg.Transcribe.Language {
		return nil
	}

	sup, err := NewSupervisor(lc, r.Client)
	if err != nil {
		return err
	}
	local, err := transcribe.New(&config.TranscribeConfig{
		Backend:  "local",
		Language: cfg.Transcribe.Language,
		Local:    lc,
	}, sup, r.Client)
	if err != nil {
		return err
	}
	r.localKey, r.localLng, r.sup, r.local = lc, cfg.Transcribe.Language, sup, local
	return nil
}

// NewSupervisor creates the supervisor named by the local service config.
func NewSupervisor(lc config.LocalServiceConfig, client *http.Client) (service.Supervisor, error) {
	switch lc.Supervisor {
	case "docker", "":
		return service.NewDocker(service.DockerConfig{
			Image:     lc.Image,
			Container: lc.Container,
			Port:      lc.Port,
			GPU:       lc.GPU,
			Model:     lc.Model,
		}, nil, client), nil
	case "exec":
		return service.NewExec(service.ExecConfig{
			Command:   lc.Command,
			HealthURL: lc.HealthURL(),
		}, client)
	default:
		return nil, fmt.Errorf("pipeline: unknown supervisor %q", lc.Supervisor)
	}
}
