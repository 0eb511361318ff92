package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/config"
	"github.com/chaz8081/dictaflow/internal/control"
	"github.com/chaz8081/dictaflow/internal/hotkey"
	"github.com/chaz8081/dictaflow/internal/inject"
	"github.com/chaz8081/dictaflow/internal/pipeline"
	"github.com/chaz8081/dictaflow/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/dictaflow/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	listDevices := flag.Bool("devices", false, "list audio input devices and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		fmt.Println("Config written to", path)
		return
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	source, err := audio.NewMalgoSource(cfg.Audio.Device)
	if err != nil {
		log.Fatalf("Failed to initialize audio: %v\n\nEnsure microphone access is granted to this terminal.", err)
	}
	defer source.Close()

	if *listDevices {
		names, err := source.DeviceNames()
		if err != nil {
			log.Fatalf("audio: %v", err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	printBanner(cfg, path)

	store := config.NewStore(cfg, path)
	store.OnChange(func(c *config.Config) {
		level.Set(config.ParseLogLevel(c.LogLevel))
		slog.Info("[config] reloaded; audio and hotkey changes apply after restart")
	})

	capture := audio.NewCapture(source, captureOptions(cfg.Audio))
	resolver := &pipeline.DefaultResolver{Client: &http.Client{}}
	orch := pipeline.New(capture, store, resolver, pipeline.Options{
		AppContext: inject.ActiveWindowTitle,
	})
	orch.Subscribe(notifier(store))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return store.Watch(ctx) })

	if cfg.Control.Enabled {
		srv := control.NewServer(orch, func() (service.Supervisor, error) {
			return resolver.Supervisor(store.Snapshot())
		})
		defer srv.Close()
		g.Go(func() error { return srv.Run(ctx, cfg.Control.Addr) })
	}

	if cfg.Transcribe.Backend == "local" {
		g.Go(func() error {
			warmUp(ctx, resolver, cfg)
			return nil
		})
	}

	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.CancelKeys, cfg.Hotkey.Mode)
	go listener.Start()
	g.Go(func() error { return runHotkeys(ctx, listener.Events(), orch) })

	log.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to dictate. Ctrl+C to quit.")

	err = g.Wait()
	if orch.State().Phase == pipeline.PhaseRecording {
		orch.Cancel()
	}
	listener.Stop()
	source.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
	log.Println("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	os.Exit(0)
}

// loadConfig loads the config from path, or from the default path if it
// exists, or falls back to built-in defaults. The returned path is what the
// store watches; it is empty when defaults are used.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, defaultPath, nil
	}

	log.Println("No config file found, using defaults (run with -init to create one)")
	return config.Default(), "", nil
}

func captureOptions(c config.AudioConfig) audio.Options {
	return audio.Options{
		Dir:              c.TempDir,
		MinDuration:      c.MinDuration,
		MaxDuration:      c.MaxDuration,
		SilenceThreshold: c.SilenceThreshold,
		SecureDelete:     c.SecureDelete,
	}
}

// warmUp starts the local service in the background so the first
// recording does not wait for a container pull.
func warmUp(ctx context.Context, resolver *pipeline.DefaultResolver, cfg *config.Config) {
	sup, err := resolver.Supervisor(cfg)
	if err != nil {
		slog.Warn("[service] no supervisor", "error", err)
		return
	}
	if err := sup.EnsureRunning(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("[service] local service did not start; will retry on first recording", "error", err)
	}
}

func printBanner(cfg *config.Config, path string) {
	if path == "" {
		path = "(defaults)"
	}
	fmt.Println("=== dictaflow ===")
	fmt.Printf("  Config:     %s\n", path)
	fmt.Printf("  Transcribe: %s\n", cfg.Transcribe.Backend)
	fmt.Printf("  Rewrite:    %s (%s)\n", cfg.Rewrite.Provider, cfg.Rewrite.Template)
	fmt.Printf("  Hotkey:     %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Inject:     %s\n", cfg.Inject.Method)
	if cfg.Control.Enabled {
		fmt.Printf("  Control:    http://%s\n", cfg.Control.Addr)
	}
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
