package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Docker defaults for a faster-whisper server container.
const (
	DefaultCPUImage  = "fedirz/faster-whisper-server:latest-cpu"
	DefaultGPUImage  = "fedirz/faster-whisper-server:latest-cuda"
	DefaultContainer = "dictaflow-whisper"
	DefaultPort      = 8000

	containerPort = 8000
	stopGrace     = 10 // seconds

	commandTimeout = 2 * time.Minute
	createTimeout  = 15 * time.Minute // docker run may pull the image first
)

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return out, err
}

// DockerConfig configures the Docker supervisor.
type DockerConfig struct {
	Binary    string // docker CLI; default "docker"
	Image     string // overrides the CPU/GPU default image
	Container string
	Port      int  // host port, bound on 127.0.0.1
	GPU       bool // use the CUDA image and pass --gpus all
	Model     string
}

// Docker supervises a named container through the docker CLI.
type Docker struct {
	cfg    DockerConfig
	run    Runner
	client *http.Client

	mu sync.Mutex // serializes lifecycle commands
}

// NewDocker creates a Docker supervisor. A nil run uses ExecRunner.
func NewDocker(cfg DockerConfig, run Runner, client *http.Client) *Docker {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if run == nil {
		run = ExecRunner{}
	}
	return &Docker{cfg: cfg, run: run, client: client}
}

// Image returns the image the container is created from.
func (d *Docker) Image() string {
	switch {
	case d.cfg.Image != "":
		return d.cfg.Image
	case d.cfg.GPU:
		return DefaultGPUImage
	default:
		return DefaultCPUImage
	}
}

// HealthURL is the endpoint Health probes.
func (d *Docker) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", d.cfg.Port)
}

// EnsureRunning starts the existing container or creates a new one.
func (d *Docker) EnsureRunning(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.docker(ctx, commandTimeout, "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("%w: docker is not running: %v", ErrRuntimeUnavailable, err)
	}

	running, exists, err := d.state(ctx)
	if err != nil {
		return err
	}
	switch {
	case running:
		slog.Debug("[service] container already running", "container", d.cfg.Container)
		return nil
	case exists:
		slog.Info("[service] starting container", "container", d.cfg.Container)
		if _, err := d.docker(ctx, commandTimeout, "start", d.cfg.Container); err != nil {
			return fmt.Errorf("%w: docker start: %v", ErrStartFailed, err)
		}
		return nil
	}

	args := []string{
		"run", "-d",
		"--name", d.cfg.Container,
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", d.cfg.Port, containerPort),
	}
	if d.cfg.Model != "" {
		args = append(args, "-e", "WHISPER__MODEL="+d.cfg.Model)
	}
	if d.cfg.GPU {
		args = append(args, "--gpus", "all")
	}
	args = append(args, d.Image())

	slog.Info("[service] creating container", "container", d.cfg.Container, "image", d.Image(), "port", d.cfg.Port)
	if _, err := d.docker(ctx, createTimeout, args...); err != nil {
		return fmt.Errorf("%w: docker run: %v", ErrStartFailed, err)
	}
	return nil
}

// Health probes the container's health endpoint.
func (d *Docker) Health(ctx context.Context) bool {
	return ProbeHealth(ctx, d.client, d.HealthURL(), DefaultProbeTimeout)
}

// Stop stops the container with a grace period.
func (d *Docker) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	running, _, err := d.state(ctx)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	slog.Info("[service] stopping container", "container", d.cfg.Container)
	if _, err := d.docker(ctx, commandTimeout, "stop", "-t", strconv.Itoa(stopGrace), d.cfg.Container); err != nil {
		return fmt.Errorf("service: docker stop: %w", err)
	}
	return nil
}

// state inspects the container. A missing container is not an error.
func (d *Docker) state(ctx context.Context) (running, exists bool, err error) {
	out, err := d.docker(ctx, commandTimeout, "inspect", "--format", "{{.State.Running}}", d.cfg.Container)
	if err != nil {
		if isNoSuchContainer(out, err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("service: docker inspect: %w", err)
	}
	return strings.TrimSpace(string(out)) == "true", true, nil
}

func (d *Docker) docker(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := d.run.Run(ctx, d.cfg.Binary, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func isNoSuchContainer(out []byte, err error) bool {
	msg := strings.ToLower(string(out) + " " + err.Error())
	return strings.Contains(msg, "no such")
}
