package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecConfig configures the Exec supervisor.
type ExecConfig struct {
	Command   string // shell-style command line, e.g. "faster-whisper-server --port 8000"
	HealthURL string
}

// Exec runs the service as a child process.
type Exec struct {
	argv      []string
	healthURL string
	client    *http.Client

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{} // closed when cmd exits
}

// NewExec parses the command line and returns an Exec supervisor.
func NewExec(cfg ExecConfig, client *http.Client) (*Exec, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	argv, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("service: parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("service: command empty")
	}
	if cfg.HealthURL == "" {
		return nil, fmt.Errorf("service: health URL empty")
	}
	return &Exec{argv: argv, healthURL: cfg.HealthURL, client: client}, nil
}

// EnsureRunning starts the process unless it is running or something else
// already answers the health endpoint.
func (e *Exec) EnsureRunning(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runningLocked() {
		return nil
	}
	if ProbeHealth(ctx, e.client, e.healthURL, DefaultProbeTimeout) {
		slog.Debug("[service] external service already healthy", "url", e.healthURL)
		return nil
	}

	path, err := exec.LookPath(e.argv[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	// Not bound to ctx: the process outlives the request that started it.
	cmd := exec.Command(path, e.argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		slog.Info("[service] process exited", "pid", cmd.Process.Pid, "error", err)
		close(done)
	}()
	e.cmd, e.done = cmd, done

	slog.Info("[service] process started", "cmd", e.argv[0], "pid", cmd.Process.Pid)
	return nil
}

// Health probes the configured health URL.
func (e *Exec) Health(ctx context.Context) bool {
	return ProbeHealth(ctx, e.client, e.healthURL, DefaultProbeTimeout)
}

// Stop interrupts the process and kills it if it has not exited after the
// grace period.
func (e *Exec) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.runningLocked() {
		return nil
	}

	if err := e.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Warn("[service] interrupt failed, killing", "error", err)
		e.cmd.Process.Kill()
	}

	grace := time.NewTimer(stopGrace * time.Second)
	defer grace.Stop()
	select {
	case <-e.done:
	case <-grace.C:
		e.cmd.Process.Kill()
		<-e.done
	case <-ctx.Done():
		e.cmd.Process.Kill()
		<-e.done
	}
	e.cmd, e.done = nil, nil
	return nil
}

func (e *Exec) runningLocked() bool {
	if e.cmd == nil {
		return false
	}
	select {
	case <-e.done:
		e.cmd, e.done = nil, nil
		return false
	default:
		return true
	}
}
