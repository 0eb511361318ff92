// Package service keeps the local transcription service running.
//
// A Supervisor owns the lifecycle of a long-lived process or container that
// serves the transcription API on localhost. Two supervisors are provided:
// Docker (manages a named container through the docker CLI) and Exec (runs a
// command line as a child process).
package service

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Supervisor is the three-operation lifecycle contract the local
// transcription backend depends on.
type Supervisor interface {
	// EnsureRunning starts the service if it is not already running. It does
	// not wait for the service to become healthy.
	EnsureRunning(ctx context.Context) error
	// Health reports whether the service answers its health endpoint.
	Health(ctx context.Context) bool
	// Stop shuts the service down. Stopping a stopped service is not an error.
	Stop(ctx context.Context) error
}

var (
	// ErrRuntimeUnavailable means the container runtime or command is missing.
	ErrRuntimeUnavailable = errors.New("service runtime unavailable")
	// ErrStartFailed means the runtime is present but the service did not start.
	ErrStartFailed = errors.New("service failed to start")
)

// DefaultProbeTimeout bounds a single health check.
const DefaultProbeTimeout = 5 * time.Second

// ProbeHealth GETs url and reports whether it answered 2xx within timeout.
func ProbeHealth(ctx context.Context, client *http.Client, url string, timeout time.Duration) bool {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
