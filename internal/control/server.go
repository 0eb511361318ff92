// Package control serves the localhost HTTP API that the UI shell and
// scripts use to drive the pipeline and watch its state.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaz8081/dictaflow/internal/pipeline"
	"github.com/chaz8081/dictaflow/internal/service"
	"github.com/chaz8081/dictaflow/internal/transcribe"
)

// Pipeline is the orchestrator surface the API exposes.
type Pipeline interface {
	State() pipeline.State
	Start() error
	Stop(ctx context.Context) (*pipeline.Result, error)
	Cancel() error
	Subscribe(fn func(pipeline.Event)) func()
	CheckBackends(ctx context.Context) ([]pipeline.BackendStatus, error)
	RewriteModels(ctx context.Context) ([]string, error)
}

// SupervisorFunc returns the local service supervisor for the current config.
type SupervisorFunc func() (service.Supervisor, error)

// Server is the control API.
type Server struct {
	p   Pipeline
	sup SupervisorFunc
	hub *Hub

	unsub func()
}

// NewServer creates a Server and subscribes its hub to p. sup may be nil
// when no local service is managed.
func NewServer(p Pipeline, sup SupervisorFunc) *Server {
	s := &Server{p: p, sup: sup, hub: NewHub()}
	s.unsub = p.Subscribe(func(ev pipeline.Event) { s.hub.Broadcast(ev) })
	return s
}

// Close unsubscribes from the pipeline.
func (s *Server) Close() { s.unsub() }

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(sameOrigin)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/events", s.handleEvents)
		r.Get("/backends", s.handleBackends)
		r.Get("/models", s.handleModels)

		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/cancel", s.handleCancel)
		})
		r.Route("/service", func(r chi.Router) {
			r.Get("/health", s.handleServiceHealth)
			r.Post("/{action:start|stop}", s.handleService)
		})
	})
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("[control] listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.p.State())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, pipeline.Event{State: s.p.State()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.p.Start(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.p.State())
}

// handleStop runs the whole cycle; a client hanging up does not abort it.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.p.Stop(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.p.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.p.State())
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	st, err := s.p.CheckBackends(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type modelsResponse struct {
	Transcription []transcribe.ModelInfo `json:"transcription"`
	Rewrite       []string               `json:"rewrite"`
	RewriteError  string                 `json:"rewrite_error,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := modelsResponse{Transcription: transcribe.Models(), Rewrite: []string{}}
	models, err := s.p.RewriteModels(r.Context())
	switch {
	case err == nil:
		resp.Rewrite = models
	case errors.Is(err, pipeline.ErrNoModelList):
	default:
		resp.RewriteError = pipeline.UserMessage(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

type serviceStatus struct {
	Healthy bool `json:"healthy"`
}

func (s *Server) supervisor(w http.ResponseWriter) (service.Supervisor, bool) {
	if s.sup == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no local service configured"})
		return nil, false
	}
	sup, err := s.sup()
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sup, true
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.supervisor(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, serviceStatus{Healthy: sup.Health(r.Context())})
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.supervisor(w)
	if !ok {
		return
	}

	var err error
	if chi.URLParam(r, "action") == "start" {
		err = sup.EnsureRunning(r.Context())
	} else {
		err = sup.Stop(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, serviceStatus{Healthy: sup.Health(r.Context())})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, service.ErrRuntimeUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: pipeline.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[control] encode response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("[control] request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "elapsed", time.Since(start))
	})
}

// sameOrigin rejects requests a browser sends on behalf of another site.
// Clients without an Origin header (curl, scripts, the UI shell) pass.
func sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedOrigin(r) {
			slog.Warn("[control] rejected cross-origin request", "method", r.Method, "path", r.URL.Path, "origin", r.Header.Get("Origin"))
			writeJSON(w, http.StatusForbidden, errorBody{Error: "cross-origin requests are not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
