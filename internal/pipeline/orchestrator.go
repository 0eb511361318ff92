// Package pipeline sequences one dictation cycle: record, transcribe,
// rewrite, inject. The Orchestrator is the single writer of the recording
// state and rejects operations that do not match it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
	"github.com/chaz8081/dictaflow/internal/config"
	"github.com/chaz8081/dictaflow/internal/rewrite"
	"github.com/google/uuid"
)

// Recorder is the audio capture the orchestrator drives.
type Recorder interface {
	Begin() error
	Finish() (*audio.Artifact, error)
	Abort()
}

// ConfigSource hands out immutable config snapshots.
type ConfigSource interface {
	Snapshot() *config.Config
}

// Options tunes an Orchestrator. Zero values use real clocks.
type Options struct {
	Now        func() time.Time
	Sleep      backend.SleepFunc // retry backoff
	AppContext func() string     // focused application name for {{app}}; may be nil
}

// cycle is the per-run data captured at start.
type cycle struct {
	id       string
	cfg      *config.Config
	backends Backends
}

// Orchestrator owns the recording state machine.
type Orchestrator struct {
	rec      Recorder
	cfg      ConfigSource
	resolver Resolver
	opts     Options

	mu    sync.Mutex
	state State
	cur   *cycle
	subs  map[int]func(Event)
	next  int
	queue []Event

	flushMu sync.Mutex // serializes observer delivery
}

// New creates an Orchestrator in the Idle state.
func New(rec Recorder, cfg ConfigSource, resolver Resolver, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = backend.Sleep
	}
	return &Orchestrator{
		rec:      rec,
		cfg:      cfg,
		resolver: resolver,
		opts:     opts,
		state:    idle(),
		subs:     make(map[int]func(Event)),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn for every transition, in order. fn runs on the
// goroutine that made the transition and must not call back into the
// Orchestrator synchronously. The returned func unsubscribes.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Start begins a recording. Valid from Idle or Error. The config snapshot
// and backends for the whole cycle are fixed here.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state.Phase != PhaseIdle && o.state.Phase != PhaseError {
		err := invalidState("start", o.state)
		o.mu.Unlock()
		return err
	}
	if o.state.Phase == PhaseError {
		o.setLocked(idle(), nil)
	}

	cfg := o.cfg.Snapshot()
	cyc := &cycle{id: uuid.NewString(), cfg: cfg}
	o.cur = cyc
	o.setLocked(recording(o.opts.Now()), nil)

	err := o.begin(cyc)
	if err != nil {
		o.cur = nil
		o.setLocked(errored(UserMessage(err)), nil)
	}
	o.mu.Unlock()
	o.flush()

	if err != nil {
		slog.Error("[pipeline] start failed", "cycle", cyc.id, "error", err)
		return err
	}
	slog.Info("[pipeline] recording", "cycle", cyc.id)
	return nil
}

// begin resolves backends and opens the input stream. Caller holds mu.
func (o *Orchestrator) begin(cyc *cycle) error {
	b, err := o.resolver.Resolve(cyc.cfg)
	if err != nil {
		return fmt.Errorf("pipeline: resolve backends: %w", err)
	}
	cyc.backends = b
	return o.rec.Begin()
}

// Cancel discards the current recording. Valid only from Recording.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	if o.state.Phase != PhaseRecording {
		err := invalidState("cancel", o.state)
		o.mu.Unlock()
		return err
	}
	cyc := o.cur
	o.rec.Abort()
	o.cur = nil
	o.setLocked(idle(), nil)
	o.mu.Unlock()
	o.flush()

	slog.Info("[pipeline] recording canceled", "cycle", cyc.id)
	return nil
}

// Stop finishes the recording and runs transcription, rewriting and
// injection in order. Valid only from Recording. Once processing starts
// it runs to completion; ctx only bounds backend calls.
func (o *Orchestrator) Stop(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.state.Phase != PhaseRecording {
		err := invalidState("stop", o.state)
		o.mu.Unlock()
		return nil, err
	}
	cyc := o.cur
	o.setLocked(processing(StageTranscribing), nil)
	o.mu.Unlock()
	o.flush()

	res, err := o.process(ctx, cyc)

	o.mu.Lock()
	o.cur = nil
	if err != nil {
		o.setLocked(errored(UserMessage(err)), nil)
	} else {
		o.setLocked(idle(), res)
	}
	o.mu.Unlock()
	o.flush()

	if err != nil {
		slog.Error("[pipeline] cycle failed", "cycle", cyc.id, "kind", backend.Kind(err), "error", err)
		return nil, err
	}
	slog.Info("[pipeline] cycle complete", "cycle", cyc.id, "chars", len(res.CleanedText), "rewrite_skipped", res.RewriteSkipped)
	return res, nil
}

// process runs the stages. The artifact is gone by the time it returns.
func (o *Orchestrator) process(ctx context.Context, cyc *cycle) (*Result, error) {
	artifact, err := o.rec.Finish()
	if err != nil {
		return nil, &StageError{Stage: StageTranscribing, Err: err}
	}

	res := &Result{ID: cyc.id, AudioDuration: artifact.Duration}
	policy := o.retryPolicy(cyc.cfg)

	text, err := backend.Retry(ctx, policy, "transcribe", func(ctx context.Context) (string, error) {
		return cyc.backends.Transcriber.Transcribe(ctx, artifact)
	})
	if rerr := artifact.Remove(); rerr != nil {
		slog.Warn("[pipeline] artifact cleanup failed", "path", artifact.Path, "error", rerr)
	}
	if err != nil {
		return nil, &StageError{Stage: StageTranscribing, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &StageError{Stage: StageTranscribing, Err: ErrNoSpeech}
	}
	res.Transcription = text
	slog.Debug("[pipeline] transcribed", "cycle", cyc.id, "backend", cyc.backends.Transcriber.Name(), "text", text)

	o.set(processing(StageRewriting))
	cleaned, err := o.rewrite(ctx, cyc, policy, text)
	if err != nil {
		slog.Warn("[pipeline] rewrite skipped, using transcription", "cycle", cyc.id, "kind", backend.Kind(err), "error", err)
		res.RewriteSkipped = true
		res.RewriteError = UserMessage(err)
		cleaned = text
	}
	res.CleanedText = cleaned

	o.set(processing(StageInjecting))
	if err := cyc.backends.Injector.Inject(cleaned); err != nil {
		return nil, &StageError{Stage: StageInjecting, Err: err}
	}
	return res, nil
}

// rewrite runs the rewrite backend. Any error means the caller falls back
// to the raw transcription.
func (o *Orchestrator) rewrite(ctx context.Context, cyc *cycle, policy backend.RetryPolicy, text string) (string, error) {
	rw := cyc.backends.Rewriter
	if _, ok := rw.(rewrite.None); ok {
		return text, nil
	}

	rc := cyc.cfg.Rewrite
	tmpl, ok := rewrite.NewTemplates(rc.Templates).Get(rc.Template)
	if !ok {
		return "", fmt.Errorf("rewrite: unknown template %q", rc.Template)
	}
	if !rw.Available(ctx) {
		return "", fmt.Errorf("rewrite: %w: %s", backend.ErrUnavailable, rw.Name())
	}

	req := rewrite.Request{
		Text:     text,
		Template: tmpl,
		Language: cyc.cfg.Transcribe.Language,
	}
	if o.opts.AppContext != nil {
		req.AppContext = o.opts.AppContext()
	}

	out, err := backend.Retry(ctx, policy, "rewrite", func(ctx context.Context) (string, error) {
		return rw.Rewrite(ctx, req)
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("rewrite: %w: empty output", backend.ErrInvalid)
	}
	if err := rewrite.Guard(text, out, rc.MaxDivergence); err != nil {
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) retryPolicy(cfg *config.Config) backend.RetryPolicy {
	return backend.RetryPolicy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		Sleep:     o.opts.Sleep,
	}
}

// set transitions and notifies.
func (o *Orchestrator) set(s State) {
	o.mu.Lock()
	o.setLocked(s, nil)
	o.mu.Unlock()
	o.flush()
}

// setLocked records a transition for delivery by flush. Caller holds mu.
func (o *Orchestrator) setLocked(s State, res *Result) {
	o.state = s
	o.queue = append(o.queue, Event{State: s, Result: res})
	slog.Debug("[pipeline] state", "state", s.String())
}

// flush delivers queued events in order, outside mu.
func (o *Orchestrator) flush() {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	for {
		o.mu.Lock()
		events := o.queue
		o.queue = nil
		subs := make([]func(Event), 0, len(o.subs))
		for id := 0; id < o.next; id++ {
			if fn, ok := o.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
		o.mu.Unlock()

		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}

// BackendStatus reports whether one backend can be used.
type BackendStatus struct {
	Role      string `json:"role"` // "transcription" or "rewrite"
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// CheckBackends resolves backends from the current config and probes them.
func (o *Orchestrator) CheckBackends(ctx context.Context) ([]BackendStatus, error) {
	b, err := o.resolver.Resolve(o.cfg.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve backends: %w", err)
	}

	out := []BackendStatus{
		{Role: "transcription", Name: b.Transcriber.Name(), Available: b.Transcriber.Available(ctx)},
		{Role: "rewrite", Name: b.Rewriter.Name(), Available: b.Rewriter.Available(ctx)},
	}
	for i := range out {
		if !out[i].Available {
			out[i].Message = unavailableMessage(out[i].Role, out[i].Name)
		}
	}
	return out, nil
}

func unavailableMessage(role, name string) string {
	switch {
	case role == "transcription" && strings.HasPrefix(name, "Local"):
		return "Local service is not running. It starts automatically on the next recording."
	case role == "transcription":
		return "No API key configured."
	default:
		return fmt.Sprintf("%s is not reachable or has no API key.", name)
	}
}

// modelLister is implemented by rewrite backends that can list models.
type modelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// ErrNoModelList is returned when the rewrite backend cannot list models.
var ErrNoModelList = errors.New("rewrite backend does not list models")

// RewriteModels lists the models the configured rewrite backend offers.
func (o *Orchestrator) RewriteModels(ctx context.Context) ([]string, error) {
	b, err := o.resolver.Resolve(o.cfg.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve backends: %w", err)
	}
	ml, ok := b.Rewriter.(modelLister)
	if !ok {
		return nil, ErrNoModelList
	}
	return ml.Models(ctx)
}
