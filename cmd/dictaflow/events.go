package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/chaz8081/dictaflow/internal/config"
	"github.com/chaz8081/dictaflow/internal/hotkey"
	"github.com/chaz8081/dictaflow/internal/pipeline"
)

// controller is the part of the orchestrator the hotkeys drive.
type controller interface {
	State() pipeline.State
	Start() error
	Stop(ctx context.Context) (*pipeline.Result, error)
	Cancel() error
}

// runHotkeys maps hotkey events onto orchestrator operations until ctx is
// done or the listener stops. Stop runs in its own goroutine so the
// hotkeys stay responsive while a cycle is processing.
func runHotkeys(ctx context.Context, events <-chan hotkey.Event, c controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				slog.Info("[hotkey] listener stopped")
				return nil
			}
			handleHotkey(ctx, ev.Type, c)
		}
	}
}

func handleHotkey(ctx context.Context, t hotkey.EventType, c controller) {
	switch t {
	case hotkey.EventStart:
		report("start", c.Start())
	case hotkey.EventStop:
		go finish(ctx, c)
	case hotkey.EventToggle:
		switch c.State().Phase {
		case pipeline.PhaseIdle, pipeline.PhaseError:
			report("start", c.Start())
		case pipeline.PhaseRecording:
			go finish(ctx, c)
		default:
			slog.Debug("[hotkey] busy, ignoring toggle")
		}
	case hotkey.EventCancel:
		report("cancel", c.Cancel())
	}
}

func finish(ctx context.Context, c controller) {
	_, err := c.Stop(ctx)
	report("stop", err)
}

// report logs operation failures. Rejected operations are expected when
// keys are mashed, so they stay at debug.
func report(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrInvalidState):
		slog.Debug("[hotkey] ignored", "op", op, "reason", err)
	default:
		slog.Debug("[hotkey] operation failed", "op", op, "error", err)
	}
}

// notifyFunc shows a desktop notification.
type notifyFunc func(title, message string) error

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// notifier returns an observer that shows errors and rewrite fallbacks as
// desktop notifications when enabled in the live config.
func notifier(store *config.Store) func(pipeline.Event) {
	return newNotifier(func() bool { return store.Snapshot().Notifications }, beeepNotify)
}

func newNotifier(enabled func() bool, notify notifyFunc) func(pipeline.Event) {
	return func(ev pipeline.Event) {
		title, msg, ok := notification(ev)
		if !ok || !enabled() {
			return
		}
		// Notify shells out on some platforms; keep it off the pipeline goroutine.
		go func() {
			if err := notify(title, msg); err != nil {
				slog.Debug("[notify] failed", "error", err)
			}
		}()
	}
}

func notification(ev pipeline.Event) (title, msg string, ok bool) {
	switch {
	case ev.State.Phase == pipeline.PhaseError:
		return "Dictation failed", ev.State.Message, true
	case ev.Result != nil && ev.Result.RewriteSkipped:
		return "Rewrite skipped", "Inserted the raw transcription. " + ev.Result.RewriteError, true
	default:
		return "", "", false
	}
}
