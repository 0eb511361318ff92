package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/dictaflow/internal/hotkey"
	"github.com/chaz8081/dictaflow/internal/pipeline"
)

type fakeController struct {
	mu    sync.Mutex
	phase pipeline.Phase
	ops   []string
	done  chan struct{}
}

func newFakeController(p pipeline.Phase) *fakeController {
	return &fakeController{phase: p, done: make(chan struct{}, 4)}
}

func (f *fakeController) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeController) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.State{Phase: f.phase}
}

func (f *fakeController) Start() error { f.record("start"); return nil }
func (f *fakeController) Cancel() error {
	f.record("cancel")
	return fmt.Errorf("%w: cannot cancel while idle", pipeline.ErrInvalidState)
}

func (f *fakeController) Stop(context.Context) (*pipeline.Result, error) {
	f.record("stop")
	f.done <- struct{}{}
	return &pipeline.Result{}, nil
}

func (f *fakeController) opList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func TestHandleHotkey(t *testing.T) {
	tests := []struct {
		name  string
		phase pipeline.Phase
		event hotkey.EventType
		want  string // "" means nothing is called
	}{
		{"toggle from idle starts", pipeline.PhaseIdle, hotkey.EventToggle, "start"},
		{"toggle from error starts", pipeline.PhaseError, hotkey.EventToggle, "start"},
		{"toggle while recording stops", pipeline.PhaseRecording, hotkey.EventToggle, "stop"},
		{"toggle while processing is ignored", pipeline.PhaseProcessing, hotkey.EventToggle, ""},
		{"hold press starts", pipeline.PhaseIdle, hotkey.EventStart, "start"},
		{"hold release stops", pipeline.PhaseRecording, hotkey.EventStop, "stop"},
		{"cancel", pipeline.PhaseIdle, hotkey.EventCancel, "cancel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeController(tt.phase)
			handleHotkey(context.Background(), tt.event, c)
			if tt.want == "stop" {
				select {
				case <-c.done:
				case <-time.After(time.Second):
					t.Fatal("Stop was not called")
				}
			}
			ops := c.opList()
			switch {
			case tt.want == "" && len(ops) != 0:
				t.Errorf("ops = %v, want none", ops)
			case tt.want != "" && (len(ops) != 1 || ops[0] != tt.want):
				t.Errorf("ops = %v, want [%s]", ops, tt.want)
			}
		})
	}
}

func TestRunHotkeysStopsWhenChannelCloses(t *testing.T) {
	events := make(chan hotkey.Event, 1)
	events <- hotkey.Event{Type: hotkey.EventStart}
	close(events)

	c := newFakeController(pipeline.PhaseIdle)
	if err := runHotkeys(context.Background(), events, c); err != nil {
		t.Fatalf("runHotkeys() error = %v", err)
	}
	if ops := c.opList(); len(ops) != 1 || ops[0] != "start" {
		t.Errorf("ops = %v", ops)
	}
}

func TestRunHotkeysStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runHotkeys(ctx, make(chan hotkey.Event), newFakeController(pipeline.PhaseIdle)); err != nil {
		t.Fatalf("runHotkeys() error = %v", err)
	}
}

func TestNotifier(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		ev        pipeline.Event
		wantTitle string
	}{
		{"error", true, pipeline.Event{State: pipeline.State{Phase: pipeline.PhaseError, Message: "Network error."}}, "Dictation failed"},
		{"rewrite skipped", true, pipeline.Event{State: pipeline.State{Phase: pipeline.PhaseIdle}, Result: &pipeline.Result{RewriteSkipped: true}}, "Rewrite skipped"},
		{"success is quiet", true, pipeline.Event{State: pipeline.State{Phase: pipeline.PhaseIdle}, Result: &pipeline.Result{}}, ""},
		{"recording is quiet", true, pipeline.Event{State: pipeline.State{Phase: pipeline.PhaseRecording}}, ""},
		{"disabled", false, pipeline.Event{State: pipeline.State{Phase: pipeline.PhaseError, Message: "x"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan string, 1)
			fn := newNotifier(func() bool { return tt.enabled }, func(title, _ string) error {
				got <- title
				return nil
			})
			fn(tt.ev)

			select {
			case title := <-got:
				if title != tt.wantTitle {
					t.Errorf("title = %q, want %q", title, tt.wantTitle)
				}
			case <-time.After(100 * time.Millisecond):
				if tt.wantTitle != "" {
					t.Errorf("no notification, want %q", tt.wantTitle)
				}
			}
		})
	}
}
