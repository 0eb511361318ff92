// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (each press toggles), plus an optional cancel combo.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType says what the user asked for.
type EventType int

const (
	// EventStart signals that the hotkey was pressed in hold mode.
	EventStart EventType = iota
	// EventStop signals that the hotkey was released in hold mode.
	EventStop
	// EventToggle signals a press in toggle mode. The receiver decides
	// whether it starts or stops based on the current recording state.
	EventToggle
	// EventCancel signals the cancel combo.
	EventCancel
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventToggle:
		return "toggle"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages global hotkeys and emits events.
type Listener struct {
	keys       []string
	cancelKeys []string
	mode       string // "hold" or "toggle"
	ch         chan Event
	done       chan struct{}
	once       sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "space"]).
// cancelKeys may be empty to disable the cancel combo.
func NewListener(keys, cancelKeys []string, mode string) *Listener {
	return &Listener{
		keys:       keys,
		cancelKeys: cancelKeys,
		mode:       mode,
		ch:         make(chan Event, 16),
		done:       make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range bindings(l.mode, len(l.cancelKeys) > 0) {
		keys := l.keys
		if b.event == EventCancel {
			keys = l.cancelKeys
		}
		ev := b.event
		hook.Register(b.kind, keys, func(hook.Event) {
			l.emit(ev)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// emit never blocks the hook thread; events are dropped if nobody reads.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

type binding struct {
	kind  uint8
	event EventType
}

// bindings maps a mode to the hook registrations it needs.
func bindings(mode string, withCancel bool) []binding {
	var out []binding
	switch mode {
	case "toggle":
		out = append(out, binding{hook.KeyDown, EventToggle})
	default: // "hold"
		out = append(out,
			binding{hook.KeyDown, EventStart},
			binding{hook.KeyUp, EventStop},
		)
	}
	if withCancel {
		out = append(out, binding{hook.KeyDown, EventCancel})
	}
	return out
}
