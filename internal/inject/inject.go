// Package inject provides text injection into the active application
// using clipboard paste, simulated typing, or paste with a typing fallback.
package inject

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// Method selects how text reaches the focused application.
type Method string

const (
	MethodClipboard Method = "clipboard"
	MethodTyping    Method = "typing"
	MethodHybrid    Method = "hybrid"
)

// ParseMethod accepts the config spellings, including the legacy "type" and "paste".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "clipboard", "paste":
		return MethodClipboard, nil
	case "typing", "type":
		return MethodTyping, nil
	case "hybrid", "":
		return MethodHybrid, nil
	default:
		return "", fmt.Errorf("inject: unknown method %q (supported: clipboard, typing, hybrid)", s)
	}
}

var (
	// ErrRejectedByTarget means the focused application is known to refuse
	// programmatic paste.
	ErrRejectedByTarget = errors.New("target rejected paste")
	// ErrClipboard means the clipboard could not be written.
	ErrClipboard = errors.New("clipboard unavailable")
	// ErrKeystroke means a simulated key event failed.
	ErrKeystroke = errors.New("keystroke simulation failed")
)

// Keyboard simulates key events.
type Keyboard interface {
	// TypeRune sends one Unicode code point as a key-down/key-up pair.
	TypeRune(r rune) error
	// Tap presses key with the given modifier keys held.
	Tap(key string, modifiers ...string) error
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Options tunes an Injector.
type Options struct {
	TypingDelay     time.Duration // pause between typed characters
	SettleDelay     time.Duration // pause between clipboard write and paste, and after paste
	ClipboardBackup bool          // restore the previous clipboard after pasting
	NewlineChord    []string      // key then modifiers sent for '\n'; default shift+enter
	PasteBlocklist  []string      // window title substrings that reject paste
}

// DefaultOptions returns the injection defaults.
func DefaultOptions() Options {
	return Options{
		TypingDelay:     time.Millisecond,
		SettleDelay:     100 * time.Millisecond,
		ClipboardBackup: true,
		NewlineChord:    []string{"enter", "shift"},
	}
}

// Injector sends text to the focused application.
type Injector struct {
	method Method
	opts   Options
	kb     Keyboard
	cb     Clipboard
	title  func() string // focused window title; may be nil
	sleep  func(time.Duration)
}

// NewInjector creates an Injector. title reports the focused window title
// and may be nil.
func NewInjector(method Method, opts Options, kb Keyboard, cb Clipboard, title func() string) *Injector {
	if len(opts.NewlineChord) == 0 {
		opts.NewlineChord = []string{"enter", "shift"}
	}
	return &Injector{
		method: method,
		opts:   opts,
		kb:     kb,
		cb:     cb,
		title:  title,
		sleep:  time.Sleep,
	}
}

// Method returns the configured strategy.
func (inj *Injector) Method() Method {
	return inj.method
}

// Inject sends text using the configured method. Success means the key
// events were delivered; the target application gives no confirmation.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case MethodClipboard:
		return inj.paste(text)
	case MethodTyping:
		return inj.typeText(text)
	default: // hybrid
		err := inj.paste(text)
		if err == nil {
			return nil
		}
		slog.Warn("[inject] paste failed, falling back to typing", "error", err)
		return inj.typeText(text)
	}
}

// paste writes text to the clipboard and sends the platform paste chord.
// The previous clipboard is restored on every path. An unreadable clipboard
// (xclip reports an empty one as an error) is restored as empty so the
// dictated text never stays behind.
func (inj *Injector) paste(text string) (err error) {
	if app := inj.blocked(); app != "" {
		return fmt.Errorf("inject: %w: %q", ErrRejectedByTarget, app)
	}

	if inj.opts.ClipboardBackup {
		prev, rerr := inj.cb.ReadAll()
		if rerr != nil {
			slog.Debug("[inject] clipboard read failed, restoring as empty", "error", rerr)
			prev = ""
		}
		defer func() {
			if werr := inj.cb.WriteAll(prev); werr != nil {
				slog.Warn("[inject] clipboard restore failed", "error", werr)
			}
		}()
	}

	if err := inj.cb.WriteAll(text); err != nil {
		return fmt.Errorf("inject: %w: %v", ErrClipboard, err)
	}
	inj.sleep(inj.opts.SettleDelay)

	if err := inj.kb.Tap("v", pasteModifier()); err != nil {
		return fmt.Errorf("inject: %w: paste chord: %v", ErrKeystroke, err)
	}
	// Let the target read the clipboard before it is restored.
	inj.sleep(inj.opts.SettleDelay)
	return nil
}

// typeText sends text one code point at a time. Newlines become an explicit
// newline chord so they do not submit forms; \r\n counts as one newline.
func (inj *Injector) typeText(text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	first := true
	for _, r := range text {
		if !first {
			inj.sleep(inj.opts.TypingDelay)
		}
		first = false

		var err error
		switch r {
		case '\n', '\r':
			chord := inj.opts.NewlineChord
			err = inj.kb.Tap(chord[0], chord[1:]...)
		case '\t':
			err = inj.kb.Tap("tab")
		default:
			err = inj.kb.TypeRune(r)
		}
		if err != nil {
			return fmt.Errorf("inject: %w: typing %q: %v", ErrKeystroke, r, err)
		}
	}
	return nil
}

// blocked returns the focused window title if it matches the paste blocklist.
func (inj *Injector) blocked() string {
	if inj.title == nil || len(inj.opts.PasteBlocklist) == 0 {
		return ""
	}
	title := inj.title()
	lower := strings.ToLower(title)
	for _, b := range inj.opts.PasteBlocklist {
		if b != "" && strings.Contains(lower, strings.ToLower(b)) {
			return title
		}
	}
	return ""
}

func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
