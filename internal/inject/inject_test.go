package inject

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type keyEvent struct {
	r    rune
	key  string
	mods []string
}

type mockKeyboard struct {
	events  []keyEvent
	tapErr  error // returned by Tap for "v"
	typeErr error
}

func (m *mockKeyboard) TypeRune(r rune) error {
	if m.typeErr != nil {
		return m.typeErr
	}
	m.events = append(m.events, keyEvent{r: r})
	return nil
}

func (m *mockKeyboard) Tap(key string, mods ...string) error {
	if key == "v" && m.tapErr != nil {
		return m.tapErr
	}
	m.events = append(m.events, keyEvent{key: key, mods: mods})
	return nil
}

func (m *mockKeyboard) typed() string {
	var b strings.Builder
	for _, e := range m.events {
		switch {
		case e.r != 0:
			b.WriteRune(e.r)
		case e.key == "enter":
			b.WriteString("<" + strings.Join(append([]string{"enter"}, e.mods...), "+") + ">")
		case e.key == "tab":
			b.WriteString("<tab>")
		}
	}
	return b.String()
}

func (m *mockKeyboard) pastes() int {
	n := 0
	for _, e := range m.events {
		if e.key == "v" {
			n++
		}
	}
	return n
}

type mockClipboard struct {
	content  string
	writes   []string
	readErr  error
	writeErr error
}

func (m *mockClipboard) ReadAll() (string, error) {
	if m.readErr != nil {
		return "", m.readErr
	}
	return m.content, nil
}

func (m *mockClipboard) WriteAll(text string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, text)
	m.content = text
	return nil
}

func newTestInjector(method Method, kb *mockKeyboard, cb *mockClipboard) *Injector {
	inj := NewInjector(method, DefaultOptions(), kb, cb, nil)
	inj.sleep = func(time.Duration) {}
	return inj
}

func TestParseMethod(t *testing.T) {
	tests := map[string]Method{
		"clipboard": MethodClipboard,
		"paste":     MethodClipboard,
		"typing":    MethodTyping,
		"type":      MethodTyping,
		"Hybrid":    MethodHybrid,
		"":          MethodHybrid,
	}
	for in, want := range tests {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMethod("ble"); err == nil {
		t.Error("ParseMethod(ble) should fail")
	}
}

func TestInjectEmptyIsNoop(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "keep"}
	if err := newTestInjector(MethodHybrid, kb, cb).Inject(""); err != nil {
		t.Fatalf("Inject(\"\") error = %v", err)
	}
	if len(kb.events) != 0 || len(cb.writes) != 0 {
		t.Error("empty text should not touch keyboard or clipboard")
	}
}

func TestClipboardPasteRestores(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "original"}
	inj := newTestInjector(MethodClipboard, kb, cb)

	if err := inj.Inject("dictated text"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if kb.pastes() != 1 {
		t.Errorf("paste chord sent %d times, want 1", kb.pastes())
	}
	if len(cb.writes) != 2 || cb.writes[0] != "dictated text" {
		t.Errorf("clipboard writes = %q, want the text then the restore", cb.writes)
	}
	if cb.content != "original" {
		t.Errorf("clipboard = %q after Inject(), want %q", cb.content, "original")
	}
	if mods := kb.events[0].mods; len(mods) != 1 || (mods[0] != "cmd" && mods[0] != "ctrl") {
		t.Errorf("paste modifiers = %v", mods)
	}
}

func TestClipboardRestoredWhenPasteFails(t *testing.T) {
	kb := &mockKeyboard{tapErr: errors.New("accessibility denied")}
	cb := &mockClipboard{content: "original"}
	inj := newTestInjector(MethodClipboard, kb, cb)

	err := inj.Inject("dictated text")
	if !errors.Is(err, ErrKeystroke) {
		t.Fatalf("Inject() error = %v, want ErrKeystroke", err)
	}
	if cb.content != "original" {
		t.Errorf("clipboard = %q after failed paste, want %q", cb.content, "original")
	}
}

func TestClipboardUnreadableIsClearedAfterPaste(t *testing.T) {
	kb := &mockKeyboard{}
	cb := &mockClipboard{readErr: errors.New("exit status 1")}
	inj := newTestInjector(MethodClipboard, kb, cb)

	if err := inj.Inject("secret dictation"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(cb.writes) != 2 || cb.writes[0] != "secret dictation" || cb.writes[1] != "" {
		t.Errorf("clipboard writes = %q, want the text then an empty restore", cb.writes)
	}
	if cb.content != "" {
		t.Errorf("clipboard after paste = %q, want empty", cb.content)
	}
}

func TestClipboardWriteFails(t *testing.T) {
	kb := &mockKeyboard{}
	cb := &mockClipboard{content: "original", writeErr: errors.New("no display")}
	inj := newTestInjector(MethodClipboard, kb, cb)

	if err := inj.Inject("x"); !errors.Is(err, ErrClipboard) {
		t.Errorf("Inject() error = %v, want ErrClipboard", err)
	}
	if kb.pastes() != 0 {
		t.Error("paste chord sent after clipboard write failed")
	}
}

func TestClipboardBackupDisabled(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "original"}
	opts := DefaultOptions()
	opts.ClipboardBackup = false
	inj := NewInjector(MethodClipboard, opts, kb, cb, nil)
	inj.sleep = func(time.Duration) {}

	if err := inj.Inject("new"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if cb.content != "new" {
		t.Errorf("clipboard = %q, want the injected text left in place", cb.content)
	}
}

func TestHybridFallsBackToTyping(t *testing.T) {
	kb := &mockKeyboard{tapErr: errors.New("paste blocked")}
	cb := &mockClipboard{content: "original"}
	inj := newTestInjector(MethodHybrid, kb, cb)

	if err := inj.Inject("hello"); err != nil {
		t.Fatalf("Inject() error = %v, want fallback to absorb paste failure", err)
	}
	if got := kb.typed(); got != "hello" {
		t.Errorf("typed = %q, want %q", got, "hello")
	}
	if cb.content != "original" {
		t.Errorf("clipboard = %q, want %q", cb.content, "original")
	}
}

func TestHybridPasteSucceedsWithoutTyping(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "original"}
	if err := newTestInjector(MethodHybrid, kb, cb).Inject("hello"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if kb.typed() != "" {
		t.Errorf("typed %q, want nothing after a successful paste", kb.typed())
	}
}

func TestHybridTypingFailureSurfaces(t *testing.T) {
	kb := &mockKeyboard{tapErr: errors.New("paste blocked"), typeErr: errors.New("no focus")}
	cb := &mockClipboard{content: "original"}

	err := newTestInjector(MethodHybrid, kb, cb).Inject("hello")
	if !errors.Is(err, ErrKeystroke) {
		t.Errorf("Inject() error = %v, want ErrKeystroke", err)
	}
}

func TestPasteBlocklist(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "original"}
	opts := DefaultOptions()
	opts.PasteBlocklist = []string{"KeePass"}
	title := func() string { return "Database - keepass 2" }

	inj := NewInjector(MethodClipboard, opts, kb, cb, title)
	inj.sleep = func(time.Duration) {}
	if err := inj.Inject("secret"); !errors.Is(err, ErrRejectedByTarget) {
		t.Fatalf("Inject() error = %v, want ErrRejectedByTarget", err)
	}
	if len(cb.writes) != 0 {
		t.Errorf("clipboard written for a blocked target: %q", cb.writes)
	}

	hybrid := NewInjector(MethodHybrid, opts, kb, cb, title)
	hybrid.sleep = func(time.Duration) {}
	if err := hybrid.Inject("secret"); err != nil {
		t.Fatalf("hybrid Inject() error = %v", err)
	}
	if kb.typed() != "secret" {
		t.Errorf("typed = %q, want hybrid to type into the blocked target", kb.typed())
	}
}

func TestTypingNewlines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lf", "a\nb", "a<enter+shift>b"},
		{"crlf", "a\r\nb", "a<enter+shift>b"},
		{"trailing", "done\n", "done<enter+shift>"},
		{"tab", "a\tb", "a<tab>b"},
		{"unicode", "café ✓", "café ✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := &mockKeyboard{}
			if err := newTestInjector(MethodTyping, kb, &mockClipboard{}).Inject(tt.in); err != nil {
				t.Fatalf("Inject() error = %v", err)
			}
			if got := kb.typed(); got != tt.want {
				t.Errorf("typed = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypingCustomNewlineChord(t *testing.T) {
	kb := &mockKeyboard{}
	opts := DefaultOptions()
	opts.NewlineChord = []string{"enter"}
	inj := NewInjector(MethodTyping, opts, kb, &mockClipboard{}, nil)
	inj.sleep = func(time.Duration) {}

	if err := inj.Inject("a\nb"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if got := kb.typed(); got != "a<enter>b" {
		t.Errorf("typed = %q", got)
	}
}

func TestTypingDelayBetweenCharacters(t *testing.T) {
	kb := &mockKeyboard{}
	opts := DefaultOptions()
	opts.TypingDelay = 5 * time.Millisecond
	inj := NewInjector(MethodTyping, opts, kb, &mockClipboard{}, nil)

	var slept []time.Duration
	inj.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := inj.Inject("abc"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(slept) != 2 || slept[0] != 5*time.Millisecond {
		t.Errorf("delays = %v, want two 5ms pauses", slept)
	}
}

func TestTypingDoesNotTouchClipboard(t *testing.T) {
	kb, cb := &mockKeyboard{}, &mockClipboard{content: "original"}
	if err := newTestInjector(MethodTyping, kb, cb).Inject("x"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if len(cb.writes) != 0 {
		t.Errorf("typing wrote the clipboard: %q", cb.writes)
	}
}
