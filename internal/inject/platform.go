package inject

import (
	"github.com/atotto/clipboard"
	"github.com/go-vgo/robotgo"
)

// RobotKeyboard sends key events through robotgo.
type RobotKeyboard struct{}

// TypeRune implements Keyboard.
func (RobotKeyboard) TypeRune(r rune) error {
	robotgo.TypeStr(string(r))
	return nil
}

// Tap implements Keyboard.
func (RobotKeyboard) Tap(key string, modifiers ...string) error {
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

// ReadAll implements Clipboard.
func (SystemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

// WriteAll implements Clipboard.
func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ActiveWindowTitle returns the focused window's title, or "" if unknown.
func ActiveWindowTitle() string {
	return robotgo.GetTitle()
}

// NewSystem creates an Injector wired to the real keyboard and clipboard.
func NewSystem(method Method, opts Options) *Injector {
	return NewInjector(method, opts, RobotKeyboard{}, SystemClipboard{}, ActiveWindowTitle)
}
