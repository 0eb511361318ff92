package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chaz8081/dictaflow/internal/audio"
	"github.com/chaz8081/dictaflow/internal/backend"
	"github.com/chaz8081/dictaflow/internal/inject"
)

var (
	// ErrInvalidState is returned when an operation is called from a state
	// that does not allow it. The state is left unchanged.
	ErrInvalidState = errors.New("not in expected state")
	// ErrNoSpeech means transcription succeeded but returned no text.
	ErrNoSpeech = errors.New("no speech detected")
)

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s.Phase)
}

// StageError records which stage of a cycle failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// advice maps error kinds to the message shown to the user. Order matters:
// the first match wins.
var advice = []struct {
	err error
	msg string
}{
	{audio.ErrDeviceUnavailable, "Microphone unavailable. Check your microphone permissions and input device"},
	{audio.ErrEmptyRecording, "Recording was too short or silent. Speak for a moment before stopping"},
	{ErrNoSpeech, "No speech detected. Try again a little closer to the microphone"},
	{backend.ErrAuth, "Authentication failed. Check your API key"},
	{backend.ErrRateLimited, "Rate limited by the service. Wait a minute and try again"},
	{backend.ErrUnavailable, "Local transcription service is not available. Check that Docker is running and the model has finished loading"},
	{backend.ErrNetwork, "Network error. Check your connection and try again"},
	{backend.ErrInvalid, "Unexpected response from the service"},
	{inject.ErrKeystroke, "Could not type into the focused application. Check accessibility permissions"},
	{inject.ErrClipboard, "Could not use the clipboard"},
	{inject.ErrRejectedByTarget, "The focused application rejected the paste"},
}

// UserMessage turns a cycle error into a short human-readable message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, a := range advice {
		if errors.Is(err, a.err) {
			return a.msg + "."
		}
	}
	return capitalize(trimPrefixes(err.Error()))
}

// trimPrefixes drops leading "pkg: " and "stage failed: " segments.
func trimPrefixes(msg string) string {
	for {
		i := strings.Index(msg, ": ")
		if i < 0 {
			return msg
		}
		head := msg[:i]
		if strings.ContainsAny(head, " \t") && !strings.HasSuffix(head, " failed") {
			return msg
		}
		msg = msg[i+2:]
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
