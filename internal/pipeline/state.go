package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is the top-level recording state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRecording  Phase = "recording"
	PhaseProcessing Phase = "processing"
	PhaseError      Phase = "error"
)

// Stage is the sub-phase of PhaseProcessing.
type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageRewriting    Stage = "rewriting"
	StageInjecting    Stage = "injecting"
)

// State is a point-in-time recording state. Only the fields that belong to
// Phase are set.
type State struct {
	Phase     Phase
	StartedAt time.Time // PhaseRecording
	Stage     Stage     // PhaseProcessing
	Message   string    // PhaseError, human readable
}

func idle() State { return State{Phase: PhaseIdle} }
func recording(at time.Time) State { return State{Phase: PhaseRecording, StartedAt: at} }
func processing(stage Stage) State { return State{Phase: PhaseProcessing, Stage: stage} }
func errored(message string) State { return State{Phase: PhaseError, Message: message} }

func (s State) String() string {
	switch s.Phase {
	case PhaseProcessing:
		return fmt.Sprintf("processing(%s)", s.Stage)
	case PhaseError:
		return fmt.Sprintf("error(%s)", s.Message)
	default:
		return string(s.Phase)
	}
}

// MarshalJSON encodes the state as {"type": phase, "data": {...}}.
func (s State) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type Phase `json:"type"`
		Data any   `json:"data,omitempty"`
	}
	w := wire{Type: s.Phase}
	switch s.Phase {
	case PhaseRecording:
		w.Data = struct {
			StartedAt time.Time `json:"started_at"`
		}{s.StartedAt}
	case PhaseProcessing:
		w.Data = struct {
			Stage Stage `json:"stage"`
		}{s.Stage}
	case PhaseError:
		w.Data = struct {
			Message string `json:"message"`
		}{s.Message}
	}
	return json.Marshal(w)
}

// Result is the outcome of a successful cycle.
type Result struct {
	ID             string        `json:"id"`
	Transcription  string        `json:"transcription"`
	CleanedText    string        `json:"cleaned_text"`
	RewriteSkipped bool          `json:"rewrite_skipped"`
	RewriteError   string        `json:"rewrite_error,omitempty"`
	AudioDuration  time.Duration `json:"audio_duration_ns"`
}

// Event is pushed to subscribers on every transition. Result is set only
// on the transition that completes a successful cycle.
type Event struct {
	State  State   `json:"state"`
	Result *Result `json:"result,omitempty"`
}
