package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// Artifact is a finished recording on disk. It is consumed once by a
// transcription backend and must be removed at the end of the cycle.
type Artifact struct {
	Path       string
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration

	secure bool
	once   sync.Once
	err    error
}

// NewArtifact writes samples to a new WAV file in dir.
func NewArtifact(dir string, samples []int16, secure bool) (*Artifact, error) {
	path := filepath.Join(dir, "dictaflow_"+uuid.NewString()+".wav")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audio: create artifact: %w", err)
	}

	if err := encodeWAV(f, samples); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("audio: close artifact: %w", err)
	}

	return &Artifact{
		Path:       path,
		SampleRate: SampleRate,
		Channels:   Channels,
		BitDepth:   BitDepth,
		Duration:   samplesDuration(len(samples)),
		secure:     secure,
	}, nil
}

func encodeWAV(f *os.File, samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}

	enc := wav.NewEncoder(f, SampleRate, BitDepth, Channels, 1) // 1 = PCM
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// Remove deletes the artifact. It is safe to call more than once and on a nil
// Artifact.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if a.secure {
			if err := overwrite(a.Path); err != nil && !os.IsNotExist(err) {
				slog.Warn("[audio] secure overwrite failed", "path", a.Path, "error", err)
			}
		}
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			a.err = fmt.Errorf("audio: remove artifact: %w", err)
			return
		}
		slog.Debug("[audio] artifact removed", "path", a.Path)
	})
	return a.err
}

// overwrite fills the file with zeros before it is unlinked.
func overwrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	zeros := make([]byte, 32*1024)
	for remaining := info.Size(); remaining > 0; {
		n := int64(len(zeros))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(zeros[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return f.Sync()
}
