// Package audio captures microphone input and turns a finished recording
// into a 16 kHz, 16-bit, mono WAV artifact on disk.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// Fixed artifact format. Both transcription backends expect exactly this.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

var (
	// ErrDeviceUnavailable means no input device exists or it could not be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrEmptyRecording means the recording was too short or contained no signal.
	ErrEmptyRecording = errors.New("empty recording")
	// ErrNotRecording is returned by Finish when Begin was not called.
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by Begin while a stream is open.
	ErrAlreadyRecording = errors.New("already recording")
)

// Stream is an open input stream.
type Stream interface {
	Stop() error
}

// Source opens input streams. The onSamples callback runs on the device's
// realtime thread and must not block.
type Source interface {
	Open(onSamples func([]int16)) (Stream, error)
}

// Options tunes Capture.
type Options struct {
	Dir              string        // where artifacts are written; empty means os.TempDir()
	MinDuration      time.Duration // shorter recordings are rejected
	MaxDuration      time.Duration // samples beyond this are dropped; 0 means no cap
	SilenceThreshold float64       // RMS in [0,1] below which a recording counts as silence
	SecureDelete     bool          // overwrite artifacts with zeros before removal
}

// DefaultOptions returns the capture defaults.
func DefaultOptions() Options {
	return Options{
		MinDuration:      300 * time.Millisecond,
		MaxDuration:      5 * time.Minute,
		SilenceThreshold: 0.003,
	}
}

// Capture buffers one recording at a time.
type Capture struct {
	source Source
	opts   Options

	ctl    sync.Mutex // serializes Begin/Finish/Abort
	stream Stream

	mu        sync.Mutex // guards the fields below; held only for appends
	buf       []int16
	recording bool
	truncated bool
	maxLen    int
}

// NewCapture creates a Capture reading from source.
func NewCapture(source Source, opts Options) *Capture {
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	maxLen := 0
	if opts.MaxDuration > 0 {
		maxLen = int(opts.MaxDuration.Seconds() * SampleRate)
	}
	return &Capture{source: source, opts: opts, maxLen: maxLen}
}

// Begin opens the input stream and starts buffering.
func (c *Capture) Begin() error {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.stream != nil {
		return ErrAlreadyRecording
	}

	c.mu.Lock()
	// Reserve the whole cap up front so Append never reallocates on the
	// realtime thread. Capacity is kept between cycles.
	if c.maxLen > 0 && cap(c.buf) < c.maxLen {
		c.buf = make([]int16, 0, c.maxLen)
	}
	c.buf = c.buf[:0]
	c.truncated = false
	c.recording = true
	c.mu.Unlock()

	stream, err := c.source.Open(c.Append)
	if err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	c.stream = stream

	slog.Debug("[audio] capture started")
	return nil
}

// Append adds samples to the buffer. It is called from the realtime callback
// and ignores samples that arrive while not recording or past MaxDuration.
func (c *Capture) Append(samples []int16) {
	c.mu.Lock()
	if c.recording {
		if c.maxLen > 0 && len(c.buf)+len(samples) > c.maxLen {
			room := c.maxLen - len(c.buf)
			if room > 0 {
				c.buf = append(c.buf, samples[:room]...)
			}
			c.truncated = true
		} else {
			c.buf = append(c.buf, samples...)
		}
	}
	c.mu.Unlock()
}

// Finish stops the stream and writes the buffer to a WAV artifact.
func (c *Capture) Finish() (*Artifact, error) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.stream == nil {
		return nil, ErrNotRecording
	}
	samples, truncated := c.stopLocked()

	if truncated {
		slog.Warn("[audio] recording hit max duration, tail dropped", "max", c.opts.MaxDuration)
	}

	duration := samplesDuration(len(samples))
	if duration < c.opts.MinDuration {
		return nil, fmt.Errorf("%w: %.1fs is below the %.1fs minimum", ErrEmptyRecording, duration.Seconds(), c.opts.MinDuration.Seconds())
	}
	if level := rms(samples); level < c.opts.SilenceThreshold {
		return nil, fmt.Errorf("%w: no speech signal (level %.4f)", ErrEmptyRecording, level)
	}

	artifact, err := NewArtifact(c.opts.Dir, samples, c.opts.SecureDelete)
	if err != nil {
		return nil, err
	}
	slog.Info("[audio] recording saved", "duration", duration.Round(100*time.Millisecond), "samples", len(samples))
	return artifact, nil
}

// Abort stops the stream and discards the buffer without writing a file.
func (c *Capture) Abort() {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.stream == nil {
		return
	}
	c.stopLocked()
	slog.Debug("[audio] capture aborted")
}

// IsRecording reports whether a stream is open.
func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// stopLocked closes the stream and moves the buffered samples out, zeroing
// the buffer so no audio outlives the cycle. Caller must hold ctl.
func (c *Capture) stopLocked() ([]int16, bool) {
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()

	if err := c.stream.Stop(); err != nil {
		slog.Warn("[audio] stopping stream", "error", err)
	}
	c.stream = nil

	c.mu.Lock()
	defer c.mu.Unlock()
	samples := make([]int16, len(c.buf))
	copy(samples, c.buf)
	clear(c.buf)
	c.buf = c.buf[:0]
	return samples, c.truncated
}

func samplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// rms returns the root mean square of samples normalized to [0,1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
