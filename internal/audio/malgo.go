package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoSource opens capture streams through miniaudio. Call Close() when done.
type MalgoSource struct {
	ctx    *malgo.AllocatedContext
	device string // device name substring; empty or "default" means system default
}

// NewMalgoSource initializes the audio context.
func NewMalgoSource(device string) (*MalgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	if device == "default" {
		device = ""
	}
	return &MalgoSource{ctx: ctx, device: device}, nil
}

// Open starts a mono 16 kHz S16 capture stream that forwards samples to onSamples.
func (s *MalgoSource) Open(onSamples func([]int16)) (Stream, error) {
	devices, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: listing capture devices: %v", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no input device found", ErrDeviceUnavailable)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = Channels
	deviceCfg.SampleRate = SampleRate

	if s.device != "" {
		info, ok := findDevice(devices, s.device)
		if !ok {
			return nil, fmt.Errorf("%w: no input device matching %q", ErrDeviceUnavailable, s.device)
		}
		deviceCfg.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			onSamples(bytesToInt16(pSample, frameCount*Channels))
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing capture device: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: starting capture device: %v", ErrDeviceUnavailable, err)
	}

	return &malgoStream{device: device}, nil
}

// DeviceNames lists the available capture devices.
func (s *MalgoSource) DeviceNames() ([]string, error) {
	devices, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name())
	}
	return names, nil
}

// Close releases the audio context.
func (s *MalgoSource) Close() error {
	if s.ctx == nil {
		return nil
	}
	if err := s.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	s.ctx.Free()
	s.ctx = nil
	return nil
}

type malgoStream struct {
	once   sync.Once
	device *malgo.Device
}

func (m *malgoStream) Stop() error {
	m.once.Do(func() {
		m.device.Uninit()
	})
	return nil
}

func findDevice(devices []malgo.DeviceInfo, name string) (malgo.DeviceInfo, bool) {
	want := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name()), want) {
			return d, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// bytesToInt16 converts little-endian S16 bytes to samples.
func bytesToInt16(data []byte, sampleCount uint32) []int16 {
	n := int(sampleCount)
	if max := len(data) / 2; n > max {
		n = max
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
