package miniaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate = 24000
	channels          = 1
)

// ErrAccessDenied is returned when the OS refuses the capture device.
var ErrAccessDenied = errors.New("audio device access denied")

// Device owns the malgo context shared by capture and playback.
type Device struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
}

func NewDevice(sampleRate int) (*Device, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Trace().Str("component", "malgo").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Device{ctx: ctx, sampleRate: uint32(sampleRate)}, nil
}

func (d *Device) Close() {
	if d == nil || d.ctx == nil {
		return
	}
	_ = d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
}

// Capture is a running microphone stream.
type Capture struct {
	mu     sync.Mutex
	device *malgo.Device
}

// StartCapture opens the default input device and streams PCM16 mono frames to onAudio.
func (d *Device) StartCapture(onAudio func(pcm []byte)) (*Capture, error) {
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = d.sampleRate
	config.Capture.Format = format
	config.Capture.Channels = channels
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency

	device, err := malgo.InitDevice(d.ctx.Context, config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n || onAudio == nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, input[:n])
			onAudio(frame)
		},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("init capture device: %w", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classify(fmt.Errorf("start capture device: %w", err))
	}

	return &Capture{device: device}, nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	var err error
	if c.device.IsStarted() {
		err = c.device.Stop()
	}
	c.device.Uninit()
	c.device = nil
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

// Speaker plays queued PCM16 mono audio on the default output device.
type Speaker struct {
	mu      sync.Mutex
	device  *malgo.Device
	pending []byte
}

func (d *Device) NewSpeaker() (*Speaker, error) {
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	s := &Speaker{}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = d.sampleRate
	config.Playback.Format = format
	config.Playback.Channels = channels
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = d.sampleRate / 10
	config.Periods = 4

	device, err := malgo.InitDevice(d.ctx.Context, config, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			s.fill(output, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	s.device = device
	return s, nil
}

func (s *Speaker) fill(output []byte, need int) {
	if need > len(output) {
		need = len(output)
	}
	s.mu.Lock()
	n := copy(output[:need], s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	clear(output[n:need])
}

// Play queues pcm behind whatever is still playing.
func (s *Speaker) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return errors.New("playback device closed")
	}
	s.pending = append(s.pending, pcm...)
	return nil
}

// Clear drops queued audio, used when the customer barges in or the session ends.
func (s *Speaker) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *Speaker) Close() {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.pending = nil
	s.mu.Unlock()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
