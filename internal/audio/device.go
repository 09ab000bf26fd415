// Package audio binds the engine to real input/output hardware: a malgo
// microphone capture stream and an oto playback sink.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/ports"
)

// Device opens microphone capture streams through miniaudio.
type Device struct {
	log zerolog.Logger
}

func NewDevice(log zerolog.Logger) *Device {
	return &Device{log: log}
}

// Open acquires the capture device and starts emitting fixed-size frames.
// Failures wrap domain.ErrDeviceAccess: they are terminal for the session.
func (d *Device) Open(ctx context.Context, cfg ports.DeviceConfig) (ports.DeviceStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSize < 256 {
		cfg.FrameSize = 2048
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", domain.ErrDeviceAccess, err)
	}

	stream := &deviceStream{
		mctx:      mctx,
		frameSize: cfg.FrameSize,
		frames:    make(chan domain.AudioFrame, 16),
		log:       d.log,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.push(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init capture device: %v", domain.ErrDeviceAccess, err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start capture device: %v", domain.ErrDeviceAccess, err)
	}

	d.log.Info().Int("sampleRate", cfg.SampleRate).Int("frameSize", cfg.FrameSize).Msg("capture device opened")
	return stream, nil
}

type deviceStream struct {
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	frameSize int
	frames    chan domain.AudioFrame
	log       zerolog.Logger

	mu      sync.Mutex
	pending []int16
	offset  int64
	closed  bool

	closeOnce sync.Once
}

func (s *deviceStream) Frames() <-chan domain.AudioFrame {
	return s.frames
}

// push converts raw little-endian PCM from the device callback into
// fixed-size frames with monotonically increasing sample offsets.
func (s *deviceStream) push(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for i := 0; i+1 < len(input); i += 2 {
		s.pending = append(s.pending, int16(binary.LittleEndian.Uint16(input[i:])))
	}

	for len(s.pending) >= s.frameSize {
		samples := make([]int16, s.frameSize)
		copy(samples, s.pending[:s.frameSize])
		s.pending = s.pending[s.frameSize:]

		frame := domain.AudioFrame{Samples: samples, Offset: s.offset}
		s.offset += int64(s.frameSize)

		select {
		case s.frames <- frame:
		default:
			s.log.Warn().Int64("offset", frame.Offset).Msg("capture frame dropped, consumer not keeping up")
		}
	}
}

func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		if s.mctx != nil {
			_ = s.mctx.Uninit()
			s.mctx.Free()
		}
		close(s.frames)
		s.log.Debug().Msg("capture device closed")
	})
	return nil
}
