// Package capture owns the live media capture session: the device stream,
// the per-segment recorder and the level window the speech monitor polls.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/ports"
)

// ErrNotArmed is returned when a capture transition is requested before the
// device has been acquired.
var ErrNotArmed = errors.New("capture session not armed")

// Session manages one armed capture pipeline. Frames from the device are
// fanned out three ways: into the level window for speech monitoring, into
// the active recorder while capturing, and to the frame sink for streaming.
type Session struct {
	device  ports.AudioDevice
	factory ports.RecorderFactory
	cfg     ports.DeviceConfig
	onFrame func(domain.AudioFrame)
	log     zerolog.Logger

	mu       sync.Mutex
	state    domain.CaptureState
	stream   ports.DeviceStream
	recorder ports.ContainerRecorder
	window   []int16
	torn     bool

	pumpDone chan struct{}

	teardownOnce sync.Once
}

// NewSession builds an idle capture session. onFrame receives every device
// frame once the session is armed; it may be nil.
func NewSession(device ports.AudioDevice, factory ports.RecorderFactory, cfg ports.DeviceConfig, onFrame func(domain.AudioFrame), log zerolog.Logger) *Session {
	return &Session{
		device:  device,
		factory: factory,
		cfg:     cfg,
		onFrame: onFrame,
		log:     log,
		state:   domain.CaptureStateIdle,
	}
}

// State reports the current capture state.
func (s *Session) State() domain.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm acquires the capture device and prepares the first recorder. Device
// failures are terminal for the session and wrap domain.ErrDeviceAccess.
func (s *Session) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return ErrNotArmed
	}
	if s.state != domain.CaptureStateIdle {
		s.log.Warn().Str("state", string(s.state)).Msg("arm requested on non-idle capture session")
		return nil
	}

	stream, err := s.device.Open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("arm capture: %w", err)
	}
	recorder, err := s.factory.NewRecorder(s.cfg)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("arm capture: %w", err)
	}

	s.stream = stream
	s.recorder = recorder
	s.state = domain.CaptureStateArmed
	s.pumpDone = make(chan struct{})
	go s.pump(stream, s.pumpDone)

	s.log.Info().Bool("video", s.cfg.Video).Msg("capture session armed")
	return nil
}

// StartCapture begins recording a speech segment. A start while already
// capturing is ignored with a warning.
func (s *Session) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.CaptureStateIdle:
		return ErrNotArmed
	case domain.CaptureStateCapturing:
		s.log.Warn().Msg("capture start requested while already capturing")
		return nil
	case domain.CaptureStateFinalizing:
		s.log.Warn().Msg("capture start requested while finalizing")
		return nil
	}

	if err := s.recorder.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	s.state = domain.CaptureStateCapturing
	s.log.Debug().Msg("speech segment capture started")
	return nil
}

// StopCapture ends the active speech segment. A stop without an active
// segment is ignored with a warning.
func (s *Session) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.CaptureStateIdle {
		return ErrNotArmed
	}
	if s.state != domain.CaptureStateCapturing {
		s.log.Warn().Str("state", string(s.state)).Msg("capture stop requested without active segment")
		return nil
	}
	s.state = domain.CaptureStateFinalizing
	s.log.Debug().Msg("speech segment capture stopped")
	return nil
}

// Finalize flushes the stopped segment into a container and re-arms the
// session with a fresh recorder. On flush failure the session still returns
// to armed so the next segment is unaffected.
func (s *Session) Finalize(ctx context.Context) (domain.Container, error) {
	s.mu.Lock()
	if s.state == domain.CaptureStateIdle {
		s.mu.Unlock()
		return domain.Container{}, ErrNotArmed
	}
	if s.state != domain.CaptureStateFinalizing {
		s.mu.Unlock()
		return domain.Container{}, fmt.Errorf("finalize requested in state %s", s.state)
	}
	recorder := s.recorder
	s.mu.Unlock()

	container, flushErr := recorder.Finalize(ctx)

	next, err := s.factory.NewRecorder(s.cfg)

	s.mu.Lock()
	if !s.torn {
		if err == nil {
			s.recorder = next
		}
		s.state = domain.CaptureStateArmed
	}
	s.mu.Unlock()

	if flushErr != nil {
		return domain.Container{}, fmt.Errorf("finalize segment: %w", flushErr)
	}
	if err != nil {
		return container, fmt.Errorf("prepare next recorder: %w", err)
	}
	return container, nil
}

// Teardown releases the device and stops the frame pump. Idempotent.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.torn = true
		s.state = domain.CaptureStateIdle
		stream := s.stream
		s.stream = nil
		s.recorder = nil
		done := s.pumpDone
		s.mu.Unlock()

		if stream != nil {
			_ = stream.Close()
		}
		if done != nil {
			<-done
		}
		s.log.Info().Msg("capture session torn down")
	})
}

// TimeDomain copies the most recent device frame into buf for loudness
// measurement. It errors once the session is torn down so polling stops.
func (s *Session) TimeDomain(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn || s.state == domain.CaptureStateIdle {
		return 0, ErrNotArmed
	}
	n := copy(buf, s.window)
	return n, nil
}

func (s *Session) pump(stream ports.DeviceStream, done chan struct{}) {
	defer close(done)
	for frame := range stream.Frames() {
		s.mu.Lock()
		s.window = append(s.window[:0], frame.Samples...)
		capturing := s.state == domain.CaptureStateCapturing
		recorder := s.recorder
		s.mu.Unlock()

		if capturing && recorder != nil {
			if err := recorder.Append(frame); err != nil {
				s.log.Warn().Err(err).Int64("offset", frame.Offset).Msg("recorder rejected frame")
			}
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}
