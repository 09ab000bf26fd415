package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/ports"
)

type fakeStream struct {
	frames chan domain.AudioFrame
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan domain.AudioFrame, 16)}
}

func (s *fakeStream) Frames() <-chan domain.AudioFrame { return s.frames }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type fakeDevice struct {
	stream *fakeStream
	err    error
	opens  int
}

func (d *fakeDevice) Open(ctx context.Context, cfg ports.DeviceConfig) (ports.DeviceStream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	started   int
	appended  []domain.AudioFrame
	finalized int
	flushErr  error
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return nil
}

func (r *fakeRecorder) Append(frame domain.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, frame)
	return nil
}

func (r *fakeRecorder) Finalize(ctx context.Context) (domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized++
	if r.flushErr != nil {
		return domain.Container{}, r.flushErr
	}
	return domain.Container{Bytes: []byte{1, 2, 3}, MIMEType: "audio/wav"}, nil
}

func (r *fakeRecorder) appendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appended)
}

type fakeFactory struct {
	mu        sync.Mutex
	recorders []*fakeRecorder
}

func (f *fakeFactory) NewRecorder(cfg ports.DeviceConfig) (ports.ContainerRecorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &fakeRecorder{}
	f.recorders = append(f.recorders, rec)
	return rec, nil
}

func testConfig() ports.DeviceConfig {
	return ports.DeviceConfig{SampleRate: 24000, Channels: 1, FrameSize: 4}
}

func TestSessionRecordsOnlyWhileCapturing(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	factory := &fakeFactory{}

	var sinkMu sync.Mutex
	var sunk []domain.AudioFrame
	session := NewSession(device, factory, testConfig(), func(f domain.AudioFrame) {
		sinkMu.Lock()
		sunk = append(sunk, f)
		sinkMu.Unlock()
	}, zerolog.Nop())

	if err := session.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}

	stream.frames <- domain.AudioFrame{Samples: []int16{1, 1, 1, 1}, Offset: 0}
	waitFor(t, func() bool {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return len(sunk) == 1
	})

	if err := session.StartCapture(); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	stream.frames <- domain.AudioFrame{Samples: []int16{2, 2, 2, 2}, Offset: 4}
	rec := factory.recorders[0]
	waitFor(t, func() bool { return rec.appendedCount() == 1 })

	if err := session.StopCapture(); err != nil {
		t.Fatalf("stop capture: %v", err)
	}
	stream.frames <- domain.AudioFrame{Samples: []int16{3, 3, 3, 3}, Offset: 8}
	waitFor(t, func() bool {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return len(sunk) == 3
	})

	if got := rec.appendedCount(); got != 1 {
		t.Fatalf("recorder received %d frames, want 1", got)
	}
	session.Teardown()
}

func TestSessionFinalizeReturnsContainerAndRearms(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	factory := &fakeFactory{}
	session := NewSession(device, factory, testConfig(), nil, zerolog.Nop())

	if err := session.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := session.StartCapture(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.StopCapture(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	container, err := session.Finalize(context.Background())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if container.MIMEType != "audio/wav" {
		t.Fatalf("unexpected container: %+v", container)
	}
	if session.State() != domain.CaptureStateArmed {
		t.Fatalf("expected armed after finalize, got %s", session.State())
	}
	if len(factory.recorders) != 2 {
		t.Fatalf("expected a fresh recorder after finalize, got %d", len(factory.recorders))
	}
	session.Teardown()
}

func TestSessionFinalizeFlushFailureStillRearms(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	factory := &fakeFactory{}
	session := NewSession(device, factory, testConfig(), nil, zerolog.Nop())

	if err := session.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}
	factory.recorders[0].flushErr = domain.ErrEncodeDecode

	if err := session.StartCapture(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.StopCapture(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := session.Finalize(context.Background()); !errors.Is(err, domain.ErrEncodeDecode) {
		t.Fatalf("expected encode error, got %v", err)
	}
	if session.State() != domain.CaptureStateArmed {
		t.Fatalf("expected armed after failed finalize, got %s", session.State())
	}
	session.Teardown()
}

func TestSessionArmPropagatesDeviceError(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{err: domain.ErrDeviceAccess}
	session := NewSession(device, &fakeFactory{}, testConfig(), nil, zerolog.Nop())

	if err := session.Arm(context.Background()); !errors.Is(err, domain.ErrDeviceAccess) {
		t.Fatalf("expected device error, got %v", err)
	}
	if session.State() != domain.CaptureStateIdle {
		t.Fatalf("expected idle after failed arm, got %s", session.State())
	}
}

func TestSessionGuardsAndTeardownIdempotence(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	factory := &fakeFactory{}
	session := NewSession(device, factory, testConfig(), nil, zerolog.Nop())

	if err := session.StartCapture(); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
	if err := session.StopCapture(); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}

	if err := session.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}
	// Stop without a running segment is a logged no-op.
	if err := session.StopCapture(); err != nil {
		t.Fatalf("stop guard: %v", err)
	}
	if session.State() != domain.CaptureStateArmed {
		t.Fatalf("stop guard changed state to %s", session.State())
	}

	session.Teardown()
	session.Teardown()
	if _, err := session.TimeDomain(make([]int16, 4)); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed after teardown, got %v", err)
	}
}

func TestSessionTimeDomainTracksLatestFrame(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	session := NewSession(device, &fakeFactory{}, testConfig(), nil, zerolog.Nop())

	if err := session.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}

	stream.frames <- domain.AudioFrame{Samples: []int16{5, 6, 7, 8}, Offset: 0}
	buf := make([]int16, 4)
	waitFor(t, func() bool {
		n, err := session.TimeDomain(buf)
		return err == nil && n == 4 && buf[0] == 5 && buf[3] == 8
	})
	session.Teardown()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
