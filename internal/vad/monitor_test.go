package vad

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeLevelSource serves a settable loudness level until it is revoked.
type fakeLevelSource struct {
	mu      sync.Mutex
	level   int16
	revoked bool
}

func (s *fakeLevelSource) setLevel(level int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

func (s *fakeLevelSource) revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

func (s *fakeLevelSource) TimeDomain(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return 0, errors.New("device revoked")
	}
	for i := range buf {
		buf[i] = s.level
	}
	return len(buf), nil
}

// loud is well above the default byte-domain threshold of 20 (20*256=5120).
const loud = 16000

func newTestMonitor(source LevelSource, hold time.Duration) *Monitor {
	return NewMonitor(source, Config{
		Threshold:  20,
		Hold:       hold,
		Tick:       2 * time.Millisecond,
		BufferSize: 64,
	}, zerolog.Nop())
}

func waitDecision(t *testing.T, m *Monitor, want DecisionKind) {
	t.Helper()
	select {
	case d := <-m.Decisions():
		if d.Kind != want {
			t.Fatalf("unexpected decision: got %s, want %s", d.Kind, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestMonitorEmitsStartThenEndOncePerInterval(t *testing.T) {
	t.Parallel()

	source := &fakeLevelSource{}
	m := newTestMonitor(source, 30*time.Millisecond)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		m.Run(done)
		close(stopped)
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	source.setLevel(loud)
	waitDecision(t, m, SpeechStart)

	// Sustained loud input must not emit a second start.
	time.Sleep(20 * time.Millisecond)
	select {
	case d := <-m.Decisions():
		t.Fatalf("unexpected decision during sustained speech: %s", d.Kind)
	default:
	}

	source.setLevel(0)
	waitDecision(t, m, SpeechEnd)

	// Silence continues: end must fire exactly once per armed interval.
	time.Sleep(60 * time.Millisecond)
	select {
	case d := <-m.Decisions():
		t.Fatalf("unexpected extra decision: %s", d.Kind)
	default:
	}
}

func TestMonitorLoudTicksReArmSilenceTimer(t *testing.T) {
	t.Parallel()

	source := &fakeLevelSource{}
	m := newTestMonitor(source, 50*time.Millisecond)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		m.Run(done)
		close(stopped)
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	source.setLevel(loud)
	waitDecision(t, m, SpeechStart)

	// Brief dip shorter than the hold: no end decision.
	source.setLevel(0)
	time.Sleep(20 * time.Millisecond)
	source.setLevel(loud)
	time.Sleep(20 * time.Millisecond)
	select {
	case d := <-m.Decisions():
		t.Fatalf("end fired before hold elapsed: %s", d.Kind)
	default:
	}

	source.setLevel(0)
	waitDecision(t, m, SpeechEnd)
}

func TestMonitorStopsCleanlyWhenSourceRevoked(t *testing.T) {
	t.Parallel()

	source := &fakeLevelSource{}
	m := newTestMonitor(source, 30*time.Millisecond)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		m.Run(done)
		close(stopped)
	}()
	defer close(done)

	source.revoke()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after source revocation")
	}
}

func TestMonitorIsRestartable(t *testing.T) {
	t.Parallel()

	source := &fakeLevelSource{}
	m := newTestMonitor(source, 30*time.Millisecond)

	for i := 0; i < 2; i++ {
		done := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			m.Run(done)
			close(stopped)
		}()

		source.setLevel(loud)
		waitDecision(t, m, SpeechStart)
		source.setLevel(0)
		waitDecision(t, m, SpeechEnd)

		close(done)
		<-stopped
	}
}
