// Package vad decides from the live audio signal whether the user is
// currently speaking.
package vad

import (
	"math"
	"time"

	"github.com/rs/zerolog"
)

// DecisionKind is a binary speech-activity decision.
type DecisionKind int

const (
	SpeechStart DecisionKind = iota
	SpeechEnd
)

func (k DecisionKind) String() string {
	if k == SpeechStart {
		return "speech_start"
	}
	return "speech_end"
}

// Decision is one emitted speech-activity transition.
type Decision struct {
	Kind DecisionKind
	At   time.Time
}

// LevelSource supplies the current time-domain sample buffer. It returns an
// error once the underlying device has been revoked, which stops polling
// cleanly.
type LevelSource interface {
	TimeDomain(buf []int16) (int, error)
}

// Config controls monitor sensitivity and cadence.
type Config struct {
	// Threshold is the RMS loudness threshold on the 0..128 byte-domain
	// scale (int16 samples are scaled down by 256 before comparison).
	Threshold float64
	// Hold is how long the signal must stay quiet after the last loud
	// sample before speech end fires.
	Hold time.Duration
	// Tick is the polling cadence.
	Tick time.Duration
	// BufferSize is the number of samples read per poll.
	BufferSize int
}

// Monitor polls a level source and emits speech start/end decisions with
// hysteresis. It is restartable: Run may be called again after it returns.
type Monitor struct {
	source LevelSource
	cfg    Config
	log    zerolog.Logger

	decisions chan Decision
}

// NewMonitor creates a monitor over the given level source.
func NewMonitor(source LevelSource, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 20
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 2 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 16 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 2048
	}
	return &Monitor{
		source:    source,
		cfg:       cfg,
		log:       log,
		decisions: make(chan Decision, 8),
	}
}

// Decisions returns the stream of speech-activity transitions.
func (m *Monitor) Decisions() <-chan Decision {
	return m.decisions
}

// Run polls the level source until the done channel is closed or the source
// becomes unavailable. The polling loop is not paused by the speech/silence
// decision itself. Run does not close the decisions channel, so the monitor
// can be restarted.
func (m *Monitor) Run(done <-chan struct{}) {
	buf := make([]int16, m.cfg.BufferSize)
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	active := false
	var quietDeadline time.Time

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			n, err := m.source.TimeDomain(buf)
			if err != nil {
				m.log.Debug().Err(err).Msg("level source unavailable, stopping vad polling")
				return
			}
			if n == 0 {
				continue
			}

			if rms(buf[:n]) > m.cfg.Threshold {
				if !active {
					active = true
					m.emit(Decision{Kind: SpeechStart, At: now})
				}
				// Every loud tick re-arms the silence timer.
				quietDeadline = now.Add(m.cfg.Hold)
				continue
			}

			if active && !now.Before(quietDeadline) {
				active = false
				m.emit(Decision{Kind: SpeechEnd, At: now})
			}
		}
	}
}

func (m *Monitor) emit(d Decision) {
	select {
	case m.decisions <- d:
	default:
		m.log.Warn().Str("kind", d.Kind.String()).Msg("vad decision dropped, consumer not keeping up")
	}
}

// rms computes root-mean-square loudness on the byte-domain 0..128 scale.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 256
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
