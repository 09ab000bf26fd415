package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"parley/internal/domain"
)

// Player is the streaming playback sink for synthesized audio. The speaker
// device is opened lazily on first append so a headless boot does not fail.
type Player struct {
	sampleRate int
	log        zerolog.Logger

	queue trackQueue

	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	initErr error
}

func NewPlayer(sampleRate int, log zerolog.Logger) *Player {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Player{sampleRate: sampleRate, log: log}
}

// Append queues PCM samples for the given track. Tracks play in first-seen
// order; deltas for a track that is not at the head accumulate untouched.
func (p *Player) Append(trackID string, samples []int16) {
	if trackID == "" || len(samples) == 0 {
		return
	}
	if err := p.ensure(); err != nil {
		p.log.Warn().Err(err).Msg("playback unavailable, dropping synthesized audio")
		return
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	p.queue.append(trackID, pcm)
}

// Interrupt stops playback of the current track and reports how far it got.
// Safe to call when nothing is playing: returns nil and does nothing.
func (p *Player) Interrupt() *domain.PlaybackTrack {
	return p.queue.interrupt()
}

// Close releases the speaker device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		if err := p.player.Close(); err != nil {
			return fmt.Errorf("close player: %w", err)
		}
		p.player = nil
	}
	return nil
}

func (p *Player) ensure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		return nil
	}
	if p.initErr != nil {
		return p.initErr
	}

	if p.otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   0,
		})
		if err != nil {
			p.initErr = fmt.Errorf("init speaker: %w", err)
			return p.initErr
		}
		<-ready
		p.otoCtx = ctx
	}

	p.player = p.otoCtx.NewPlayer(&p.queue)
	p.player.Play()
	p.log.Info().Int("sampleRate", p.sampleRate).Msg("playback sink opened")
	return nil
}
