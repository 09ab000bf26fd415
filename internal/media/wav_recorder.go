// Package media assembles recorder chunks into finalized container blobs:
// a waveform container for audio-only sessions and an ffmpeg-muxed webm
// container when the camera is enabled.
package media

import (
	"context"
	"fmt"
	"sync"

	"parley/internal/domain"
	"parley/internal/ports"
)

// WAVRecorder buffers PCM frames for one speech segment and finalizes them
// into a canonical waveform container through the codec collaborator.
type WAVRecorder struct {
	codec      ports.Codec
	sampleRate int

	mu      sync.Mutex
	samples []int16
}

func NewWAVRecorder(codec ports.Codec, sampleRate int) *WAVRecorder {
	return &WAVRecorder{codec: codec, sampleRate: sampleRate}
}

func (r *WAVRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
	return nil
}

func (r *WAVRecorder) Append(frame domain.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, frame.Samples...)
	return nil
}

// Finalize flushes buffered samples into a single WAV blob. The chunk
// buffer is cleared immediately afterwards to bound memory.
func (r *WAVRecorder) Finalize(ctx context.Context) (domain.Container, error) {
	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	data, err := r.codec.Encode(samples, r.sampleRate)
	if err != nil {
		return domain.Container{}, fmt.Errorf("finalize waveform container: %w", err)
	}
	return domain.Container{Bytes: data, MIMEType: "audio/wav"}, nil
}
