package audio

import (
	"sync"

	"parley/internal/domain"
)

// trackQueue orders synthesized-audio tracks for playback and tracks how
// far into the head track playback has progressed. Deltas for different
// tracks may arrive interleaved; each track keeps its own buffer so
// out-of-order delivery across track ids cannot corrupt another stream.
type trackQueue struct {
	mu     sync.Mutex
	tracks []*trackBuf
}

type trackBuf struct {
	id   string
	data []byte
	read int
}

// append adds PCM bytes to the named track, creating it at the tail when
// it is not queued yet.
func (q *trackQueue) append(trackID string, pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tracks {
		if t.id == trackID {
			t.data = append(t.data, pcm...)
			return
		}
	}
	q.tracks = append(q.tracks, &trackBuf{id: trackID, data: append([]byte(nil), pcm...)})
}

// Read feeds the playback device. When no track data is buffered it emits
// silence so the device stays fed; silence does not advance any offset.
func (q *trackQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Drop exhausted head tracks once a successor has data.
	for len(q.tracks) > 1 && q.tracks[0].read >= len(q.tracks[0].data) {
		q.tracks = q.tracks[1:]
	}

	if len(q.tracks) > 0 {
		head := q.tracks[0]
		if head.read < len(head.data) {
			n := copy(p, head.data[head.read:])
			head.read += n
			return n, nil
		}
	}

	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// interrupt clears all queued audio and reports the track being played and
// the sample offset reached, or nil when nothing audible remains. A track
// that played out in full is not interruptible.
func (q *trackQueue) interrupt() *domain.PlaybackTrack {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tracks) > 0 && q.tracks[0].read >= len(q.tracks[0].data) {
		q.tracks = q.tracks[1:]
	}
	if len(q.tracks) == 0 {
		return nil
	}
	head := q.tracks[0]
	q.tracks = nil
	return &domain.PlaybackTrack{TrackID: head.id, SampleOffset: int64(head.read / 2)}
}

// buffered reports whether any track still has unplayed data.
func (q *trackQueue) buffered() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tracks {
		if t.read < len(t.data) {
			return true
		}
	}
	return false
}
