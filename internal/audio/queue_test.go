package audio

import (
	"bytes"
	"testing"
)

func TestTrackQueueInterruptReportsHeadOffset(t *testing.T) {
	t.Parallel()

	var q trackQueue
	q.append("track-a", make([]byte, 200))

	buf := make([]byte, 100)
	if n, _ := q.Read(buf); n != 100 {
		t.Fatalf("unexpected read size: %d", n)
	}

	track := q.interrupt()
	if track == nil {
		t.Fatal("expected interrupted track")
	}
	if track.TrackID != "track-a" {
		t.Fatalf("unexpected track id: %s", track.TrackID)
	}
	if track.SampleOffset != 50 {
		t.Fatalf("unexpected sample offset: %d", track.SampleOffset)
	}
}

func TestTrackQueueInterruptWithoutPlaybackReturnsNil(t *testing.T) {
	t.Parallel()

	var q trackQueue
	if track := q.interrupt(); track != nil {
		t.Fatalf("expected nil, got %+v", track)
	}
}

func TestTrackQueueInterruptAfterFullPlayoutReturnsNil(t *testing.T) {
	t.Parallel()

	var q trackQueue
	q.append("track-a", []byte{1, 2, 3, 4})

	buf := make([]byte, 4)
	if n, _ := q.Read(buf); n != 4 {
		t.Fatalf("unexpected read size: %d", n)
	}
	if n, _ := q.Read(buf); n != 4 || !bytes.Equal(buf, []byte{0, 0, 0, 0}) {
		t.Fatalf("expected silence after playout: n=%d buf=%v", n, buf)
	}

	if track := q.interrupt(); track != nil {
		t.Fatalf("expected nil after full playout, got %+v", track)
	}
}

func TestTrackQueueInterruptAfterLateDeltaKeepsOffset(t *testing.T) {
	t.Parallel()

	var q trackQueue
	q.append("track-a", []byte{1, 2, 3, 4})

	buf := make([]byte, 4)
	if n, _ := q.Read(buf); n != 4 {
		t.Fatalf("unexpected read size: %d", n)
	}
	q.append("track-a", []byte{5, 6})

	track := q.interrupt()
	if track == nil {
		t.Fatal("expected interrupted track")
	}
	if track.TrackID != "track-a" || track.SampleOffset != 2 {
		t.Fatalf("unexpected track: %+v", track)
	}
}

func TestTrackQueueInterleavedTracksStayIsolated(t *testing.T) {
	t.Parallel()

	var q trackQueue
	q.append("track-a", []byte{1, 1, 1, 1})
	q.append("track-b", []byte{2, 2})
	q.append("track-a", []byte{3, 3})
	q.append("track-b", []byte{4, 4})

	buf := make([]byte, 6)
	if n, _ := q.Read(buf); n != 6 || !bytes.Equal(buf, []byte{1, 1, 1, 1, 3, 3}) {
		t.Fatalf("unexpected head track data: n=%d buf=%v", n, buf)
	}
	if n, _ := q.Read(buf[:4]); n != 4 || !bytes.Equal(buf[:4], []byte{2, 2, 4, 4}) {
		t.Fatalf("unexpected successor track data: n=%d buf=%v", n, buf[:4])
	}
}

func TestTrackQueueEmitsSilenceWhenDrained(t *testing.T) {
	t.Parallel()

	var q trackQueue
	buf := []byte{9, 9, 9, 9}
	n, err := q.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("unexpected read: n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf, []byte{0, 0, 0, 0}) {
		t.Fatalf("expected silence, got %v", buf)
	}
	if q.buffered() {
		t.Fatal("queue should report nothing buffered")
	}
}
