package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/ports"
	"parley/internal/wav"
)

type fakeClient struct {
	mu        sync.Mutex
	connected bool

	events chan domain.ServerEvent

	appended  []domain.AudioFrame
	responses int
	cancels   []domain.PlaybackTrack
	deleted   []string
	texts     []string
	session   *ports.SessionUpdate
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan domain.ServerEvent, 64)}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) UpdateSession(cfg ports.SessionUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &cfg
	return nil
}

func (c *fakeClient) AppendAudio(frame domain.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended = append(c.appended, frame)
	return nil
}

func (c *fakeClient) CreateUserMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeClient) RequestResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses++
	return nil
}

func (c *fakeClient) CancelResponse(trackID string, sampleOffset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, domain.PlaybackTrack{TrackID: trackID, SampleOffset: sampleOffset})
	return nil
}

func (c *fakeClient) DeleteItem(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeClient) Events() <-chan domain.ServerEvent { return c.events }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *fakeClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}

type fakePlayer struct {
	mu       sync.Mutex
	appended map[string][]int16
	track    *domain.PlaybackTrack
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{appended: make(map[string][]int16)}
}

func (p *fakePlayer) Append(trackID string, samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appended[trackID] = append(p.appended[trackID], samples...)
}

func (p *fakePlayer) Interrupt() *domain.PlaybackTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	track := p.track
	p.track = nil
	return track
}

func (p *fakePlayer) Close() error { return nil }

func newTestBridge(t *testing.T, client ports.RealtimeClient, player ports.StreamPlayer) *Bridge {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewBridge(client, player, wav.NewCodec(1), m, 24000, nil, nil, zerolog.Nop())
}

func serverEvent(t *testing.T, eventType string, payload any) domain.ServerEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.ServerEvent{Type: eventType, Payload: data}
}

func TestBridgeInterruptPairsCancelWithPlaybackOffset(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	player := newFakePlayer()
	player.track = &domain.PlaybackTrack{TrackID: "item-7", SampleOffset: 4800}
	bridge := newTestBridge(t, client, player)

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	bridge.Interrupt()

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.cancels) != 1 {
		t.Fatalf("expected one cancel, got %d", len(client.cancels))
	}
	if client.cancels[0].TrackID != "item-7" || client.cancels[0].SampleOffset != 4800 {
		t.Fatalf("unexpected cancel: %+v", client.cancels[0])
	}
}

func TestBridgeInterruptWithoutPlaybackSendsNoCancel(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := newTestBridge(t, client, newFakePlayer())

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	bridge.Interrupt()

	if got := client.cancelCount(); got != 0 {
		t.Fatalf("expected no cancels, got %d", got)
	}
}

func TestBridgeAudioDeltaFeedsMirrorAndPlayer(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	player := newFakePlayer()
	bridge := newTestBridge(t, client, player)

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.events <- serverEvent(t, typeItemCreated, itemCreatedPayload{
		Item: serverItem{ID: "item-1", Role: "assistant"},
	})
	client.events <- serverEvent(t, typeAudioDelta, map[string]string{
		"item_id": "item-1",
		"delta":   encodePCM16([]int16{10, 20, 30}),
	})
	client.events <- serverEvent(t, typeAudioTranscriptDelta, map[string]string{
		"item_id": "item-1",
		"delta":   "hello",
	})

	waitFor(t, func() bool {
		items := bridge.Items()
		return len(items) == 1 &&
			len(items[0].Formatted.Audio) == 3 &&
			items[0].Formatted.Transcript == "hello"
	})

	player.mu.Lock()
	defer player.mu.Unlock()
	if got := player.appended["item-1"]; len(got) != 3 || got[0] != 10 {
		t.Fatalf("player did not receive delta samples: %v", got)
	}
}

func TestBridgeCompletedItemGetsAudioFile(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := newTestBridge(t, client, newFakePlayer())

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.events <- serverEvent(t, typeAudioDelta, map[string]string{
		"item_id": "item-2",
		"delta":   encodePCM16([]int16{1, 2, 3, 4}),
	})
	client.events <- serverEvent(t, typeOutputItemDone, outputItemDonePayload{
		Item: serverItem{ID: "item-2", Status: "completed"},
	})

	waitFor(t, func() bool {
		items := bridge.Items()
		return len(items) == 1 &&
			items[0].Status == domain.ItemCompleted &&
			items[0].Formatted.File != nil &&
			items[0].Formatted.File.MIMEType == "audio/wav"
	})

	// A late delta for the completed item is dropped.
	client.events <- serverEvent(t, typeAudioDelta, map[string]string{
		"item_id": "item-2",
		"delta":   encodePCM16([]int16{9, 9}),
	})
	time.Sleep(20 * time.Millisecond)
	if items := bridge.Items(); len(items[0].Formatted.Audio) != 4 {
		t.Fatalf("completed item mutated: %d samples", len(items[0].Formatted.Audio))
	}
}

func TestBridgeRemoteSpeechStartTriggersInterrupt(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	player := newFakePlayer()
	player.track = &domain.PlaybackTrack{TrackID: "item-9", SampleOffset: 100}
	bridge := newTestBridge(t, client, player)

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.events <- domain.ServerEvent{Type: typeSpeechStarted, Payload: json.RawMessage(`{}`)}
	waitFor(t, func() bool { return client.cancelCount() == 1 })
}

func TestBridgeInterleavedItemsStaySeparate(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := newTestBridge(t, client, newFakePlayer())

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.events <- serverEvent(t, typeAudioTranscriptDelta, map[string]string{"item_id": "a", "delta": "one "})
	client.events <- serverEvent(t, typeAudioTranscriptDelta, map[string]string{"item_id": "b", "delta": "two "})
	client.events <- serverEvent(t, typeAudioTranscriptDelta, map[string]string{"item_id": "a", "delta": "three"})

	waitFor(t, func() bool {
		items := bridge.Items()
		return len(items) == 2 &&
			items[0].ID == "a" && items[0].Formatted.Transcript == "one three" &&
			items[1].ID == "b" && items[1].Formatted.Transcript == "two "
	})
}

func TestBridgeDropsFramesWhileDisconnected(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := newTestBridge(t, client, newFakePlayer())

	bridge.SendFrame(domain.AudioFrame{Samples: []int16{1, 2}, Offset: 0})

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.appended) != 0 {
		t.Fatalf("expected frame to be dropped, got %d", len(client.appended))
	}
}

func TestBridgeTranscriptionCompletedSetsUserTranscript(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := newTestBridge(t, client, newFakePlayer())

	if err := bridge.Connect(context.Background(), ports.SessionUpdate{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.events <- serverEvent(t, typeItemCreated, itemCreatedPayload{
		Item: serverItem{ID: "user-1", Role: "user"},
	})
	client.events <- serverEvent(t, typeTranscriptionCompleted, map[string]string{
		"item_id":    "user-1",
		"transcript": "how about tomorrow",
	})

	waitFor(t, func() bool {
		return bridge.LastUserTranscript() == "how about tomorrow"
	})
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
