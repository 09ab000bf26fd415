package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/ports"
)

// Bridge ties the wire client, the conversation mirror and the playback
// sink together. It streams captured frames out, applies inbound deltas to
// the mirror, feeds synthesized audio to the player and pairs every
// interruption with a cancel so the remote transcript matches what the
// user actually heard.
type Bridge struct {
	client     ports.RealtimeClient
	player     ports.StreamPlayer
	codec      ports.Codec
	metrics    *metrics.Metrics
	sampleRate int
	log        zerolog.Logger

	conv *conversation

	onItems func([]domain.ConversationItem)
	onEvent func(domain.RealtimeEvent)

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewBridge wires the bridge. onItems and onEvent may be nil.
func NewBridge(
	client ports.RealtimeClient,
	player ports.StreamPlayer,
	codec ports.Codec,
	m *metrics.Metrics,
	sampleRate int,
	onItems func([]domain.ConversationItem),
	onEvent func(domain.RealtimeEvent),
	log zerolog.Logger,
) *Bridge {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Bridge{
		client:     client,
		player:     player,
		codec:      codec,
		metrics:    m,
		sampleRate: sampleRate,
		log:        log,
		conv:       newConversation(),
		onItems:    onItems,
		onEvent:    onEvent,
	}
}

// Connect establishes the realtime link, pushes the session configuration
// and starts consuming server events. Idempotent while running.
func (b *Bridge) Connect(ctx context.Context, session ports.SessionUpdate) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.client.Connect(ctx); err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}
	if err := b.client.UpdateSession(session); err != nil {
		_ = b.client.Close()
		return fmt.Errorf("bridge session update: %w", err)
	}
	b.record(domain.EventSourceClient, typeSessionUpdate, nil)

	b.mu.Lock()
	b.running = true
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go b.eventLoop(done)
	return nil
}

// UpdateSession re-pushes session configuration mid-session, used when the
// turn-detection mode changes.
func (b *Bridge) UpdateSession(session ports.SessionUpdate) error {
	if err := b.client.UpdateSession(session); err != nil {
		return err
	}
	b.record(domain.EventSourceClient, typeSessionUpdate, nil)
	return nil
}

// IsConnected reports whether the wire link is up.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

// SendFrame streams one captured frame to the backend. Frames are dropped
// with a warning while the link is down so capture never blocks on the
// network.
func (b *Bridge) SendFrame(frame domain.AudioFrame) {
	if !b.client.IsConnected() {
		b.log.Warn().Int64("offset", frame.Offset).Msg("bridge disconnected, dropping frame")
		return
	}
	if err := b.client.AppendAudio(frame); err != nil {
		b.log.Warn().Err(err).Msg("failed to stream frame")
		return
	}
	b.metrics.FramesForwarded.Inc()
	b.metrics.AudioBytesIn.Add(float64(len(frame.Samples) * 2))
	b.record(domain.EventSourceClient, typeAudioAppend, nil)
}

// SendUserText injects a typed user message and requests a model turn.
func (b *Bridge) SendUserText(text string) error {
	if err := b.client.CreateUserMessage(text); err != nil {
		return err
	}
	b.record(domain.EventSourceClient, typeItemCreate, nil)
	if err := b.client.RequestResponse(); err != nil {
		return err
	}
	b.record(domain.EventSourceClient, typeResponseCreate, nil)
	return nil
}

// RequestResponse commits buffered input and asks for a model turn.
func (b *Bridge) RequestResponse() error {
	if err := b.client.RequestResponse(); err != nil {
		return err
	}
	b.record(domain.EventSourceClient, typeResponseCreate, nil)
	return nil
}

// Interrupt stops local playback and, when something was actually playing,
// cancels the in-flight response truncated at the heard offset. Safe to
// call at any time.
func (b *Bridge) Interrupt() {
	track := b.player.Interrupt()
	if track == nil {
		return
	}
	if err := b.client.CancelResponse(track.TrackID, track.SampleOffset); err != nil {
		b.log.Warn().Err(err).Str("trackId", track.TrackID).Msg("failed to cancel interrupted response")
		return
	}
	b.metrics.Interrupts.Inc()
	b.record(domain.EventSourceClient, typeResponseCancel, rawMessage(track))
	b.log.Debug().Str("trackId", track.TrackID).Int64("sampleOffset", track.SampleOffset).Msg("playback interrupted, response cancelled")
}

// DeleteItem removes an item locally and remotely.
func (b *Bridge) DeleteItem(id string) error {
	if err := b.client.DeleteItem(id); err != nil {
		return err
	}
	b.record(domain.EventSourceClient, typeItemDelete, nil)
	b.conv.delete(id)
	b.emitItems()
	return nil
}

// Items returns the current conversation mirror.
func (b *Bridge) Items() []domain.ConversationItem {
	return b.conv.snapshot()
}

// LastUserTranscript returns the transcript of the latest user turn.
func (b *Bridge) LastUserTranscript() string {
	return b.conv.lastUserTranscript()
}

// FirstTranscript returns the earliest transcript of the conversation.
func (b *Bridge) FirstTranscript() string {
	return b.conv.firstTranscript()
}

// Reset stops the event loop and clears the conversation mirror. The wire
// client is closed; a later Connect starts fresh.
func (b *Bridge) Reset() {
	b.mu.Lock()
	if b.running {
		close(b.done)
		b.running = false
	}
	b.mu.Unlock()

	b.Interrupt()
	_ = b.client.Close()
	b.conv.reset()
}

func (b *Bridge) eventLoop(done chan struct{}) {
	events := b.client.Events()
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev domain.ServerEvent) {
	b.record(domain.EventSourceServer, ev.Type, ev.Payload)

	switch ev.Type {
	case typeItemCreated:
		var payload itemCreatedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Item.ID == "" {
			return
		}
		b.conv.upsert(payload.Item.ID, domain.Role(payload.Item.Role))
		b.emitItems()

	case typeAudioDelta:
		var payload deltaPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ItemID == "" {
			return
		}
		samples, err := decodePCM16(payload.Delta)
		if err != nil {
			b.log.Warn().Err(err).Str("itemId", payload.ItemID).Msg("undecodable audio delta")
			return
		}
		b.conv.appendAudio(payload.ItemID, samples)
		b.player.Append(payload.ItemID, samples)
		b.metrics.AudioBytesOut.Add(float64(len(samples) * 2))
		b.emitItems()

	case typeAudioTranscriptDelta:
		var payload deltaPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ItemID == "" {
			return
		}
		b.conv.appendTranscript(payload.ItemID, payload.Delta)
		b.emitItems()

	case typeTextDelta:
		var payload deltaPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ItemID == "" {
			return
		}
		b.conv.appendText(payload.ItemID, payload.Delta)
		b.emitItems()

	case typeTranscriptionCompleted:
		var payload transcriptionCompletedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ItemID == "" {
			return
		}
		b.conv.setTranscript(payload.ItemID, payload.Transcript)
		b.emitItems()

	case typeOutputItemDone:
		var payload outputItemDonePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Item.ID == "" {
			return
		}
		b.completeItem(payload.Item.ID)
		b.emitItems()

	case typeSpeechStarted:
		// Remote VAD heard the user: stop talking over them.
		b.Interrupt()

	case typeServerError:
		var payload serverErrorPayload
		_ = json.Unmarshal(ev.Payload, &payload)
		b.log.Error().
			Str("code", payload.Error.Code).
			Str("message", payload.Error.Message).
			Msg("realtime backend reported an error")
	}
}

// completeItem freezes the item and attaches a playable file decoded from
// its accumulated audio.
func (b *Bridge) completeItem(id string) {
	item := b.conv.complete(id)
	if item == nil {
		return
	}
	if len(item.Formatted.Audio) == 0 {
		return
	}
	data, err := b.codec.Encode(item.Formatted.Audio, b.sampleRate)
	if err != nil {
		b.log.Warn().Err(err).Str("itemId", id).Msg("failed to encode item audio file")
		return
	}
	b.conv.attachFile(id, &domain.AudioFile{Bytes: data, MIMEType: "audio/wav"})
}

func (b *Bridge) emitItems() {
	if b.onItems != nil {
		b.onItems(b.conv.snapshot())
	}
}

func (b *Bridge) record(source domain.EventSource, eventType string, payload json.RawMessage) {
	b.metrics.EventsReceived.WithLabelValues(string(source)).Inc()
	if b.onEvent == nil {
		return
	}
	b.onEvent(domain.RealtimeEvent{
		Time:    time.Now(),
		Source:  source,
		Type:    eventType,
		Payload: payload,
		Count:   1,
	})
}
