// Package realtime implements the duplex link to the conversational
// backend: the websocket wire client, the local conversation mirror and the
// bridge that keeps both in sync with capture and playback.
package realtime

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
)

// Client event types.
const (
	typeSessionUpdate     = "session.update"
	typeAudioAppend       = "input_audio_buffer.append"
	typeAudioCommit       = "input_audio_buffer.commit"
	typeResponseCreate    = "response.create"
	typeResponseCancel    = "response.cancel"
	typeItemCreate        = "conversation.item.create"
	typeItemTruncate      = "conversation.item.truncate"
	typeItemDelete        = "conversation.item.delete"
)

// Server event types.
const (
	typeItemCreated            = "conversation.item.created"
	typeAudioDelta             = "response.audio.delta"
	typeAudioTranscriptDelta   = "response.audio_transcript.delta"
	typeTextDelta              = "response.text.delta"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeOutputItemDone         = "response.output_item.done"
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeServerError            = "error"
)

// clientEvent is the outbound wire envelope. Only the fields relevant to
// the event type are populated.
type clientEvent struct {
	EventID string       `json:"event_id,omitempty"`
	Type    string       `json:"type"`
	Session *sessionBody `json:"session,omitempty"`
	Audio   string       `json:"audio,omitempty"`
	Item    *itemBody    `json:"item,omitempty"`

	ItemID       string `json:"item_id,omitempty"`
	ContentIndex *int   `json:"content_index,omitempty"`
	AudioEndMS   *int64 `json:"audio_end_ms,omitempty"`
}

type sessionBody struct {
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	InputAudioTranscription *transcriptionBody `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionBody `json:"turn_detection"`
}

type transcriptionBody struct {
	Model string `json:"model"`
}

type turnDetectionBody struct {
	Type string `json:"type"`
}

type itemBody struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Inbound payload shapes. Unknown fields are ignored so protocol additions
// do not break parsing.

type serverItem struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

type itemCreatedPayload struct {
	Item serverItem `json:"item"`
}

type deltaPayload struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type transcriptionCompletedPayload struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type outputItemDonePayload struct {
	Item serverItem `json:"item"`
}

type serverErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func rawMessage(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// encodePCM16 packs samples little-endian and base64-encodes them for the
// audio append event.
func encodePCM16(samples []int16) string {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// decodePCM16 reverses encodePCM16. Trailing odd bytes are dropped.
func decodePCM16(encoded string) ([]int16, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}
