package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// SessionState models the rehearsal session lifecycle.
type SessionState string

const (
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateListening    SessionState = "listening"
	SessionStateCapturing    SessionState = "speech_capturing"
	SessionStateFinalizing   SessionState = "finalizing"
)

// CaptureState models the capture session lifecycle.
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateArmed      CaptureState = "armed"
	CaptureStateCapturing  CaptureState = "capturing"
	CaptureStateFinalizing CaptureState = "finalizing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	ReasonBooted           SessionStateReason = "booted"
	ReasonConnecting       SessionStateReason = "connecting"
	ReasonListening        SessionStateReason = "listening"
	ReasonSpeechStarted    SessionStateReason = "speech_started"
	ReasonSpeechEnded      SessionStateReason = "speech_ended"
	ReasonSegmentFinalized SessionStateReason = "segment_finalized"
	ReasonSegmentDiscarded SessionStateReason = "segment_discarded"
	ReasonDisconnected     SessionStateReason = "disconnected"
	ReasonConnectFailed    SessionStateReason = "connect_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodeCapture    ErrorCode = "capture"
	ErrorCodeBridge     ErrorCode = "bridge"
	ErrorCodeProtocol   ErrorCode = "protocol"
	ErrorCodePlayback   ErrorCode = "playback"
	ErrorCodeSubmission ErrorCode = "submission"
)

// Error taxonomy. Components wrap these so the orchestrator can tell
// resource-corrupting failures from locally recoverable ones.
var (
	ErrDeviceAccess     = errors.New("device access denied or unavailable")
	ErrEncodeDecode     = errors.New("container encode/decode failed")
	ErrBridgeConnection = errors.New("realtime bridge connection failed")
)

// AudioFrame is a fixed-size block of mono PCM samples plus the sample
// offset of its first sample since capture began. Frames are shared-read:
// consumers must not mutate Samples.
type AudioFrame struct {
	Samples []int16
	Offset  int64
}

// Duration returns the frame length at the given sample rate.
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}

// Role identifies who produced a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ItemStatus tracks whether a conversation item is still receiving deltas.
type ItemStatus string

const (
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
)

// ToolCall is a formatted tool invocation attached to an item.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// AudioFile is a finished, playable container derived from an item's audio.
type AudioFile struct {
	Bytes    []byte `json:"-"`
	MIMEType string `json:"mimeType"`
}

// FormattedItem is the display-friendly view of a conversation item,
// mutated in place as deltas arrive.
type FormattedItem struct {
	Transcript string     `json:"transcript,omitempty"`
	Text       string     `json:"text,omitempty"`
	Audio      []int16    `json:"-"`
	Tool       *ToolCall  `json:"tool,omitempty"`
	File       *AudioFile `json:"file,omitempty"`
	Output     string     `json:"output,omitempty"`
}

// ConversationItem mirrors one item of the remote conversation. Items are
// created when the bridge first reports them and become immutable once
// Status is ItemCompleted.
type ConversationItem struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Status    ItemStatus    `json:"status"`
	Formatted FormattedItem `json:"formatted"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EventSource identifies which side of the wire produced a raw event.
type EventSource string

const (
	EventSourceClient EventSource = "client"
	EventSourceServer EventSource = "server"
)

// RealtimeEvent is one raw log entry of the bidirectional event stream.
// Count > 1 means consecutive events of the same type were merged.
type RealtimeEvent struct {
	Time    time.Time       `json:"time"`
	Source  EventSource     `json:"source"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"event"`
	Count   int             `json:"count"`
}

// PlaybackTrack identifies the synthesized-audio segment that was playing
// and how far into it playback had progressed when it was interrupted.
type PlaybackTrack struct {
	TrackID      string `json:"trackId"`
	SampleOffset int64  `json:"sampleOffset"`
}

// Container is a finalized media blob assembled from recorder chunks.
type Container struct {
	Bytes    []byte
	MIMEType string
	IsVideo  bool
}

// ServerEvent is a raw inbound event from the realtime backend.
type ServerEvent struct {
	Type    string
	Payload json.RawMessage
}

// Scenario describes the rehearsal scenario the session runs against.
type Scenario struct {
	ID          string
	Title       string
	Category    string
	Difficulty  string
	Description string
	Mood        string
	UserName    string
	BotName     string
	Email       string
}

// ChatHistory is the prior-turn state fetched from the backend.
type ChatHistory struct {
	Messages    []string
	BotResponse string
	Elapsed     string
}

// Tips is contextual coaching advice for the last user message.
type Tips struct {
	Tip   string `json:"tip"`
	Emoji string `json:"emoji"`
}

// EmotionReport is the scoring response for a submitted media segment.
type EmotionReport struct {
	AudioEmotion string `json:"audioEmotion,omitempty"`
	VideoEmotion string `json:"videoEmotion,omitempty"`
}

// Status summarizes the current runtime status for the presentation layer.
type Status struct {
	State     SessionState `json:"state"`
	Connected bool         `json:"connected"`
	Recording bool         `json:"recording"`
	Video     bool         `json:"video"`
	Message   string       `json:"message,omitempty"`
}
