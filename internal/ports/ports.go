package ports

import (
	"context"
	"time"

	"parley/internal/domain"
)

// DeviceConfig describes how the microphone (and optional camera) should be
// captured.
type DeviceConfig struct {
	SampleRate  int
	Channels    int
	FrameSize   int
	Video       bool
	VideoDevice string
}

// DeviceStream is a live device capture stream. Frames is closed when the
// device is revoked or the stream is closed; Close is idempotent.
type DeviceStream interface {
	Frames() <-chan domain.AudioFrame
	Close() error
}

// AudioDevice opens device capture streams. Open fails with an error
// wrapping domain.ErrDeviceAccess on permission denial or hardware absence.
type AudioDevice interface {
	Open(ctx context.Context, cfg DeviceConfig) (DeviceStream, error)
}

// ContainerRecorder accumulates encoder output chunks for one speech
// segment and flushes them into a single container blob.
type ContainerRecorder interface {
	Start() error
	Append(frame domain.AudioFrame) error
	Finalize(ctx context.Context) (domain.Container, error)
}

// RecorderFactory builds a fresh recorder per speech segment.
type RecorderFactory interface {
	NewRecorder(cfg DeviceConfig) (ContainerRecorder, error)
}

// Codec transforms between raw PCM and the canonical waveform container.
type Codec interface {
	Encode(samples []int16, sampleRate int) ([]byte, error)
	Decode(data []byte) ([]int16, int, error)
}

// StreamPlayer is a duplex playback sink for synthesized audio. Append
// switches tracks implicitly when trackID changes; Interrupt stops playback
// and reports how far the interrupted track had played, or nil when nothing
// was playing.
type StreamPlayer interface {
	Append(trackID string, samples []int16)
	Interrupt() *domain.PlaybackTrack
	Close() error
}

// SessionUpdate is session-level configuration pushed to the realtime
// backend on connect and on turn-detection changes.
type SessionUpdate struct {
	Instructions       string
	Voice              string
	TranscriptionModel string
	ServerVAD          bool
}

// RealtimeClient is the wire-level duplex link to the realtime
// conversational backend.
type RealtimeClient interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	UpdateSession(cfg SessionUpdate) error
	AppendAudio(frame domain.AudioFrame) error
	CreateUserMessage(text string) error
	RequestResponse() error
	CancelResponse(trackID string, sampleOffset int64) error
	DeleteItem(id string) error
	Events() <-chan domain.ServerEvent
	Close() error
}

// Backend talks to the auxiliary REST collaborators. All calls are
// independent best-effort submissions; failures never roll back the
// capture state machine.
type Backend interface {
	FetchChats(ctx context.Context) (domain.ChatHistory, error)
	FetchTips(ctx context.Context, lastMessage string) (domain.Tips, error)
	SubmitTime(ctx context.Context, elapsed time.Duration) error
	RequestAnalysis(ctx context.Context) error
	SubmitMedia(ctx context.Context, c domain.Container) (domain.EmotionReport, error)
	StoreDetails(ctx context.Context, startMessage, lastMessage string) error
	DeleteChatStatus(ctx context.Context) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ItemsUpdated(items []domain.ConversationItem)
	EventLogUpdated(entries []domain.RealtimeEvent)
	TipsReady(tips domain.Tips)
	EmotionReady(report domain.EmotionReport)
	SessionError(code domain.ErrorCode, detail string)
}
