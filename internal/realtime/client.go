package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/ports"
)

// ClientConfig controls the websocket connection to the realtime backend.
type ClientConfig struct {
	APIKey     string
	URL        string
	Model      string
	SampleRate int
}

// Client is the websocket implementation of ports.RealtimeClient. Connect
// is idempotent; the events channel survives reconnects so consumers keep
// a single receive loop.
type Client struct {
	cfg ClientConfig
	log zerolog.Logger

	events chan domain.ServerEvent

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &Client{
		cfg:    cfg,
		log:    log,
		events: make(chan domain.ServerEvent, 64),
	}
}

// Connect dials the backend and starts the read loop. Calling Connect on a
// live connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	wsURL, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid realtime url: %v", domain.ErrBridgeConnection, err)
	}
	if c.cfg.Model != "" {
		query := wsURL.Query()
		query.Set("model", c.cfg.Model)
		wsURL.RawQuery = query.Encode()
	}

	headers := http.Header{}
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBridgeConnection, err)
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)

	c.log.Info().Str("model", c.cfg.Model).Msg("realtime connection established")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// UpdateSession pushes session-level configuration.
func (c *Client) UpdateSession(cfg ports.SessionUpdate) error {
	session := &sessionBody{
		Instructions: cfg.Instructions,
		Voice:        cfg.Voice,
	}
	if cfg.TranscriptionModel != "" {
		session.InputAudioTranscription = &transcriptionBody{Model: cfg.TranscriptionModel}
	}
	if cfg.ServerVAD {
		session.TurnDetection = &turnDetectionBody{Type: "server_vad"}
	}
	return c.send(clientEvent{Type: typeSessionUpdate, Session: session})
}

// AppendAudio streams one PCM frame into the remote input buffer.
func (c *Client) AppendAudio(frame domain.AudioFrame) error {
	return c.send(clientEvent{Type: typeAudioAppend, Audio: encodePCM16(frame.Samples)})
}

// CreateUserMessage injects a text-only user item into the conversation.
func (c *Client) CreateUserMessage(text string) error {
	return c.send(clientEvent{Type: typeItemCreate, Item: &itemBody{
		Type:    "message",
		Role:    "user",
		Content: []contentPart{{Type: "input_text", Text: text}},
	}})
}

// RequestResponse commits the buffered input and asks for a model turn.
func (c *Client) RequestResponse() error {
	if err := c.send(clientEvent{Type: typeAudioCommit}); err != nil {
		return err
	}
	return c.send(clientEvent{Type: typeResponseCreate})
}

// CancelResponse aborts the in-flight response and truncates the playing
// item at the sample offset actually heard, so the remote transcript
// matches local playback.
func (c *Client) CancelResponse(trackID string, sampleOffset int64) error {
	if err := c.send(clientEvent{Type: typeResponseCancel}); err != nil {
		return err
	}
	index := 0
	endMS := sampleOffset * 1000 / int64(c.cfg.SampleRate)
	return c.send(clientEvent{
		Type:         typeItemTruncate,
		ItemID:       trackID,
		ContentIndex: &index,
		AudioEndMS:   &endMS,
	})
}

// DeleteItem removes an item from the remote conversation.
func (c *Client) DeleteItem(id string) error {
	return c.send(clientEvent{Type: typeItemDelete, ItemID: id})
}

// Events returns the inbound server event stream. The channel is never
// closed; consumers pair it with their own done channel.
func (c *Client) Events() <-chan domain.ServerEvent {
	return c.events
}

// Close tears the connection down. The client may be connected again later.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

func (c *Client) send(ev clientEvent) error {
	ev.EventID = uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrBridgeConnection)
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("%w: send %s: %v", domain.ErrBridgeConnection, ev.Type, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.connected = false
			}
			c.mu.Unlock()
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Type == "" {
			continue
		}

		select {
		case c.events <- domain.ServerEvent{Type: envelope.Type, Payload: payload}:
		default:
			c.log.Warn().Str("type", envelope.Type).Msg("server event dropped, consumer not keeping up")
		}
	}
}
