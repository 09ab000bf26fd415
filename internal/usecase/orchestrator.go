package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/capture"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/ports"
	"parley/internal/realtime"
	"parley/internal/vad"
)

// TurnMode selects how speech turns are delimited.
type TurnMode string

const (
	// TurnModeVAD opens and closes turns from the local loudness monitor.
	TurnModeVAD TurnMode = "vad"
	// TurnModeManual opens and closes turns from BeginTurn/EndTurn calls.
	TurnModeManual TurnMode = "manual"
	// TurnModeServer streams continuously and lets the backend detect turns.
	TurnModeServer TurnMode = "server_vad"
)

const submitTimeout = 30 * time.Second

// Orchestrator runs the rehearsal session: it owns the state machine, the
// capture session, the speech monitor and the bridge, and drives the
// backend submissions that close out each segment and each session.
type Orchestrator struct {
	cfg     config.Config
	device  ports.AudioDevice
	records ports.RecorderFactory
	backend ports.Backend
	metrics *metrics.Metrics
	sink    ports.EventSink
	log     zerolog.Logger

	bridge *realtime.Bridge
	agg    *EventAggregator

	mu          sync.Mutex
	state       domain.SessionState
	connected   bool
	video       bool
	turnMode    TurnMode
	session     *capture.Session
	monitorDone chan struct{}
	startedAt   time.Time
}

// NewOrchestrator wires the orchestrator and its bridge.
func NewOrchestrator(
	cfg config.Config,
	client ports.RealtimeClient,
	player ports.StreamPlayer,
	codec ports.Codec,
	device ports.AudioDevice,
	records ports.RecorderFactory,
	backend ports.Backend,
	m *metrics.Metrics,
	sink ports.EventSink,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		device:  device,
		records: records,
		backend: backend,
		metrics: m,
		sink:    sink,
		log:     log,
		agg:     NewEventAggregator(),
		state:   domain.SessionStateDisconnected,
		video:   cfg.Audio.Video,
		turnMode: func() TurnMode {
			if cfg.Realtime.ServerVAD {
				return TurnModeServer
			}
			return TurnModeVAD
		}(),
	}
	o.bridge = realtime.NewBridge(
		client, player, codec, m, cfg.Audio.SampleRate,
		o.handleItems, o.handleEvent, log,
	)
	return o
}

// Connect brings the session up: realtime link, capture device, speech
// monitor. On partial failure everything already acquired is released and
// the session returns to disconnected.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	next, ok := transition(o.state, evConnectRequested)
	if !ok {
		o.mu.Unlock()
		o.log.Warn().Str("state", string(o.state)).Msg("connect requested while not disconnected")
		return nil
	}
	o.state = next
	video := o.video
	mode := o.turnMode
	o.mu.Unlock()
	o.sink.SessionStateChanged(domain.SessionStateConnecting, domain.ReasonConnecting)

	history := o.fetchHistory(ctx)

	sessionCfg := ports.SessionUpdate{
		Instructions:       buildInstructions(o.cfg.Scenario, history),
		Voice:              o.cfg.Realtime.Voice,
		TranscriptionModel: o.cfg.Realtime.TranscriptionModel,
		ServerVAD:          mode == TurnModeServer,
	}
	if err := o.bridge.Connect(ctx, sessionCfg); err != nil {
		o.failConnect(domain.ErrorCodeBridge, err)
		return err
	}

	session := capture.NewSession(o.device, o.records, o.deviceConfig(video), o.handleFrame, o.log)
	if err := session.Arm(ctx); err != nil {
		o.bridge.Reset()
		o.failConnect(domain.ErrorCodeDevice, err)
		return err
	}

	o.mu.Lock()
	next, ok = transition(o.state, evConnectSucceeded)
	if !ok {
		// A disconnect raced the connect; release the just-acquired
		// resources instead of installing them.
		o.mu.Unlock()
		o.bridge.Reset()
		session.Teardown()
		o.sink.SessionStateChanged(domain.SessionStateDisconnected, domain.ReasonDisconnected)
		o.log.Warn().Msg("session disconnected during connect, releasing acquired resources")
		return nil
	}
	o.state = next
	o.session = session
	o.connected = true
	o.startedAt = time.Now()
	o.mu.Unlock()

	if mode == TurnModeVAD {
		o.startMonitor(session)
	}

	o.metrics.RecordSessionStart()
	o.sink.SessionStateChanged(domain.SessionStateListening, domain.ReasonListening)
	o.log.Info().Str("turnMode", string(mode)).Bool("video", video).Msg("session connected")

	// Kick the conversation off when there is no history to resume.
	if len(history.Messages) == 0 {
		if err := o.bridge.SendUserText("Hello!"); err != nil {
			o.log.Warn().Err(err).Msg("failed to send opening message")
		}
	}
	return nil
}

// Disconnect tears the session down exactly once per connect and fires the
// end-of-session submissions. Safe to call from any state.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	next, ok := transition(o.state, evDisconnected)
	if !ok || !o.connected {
		o.state = domain.SessionStateDisconnected
		o.mu.Unlock()
		return nil
	}
	o.state = next
	o.connected = false
	session := o.session
	o.session = nil
	done := o.monitorDone
	o.monitorDone = nil
	elapsed := time.Since(o.startedAt)
	o.mu.Unlock()

	if done != nil {
		close(done)
	}
	o.bridge.Reset()
	if session != nil {
		session.Teardown()
	}
	o.agg.Reset()

	o.metrics.RecordSessionEnd(elapsed)
	o.sink.SessionStateChanged(domain.SessionStateDisconnected, domain.ReasonDisconnected)
	o.log.Info().Dur("elapsed", elapsed).Msg("session disconnected")

	go o.submitSessionEnd(elapsed)
	return nil
}

// BeginTurn manually opens a speech turn.
func (o *Orchestrator) BeginTurn() error {
	o.beginSegment()
	return nil
}

// EndTurn manually closes the open speech turn.
func (o *Orchestrator) EndTurn() error {
	o.endSegment()
	return nil
}

// SendUserText injects a typed user message mid-session.
func (o *Orchestrator) SendUserText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return o.bridge.SendUserText(text)
}

// DeleteItem removes a conversation item locally and remotely.
func (o *Orchestrator) DeleteItem(id string) error {
	return o.bridge.DeleteItem(id)
}

// SetTurnMode switches turn detection. Mid-session the speech monitor is
// stopped or started and the backend session config is updated.
func (o *Orchestrator) SetTurnMode(mode TurnMode) error {
	switch mode {
	case TurnModeVAD, TurnModeManual, TurnModeServer:
	default:
		return fmt.Errorf("unknown turn mode %q", mode)
	}

	o.mu.Lock()
	if o.turnMode == mode {
		o.mu.Unlock()
		return nil
	}
	o.turnMode = mode
	connected := o.connected
	session := o.session
	done := o.monitorDone
	o.monitorDone = nil
	o.mu.Unlock()

	if done != nil {
		close(done)
	}
	if !connected {
		return nil
	}

	if mode == TurnModeVAD && session != nil {
		o.startMonitor(session)
	}
	return o.bridge.UpdateSession(ports.SessionUpdate{
		Instructions:       buildInstructions(o.cfg.Scenario, domain.ChatHistory{}),
		Voice:              o.cfg.Realtime.Voice,
		TranscriptionModel: o.cfg.Realtime.TranscriptionModel,
		ServerVAD:          mode == TurnModeServer,
	})
}

// ToggleCamera flips video capture for the next connect. Rejected while a
// session is live because the device pipeline would have to be rebuilt.
func (o *Orchestrator) ToggleCamera(enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connected {
		return fmt.Errorf("cannot toggle camera during a live session")
	}
	o.video = enabled
	return nil
}

// Status reports the current runtime status.
func (o *Orchestrator) Status() domain.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.Status{
		State:     o.state,
		Connected: o.connected && o.bridge.IsConnected(),
		Recording: o.state == domain.SessionStateCapturing,
		Video:     o.video,
	}
}

// Items returns the conversation mirror.
func (o *Orchestrator) Items() []domain.ConversationItem {
	return o.bridge.Items()
}

// EventLog returns the folded realtime event log.
func (o *Orchestrator) EventLog() []domain.RealtimeEvent {
	return o.agg.Entries()
}

func (o *Orchestrator) startMonitor(session *capture.Session) {
	monitor := vad.NewMonitor(session, vad.Config{
		Threshold:  o.cfg.VAD.Threshold,
		Hold:       o.cfg.VAD.Hold,
		Tick:       o.cfg.VAD.Tick,
		BufferSize: o.cfg.Audio.FrameSize,
	}, o.log)

	done := make(chan struct{})
	o.mu.Lock()
	o.monitorDone = done
	o.mu.Unlock()

	go monitor.Run(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case decision := <-monitor.Decisions():
				if decision.Kind == vad.SpeechStart {
					o.beginSegment()
				} else {
					o.endSegment()
				}
			}
		}
	}()
}

// beginSegment opens a speech segment. Playback is interrupted first so
// the assistant never talks over the user.
func (o *Orchestrator) beginSegment() {
	o.mu.Lock()
	next, ok := transition(o.state, evSpeechStarted)
	if !ok {
		o.mu.Unlock()
		return
	}
	o.state = next
	session := o.session
	o.mu.Unlock()

	o.bridge.Interrupt()
	if err := session.StartCapture(); err != nil {
		o.log.Error().Err(err).Msg("failed to start capture segment")
	}
	o.metrics.SpeechSegments.Inc()
	o.sink.SessionStateChanged(domain.SessionStateCapturing, domain.ReasonSpeechStarted)
}

// endSegment closes the open segment: the model turn is requested exactly
// once (guarded by the Capturing->Finalizing transition), then the segment
// is finalized and submitted.
func (o *Orchestrator) endSegment() {
	o.mu.Lock()
	next, ok := transition(o.state, evSpeechEnded)
	if !ok {
		o.mu.Unlock()
		return
	}
	o.state = next
	session := o.session
	o.mu.Unlock()
	o.sink.SessionStateChanged(domain.SessionStateFinalizing, domain.ReasonSpeechEnded)

	if err := session.StopCapture(); err != nil {
		o.log.Error().Err(err).Msg("failed to stop capture segment")
	}
	if err := o.bridge.RequestResponse(); err != nil {
		o.log.Warn().Err(err).Msg("failed to request model turn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	container, err := session.Finalize(ctx)

	o.mu.Lock()
	if err != nil {
		next, ok = transition(o.state, evSegmentDiscarded)
	} else {
		next, ok = transition(o.state, evSegmentFinalized)
	}
	if ok {
		o.state = next
	}
	o.mu.Unlock()

	if err != nil {
		o.metrics.SegmentsDiscarded.Inc()
		o.sink.SessionError(domain.ErrorCodeCapture, err.Error())
		if ok {
			// A concurrent disconnect may have moved the state already;
			// only announce listening when the transition landed.
			o.sink.SessionStateChanged(next, domain.ReasonSegmentDiscarded)
		}
		o.log.Error().Err(err).Msg("segment discarded")
		return
	}

	o.metrics.SegmentsFinalized.Inc()
	if ok {
		o.sink.SessionStateChanged(next, domain.ReasonSegmentFinalized)
	}
	go o.submitSegment(container)
}

// submitSegment runs the best-effort post-segment submissions. Failures are
// logged and never affect the session state machine.
func (o *Orchestrator) submitSegment(container domain.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	lastMessage := o.bridge.LastUserTranscript()

	if len(container.Bytes) > 0 {
		report, err := o.backend.SubmitMedia(ctx, container)
		if err != nil {
			o.log.Warn().Err(err).Msg("media submission failed")
		} else {
			o.sink.EmotionReady(report)
		}
	}

	if err := o.backend.StoreDetails(ctx, o.bridge.FirstTranscript(), lastMessage); err != nil {
		o.log.Warn().Err(err).Msg("transcript storage failed")
	}

	if lastMessage != "" {
		tips, err := o.backend.FetchTips(ctx, lastMessage)
		if err != nil {
			o.log.Warn().Err(err).Msg("tips fetch failed")
		} else {
			o.sink.TipsReady(tips)
		}
	}
}

// submitSessionEnd runs the best-effort end-of-session submissions.
func (o *Orchestrator) submitSessionEnd(elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	if err := o.backend.SubmitTime(ctx, elapsed); err != nil {
		o.log.Warn().Err(err).Msg("time submission failed")
	}
	if err := o.backend.RequestAnalysis(ctx); err != nil {
		o.log.Warn().Err(err).Msg("analysis request failed")
	}
	if err := o.backend.DeleteChatStatus(ctx); err != nil {
		o.log.Warn().Err(err).Msg("chat status cleanup failed")
	}
}

func (o *Orchestrator) fetchHistory(ctx context.Context) domain.ChatHistory {
	history, err := o.backend.FetchChats(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("prior chat fetch failed, starting fresh")
		return domain.ChatHistory{}
	}
	return history
}

func (o *Orchestrator) failConnect(code domain.ErrorCode, err error) {
	o.mu.Lock()
	o.state, _ = transition(o.state, evConnectFailed)
	o.mu.Unlock()
	o.sink.SessionError(code, err.Error())
	o.sink.SessionStateChanged(domain.SessionStateDisconnected, domain.ReasonConnectFailed)
	o.log.Error().Err(err).Msg("session connect failed")
}

func (o *Orchestrator) deviceConfig(video bool) ports.DeviceConfig {
	return ports.DeviceConfig{
		SampleRate:  o.cfg.Audio.SampleRate,
		Channels:    o.cfg.Audio.Channels,
		FrameSize:   o.cfg.Audio.FrameSize,
		Video:       video,
		VideoDevice: o.cfg.Audio.VideoDevice,
	}
}

// handleFrame forwards captured frames to the backend while a segment is
// open, or continuously when the backend does turn detection itself.
func (o *Orchestrator) handleFrame(frame domain.AudioFrame) {
	o.mu.Lock()
	forward := o.connected &&
		(o.state == domain.SessionStateCapturing || o.turnMode == TurnModeServer)
	o.mu.Unlock()
	if forward {
		o.bridge.SendFrame(frame)
	}
}

func (o *Orchestrator) handleItems(items []domain.ConversationItem) {
	o.sink.ItemsUpdated(items)
}

func (o *Orchestrator) handleEvent(ev domain.RealtimeEvent) {
	o.agg.Record(ev)
	o.sink.EventLogUpdated(o.agg.Entries())
}

// buildInstructions assembles the system prompt from scenario metadata and
// any prior turns fetched for this user and scenario.
func buildInstructions(s domain.Scenario, history domain.ChatHistory) string {
	var b strings.Builder
	name := s.BotName
	if name == "" {
		name = "Coach"
	}
	fmt.Fprintf(&b, "You are %s, a conversation partner in a social rehearsal session.", name)
	if s.Title != "" {
		fmt.Fprintf(&b, " The scenario is %q.", s.Title)
	}
	if s.Description != "" {
		fmt.Fprintf(&b, " %s", s.Description)
	}
	if s.Mood != "" {
		fmt.Fprintf(&b, " Stay in a %s mood.", s.Mood)
	}
	if s.UserName != "" {
		fmt.Fprintf(&b, " Address the user as %s.", s.UserName)
	}
	b.WriteString(" Keep replies short and conversational, as spoken dialogue.")

	if len(history.Messages) > 0 {
		b.WriteString("\n\nThe conversation so far:\n")
		for _, message := range history.Messages {
			b.WriteString(message)
			b.WriteString("\n")
		}
		b.WriteString("Continue from where it left off.")
	}
	return b.String()
}
