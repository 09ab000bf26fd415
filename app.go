package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"parley/internal/bootstrap"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/usecase"
)

const (
	eventSession = "parley:session"
	eventItems   = "parley:items"
	eventLog     = "parley:events"
	eventTips    = "parley:tips"
	eventEmotion = "parley:emotion"
	eventError   = "parley:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	orchestrator *usecase.Orchestrator
	cfg          config.Config
	bootErr      error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.orchestrator = services.Orchestrator
	a.SessionStateChanged(domain.SessionStateDisconnected, domain.ReasonBooted)
}

func (a *App) shutdown(ctx context.Context) {
	if a.orchestrator != nil {
		_ = a.orchestrator.Disconnect()
	}
}

// Connect starts a rehearsal session.
func (a *App) Connect() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.orchestrator.Connect(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.orchestrator.Status(), nil
}

// Disconnect ends the session and fires the end-of-session submissions.
func (a *App) Disconnect() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.orchestrator.Disconnect(); err != nil {
		return domain.Status{}, err
	}
	return a.orchestrator.Status(), nil
}

// BeginTurn opens a speech turn in push-to-talk mode.
func (a *App) BeginTurn() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.BeginTurn()
}

// EndTurn closes the open speech turn in push-to-talk mode.
func (a *App) EndTurn() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.EndTurn()
}

// SendMessage injects a typed user message.
func (a *App) SendMessage(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.SendUserText(text)
}

// SetTurnMode switches between manual, local VAD and server VAD turns.
func (a *App) SetTurnMode(mode string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.SetTurnMode(usecase.TurnMode(mode))
}

// ToggleCamera enables or disables video capture for the next session.
func (a *App) ToggleCamera(enabled bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.ToggleCamera(enabled)
}

// DeleteItem removes a conversation item.
func (a *App) DeleteItem(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.DeleteItem(id)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.orchestrator == nil {
		status := domain.Status{State: domain.SessionStateDisconnected}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.orchestrator.Status()
}

// GetItems returns the conversation mirror.
func (a *App) GetItems() []domain.ConversationItem {
	if a.orchestrator == nil {
		return nil
	}
	return a.orchestrator.Items()
}

// GetEventLog returns the folded realtime event log.
func (a *App) GetEventLog() []domain.RealtimeEvent {
	if a.orchestrator == nil {
		return nil
	}
	return a.orchestrator.EventLog()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return map[string]string{
		"model":         a.cfg.Realtime.Model,
		"voice":         a.cfg.Realtime.Voice,
		"transcription": a.cfg.Realtime.TranscriptionModel,
		"scenario":      a.cfg.Scenario.Title,
		"botName":       a.cfg.Scenario.BotName,
		"sampleRate":    fmt.Sprintf("%d", a.cfg.Audio.SampleRate),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.orchestrator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// ItemsUpdated emits the refreshed conversation mirror.
func (a *App) ItemsUpdated(items []domain.ConversationItem) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventItems, items)
}

// EventLogUpdated emits the folded raw event log.
func (a *App) EventLogUpdated(entries []domain.RealtimeEvent) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLog, entries)
}

// TipsReady emits coaching tips for the last user turn.
func (a *App) TipsReady(tips domain.Tips) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTips, tips)
}

// EmotionReady emits the emotion scores for a submitted segment.
func (a *App) EmotionReady(report domain.EmotionReport) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventEmotion, report)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.ReasonBooted:
		return "Ready"
	case domain.ReasonConnecting:
		return "Connecting..."
	case domain.ReasonListening:
		return "Listening"
	case domain.ReasonSpeechStarted:
		return "Recording"
	case domain.ReasonSpeechEnded:
		return "Processing your turn..."
	case domain.ReasonSegmentFinalized:
		return "Turn sent"
	case domain.ReasonSegmentDiscarded:
		return "Turn discarded"
	case domain.ReasonDisconnected:
		return "Session ended"
	case domain.ReasonConnectFailed:
		return "Could not connect"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Microphone or camera unavailable"
	case domain.ErrorCodeCapture:
		return "Recording failed"
	case domain.ErrorCodeBridge:
		return "Connection to the conversation service failed"
	case domain.ErrorCodeProtocol:
		return "The conversation service reported an error"
	case domain.ErrorCodePlayback:
		return "Audio playback issue"
	case domain.ErrorCodeSubmission:
		return "Could not submit session data"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
