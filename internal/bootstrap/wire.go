// Package bootstrap assembles the runtime dependency graph.
package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"parley/internal/audio"
	"parley/internal/backend"
	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/media"
	"parley/internal/metrics"
	"parley/internal/ports"
	"parley/internal/realtime"
	"parley/internal/usecase"
	"parley/internal/wav"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.Orchestrator
	Config       config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.WithScenario(logging.WithComponent("engine"), cfg.Scenario.ID)

	m := metrics.New(prometheus.DefaultRegisterer)
	metrics.Serve(cfg.Metrics.Addr, logging.WithComponent("metrics"))

	codec := wav.NewCodec(cfg.Audio.Channels)
	device := audio.NewDevice(logging.WithComponent("capture"))
	player := audio.NewPlayer(cfg.Audio.SampleRate, logging.WithComponent("playback"))
	recorders := media.NewFactory(codec, cfg.Audio.FFmpegCommand, cfg.Audio.SampleRate)

	client := realtime.NewClient(realtime.ClientConfig{
		APIKey:     cfg.Realtime.APIKey,
		URL:        cfg.Realtime.URL,
		Model:      cfg.Realtime.Model,
		SampleRate: cfg.Audio.SampleRate,
	}, logging.WithComponent("realtime"))

	rest := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, cfg.Scenario, m, logging.WithScenario(logging.WithComponent("backend"), cfg.Scenario.ID))

	orchestrator := usecase.NewOrchestrator(
		cfg, client, player, codec, device, recorders, rest, m, eventSink, log,
	)
	return Services{Orchestrator: orchestrator, Config: cfg}, nil
}
