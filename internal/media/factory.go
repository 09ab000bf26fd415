package media

import (
	"parley/internal/ports"
)

// Factory builds one recorder per speech segment, picking the container
// by whether the camera is enabled for the session.
type Factory struct {
	codec      ports.Codec
	ffmpegCmd  string
	sampleRate int
}

func NewFactory(codec ports.Codec, ffmpegCmd string, sampleRate int) *Factory {
	return &Factory{codec: codec, ffmpegCmd: ffmpegCmd, sampleRate: sampleRate}
}

func (f *Factory) NewRecorder(cfg ports.DeviceConfig) (ports.ContainerRecorder, error) {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = f.sampleRate
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	if cfg.Video {
		return NewFFmpegRecorder(f.ffmpegCmd, cfg.VideoDevice, rate, channels), nil
	}
	return NewWAVRecorder(f.codec, rate), nil
}
