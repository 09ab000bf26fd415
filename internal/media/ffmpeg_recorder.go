package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"parley/internal/domain"
)

// FFmpegRecorder muxes camera video and microphone PCM into a webm blob.
// ffmpeg reads the camera itself and takes PCM over stdin; muxed output is
// collected from stdout until Finalize closes the audio leg and waits for
// the encoder to flush.
type FFmpegRecorder struct {
	command     string
	videoDevice string
	sampleRate  int
	channels    int

	mu      sync.Mutex
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error
	chunks  *bytes.Buffer
	readWG  sync.WaitGroup
	started bool
}

func NewFFmpegRecorder(command, videoDevice string, sampleRate, channels int) *FFmpegRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	if videoDevice == "" {
		videoDevice = "/dev/video0"
	}
	return &FFmpegRecorder{
		command:     command,
		videoDevice: videoDevice,
		sampleRate:  sampleRate,
		channels:    channels,
	}
}

func (r *FFmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "v4l2",
		"-i", r.videoDevice,
		"-f", "s16le",
		"-ar", strconv.Itoa(r.sampleRate),
		"-ac", strconv.Itoa(r.channels),
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-c:a", "libopus",
		"-f", "webm",
		"pipe:1",
	}

	cmd := exec.Command(r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create ffmpeg stdin pipe: %v", domain.ErrEncodeDecode, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: create ffmpeg stdout pipe: %v", domain.ErrEncodeDecode, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", domain.ErrEncodeDecode, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	chunks := &bytes.Buffer{}
	r.readWG.Add(1)
	go func() {
		defer r.readWG.Done()
		_, _ = io.Copy(chunks, stdout)
	}()

	r.stdin = stdin
	r.stderr = &stderr
	r.process = cmd.Process
	r.waitErr = waitErr
	r.chunks = chunks
	r.started = true
	return nil
}

func (r *FFmpegRecorder) Append(frame domain.AudioFrame) error {
	r.mu.Lock()
	stdin := r.stdin
	r.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%w: recorder not started", domain.ErrEncodeDecode)
	}

	pcm := make([]byte, len(frame.Samples)*2)
	for i, s := range frame.Samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	if _, err := stdin.Write(pcm); err != nil {
		return fmt.Errorf("%w: write pcm to ffmpeg: %v", domain.ErrEncodeDecode, err)
	}
	return nil
}

// Finalize closes the audio leg, waits for ffmpeg to flush the container
// and returns the muxed blob. The recorder cannot be restarted afterwards.
func (r *FFmpegRecorder) Finalize(ctx context.Context) (domain.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return domain.Container{}, fmt.Errorf("%w: recorder not started", domain.ErrEncodeDecode)
	}
	r.started = false

	_ = r.stdin.Close()

	var runErr error
	select {
	case err, ok := <-r.waitErr:
		if ok {
			runErr = normalizeExitErr(err)
		}
	case <-time.After(3 * time.Second):
		if r.process != nil {
			_ = r.process.Kill()
		}
		if err, ok := <-r.waitErr; ok {
			runErr = normalizeExitErr(err)
		}
	case <-ctx.Done():
		if r.process != nil {
			_ = r.process.Kill()
		}
		<-r.waitErr
		return domain.Container{}, ctx.Err()
	}

	r.readWG.Wait()

	if runErr != nil {
		detail := bytes.TrimSpace(r.stderr.Bytes())
		if len(detail) > 0 {
			return domain.Container{}, fmt.Errorf("%w: ffmpeg: %v: %s", domain.ErrEncodeDecode, runErr, detail)
		}
		return domain.Container{}, fmt.Errorf("%w: ffmpeg: %v", domain.ErrEncodeDecode, runErr)
	}

	return domain.Container{
		Bytes:    append([]byte(nil), r.chunks.Bytes()...),
		MIMEType: "video/webm",
		IsVideo:  true,
	}, nil
}

func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		return nil
	}
	return err
}
