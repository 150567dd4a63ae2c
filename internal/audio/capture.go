package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"voicedesk/internal/ports"
)

const DefaultSampleRate = 24000

// FFMPEGCapture streams microphone PCM (s16le) using ffmpeg.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = captureDefaults(cfg)
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	var stdout io.ReadCloser
	process, err := startFFMPEG(ctx, c.command, args, func(cmd *exec.Cmd) error {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
		}
		stdout = pipe
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &captureSession{stdout: stdout, process: process}, nil
}

func captureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

type captureSession struct {
	stdout  io.ReadCloser
	process *ffmpegProcess
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

func (s *captureSession) Stop() error {
	return s.process.stop(s.stdout)
}
