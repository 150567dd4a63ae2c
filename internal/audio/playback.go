package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"voicedesk/internal/ports"
)

var errGraphClosed = errors.New("playback graph is closed")

// PlaybackConfig selects the ffmpeg output device for agent speech.
type PlaybackConfig struct {
	Command      string
	OutputFormat string
	OutputDevice string
	Channels     int
}

// PlaybackFactory implements ports.AudioGraphFactory with ffmpeg.
type PlaybackFactory struct {
	cfg PlaybackConfig
}

func NewPlaybackFactory(cfg PlaybackConfig) *PlaybackFactory {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pulse"
	}
	if cfg.OutputDevice == "" {
		cfg.OutputDevice = "default"
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &PlaybackFactory{cfg: cfg}
}

// NewGraph starts an ffmpeg process that plays s16le PCM written to it.
func (f *PlaybackFactory) NewGraph(ctx context.Context, sampleRate int) (ports.AudioGraph, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-i", "-",
		"-f", f.cfg.OutputFormat,
		f.cfg.OutputDevice,
	}

	var stdin io.WriteCloser
	// The graph outlives the start call, so it must not die with its context.
	process, err := startFFMPEG(context.WithoutCancel(ctx), f.cfg.Command, args, func(cmd *exec.Cmd) error {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
		}
		stdin = pipe
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGainStage(stdin, func() error { return process.stop(stdin) }), nil
}

// GainStage scales s16le samples before handing them to the sink.
type GainStage struct {
	sink    io.Writer
	closeFn func() error

	gain atomic.Uint64

	mu     sync.Mutex
	carry  []byte
	scaled []byte
	closed bool
}

// NewGainStage wraps sink at unity gain. closeFn, if set, runs once on Close.
func NewGainStage(sink io.Writer, closeFn func() error) *GainStage {
	g := &GainStage{sink: sink, closeFn: closeFn}
	g.SetGain(1)
	return g
}

// SetGain sets the linear gain, clamped to [0, 1].
func (g *GainStage) SetGain(gain float64) {
	switch {
	case math.IsNaN(gain) || gain < 0:
		gain = 0
	case gain > 1:
		gain = 1
	}
	g.gain.Store(math.Float64bits(gain))
}

func (g *GainStage) Gain() float64 {
	return math.Float64frombits(g.gain.Load())
}

// Write scales whole samples and keeps an odd trailing byte for the next
// write. It reports len(p) on success.
func (g *GainStage) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, errGraphClosed
	}

	data := p
	if len(g.carry) > 0 {
		data = append(g.carry, p...)
		g.carry = nil
	}
	whole := len(data) &^ 1
	if whole < len(data) {
		g.carry = []byte{data[whole]}
	}
	if whole == 0 {
		return len(p), nil
	}

	if cap(g.scaled) < whole {
		g.scaled = make([]byte, whole)
	}
	out := g.scaled[:whole]
	scaleS16LE(out, data[:whole], g.Gain())
	if _, err := g.sink.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *GainStage) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	if g.closeFn == nil {
		return nil
	}
	return g.closeFn()
}

// scaleS16LE writes src scaled by gain into dst. Both hold whole samples.
func scaleS16LE(dst, src []byte, gain float64) {
	if gain == 1 {
		copy(dst, src)
		return
	}
	for i := 0; i+1 < len(src); i += 2 {
		sample := int16(uint16(src[i]) | uint16(src[i+1])<<8)
		scaled := int16(math.Round(float64(sample) * gain))
		dst[i] = byte(uint16(scaled))
		dst[i+1] = byte(uint16(scaled) >> 8)
	}
}
