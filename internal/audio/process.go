package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// ffmpegProcess is a running ffmpeg child with one piped end.
type ffmpegProcess struct {
	cmd     *exec.Cmd
	stderr  *stderrBuffer
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// startFFMPEG starts the command and fails if it exits during the startup
// probe, which is how a missing device shows up.
func startFFMPEG(ctx context.Context, command string, args []string, wire func(*exec.Cmd) error) (*ffmpegProcess, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr
	if err := wire(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before audio started: %w: %s", err, stderr.String())
		}
		return nil, errors.New("ffmpeg exited before audio started")
	case <-time.After(startupProbe):
	}

	return &ffmpegProcess{cmd: cmd, stderr: stderr, waitErr: waitErr}, nil
}

// stop interrupts the process, kills it after a grace period and closes the
// given pipe. It runs once.
func (p *ffmpegProcess) stop(pipe io.Closer) error {
	p.stopOnce.Do(func() {
		if pipe != nil {
			if err := pipe.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				p.stopErr = err
			}
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok && p.stopErr == nil {
				p.stopErr = ignoreExitStatus(err)
			}
		case <-time.After(stopGrace):
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			if err, ok := <-p.waitErr; ok && p.stopErr == nil {
				p.stopErr = ignoreExitStatus(err)
			}
		}

		if p.stopErr != nil {
			if detail := p.stderr.String(); detail != "" {
				p.stopErr = fmt.Errorf("%w: %s", p.stopErr, detail)
			}
		}
	})
	return p.stopErr
}

// ignoreExitStatus treats a non-zero exit after an interrupt as a clean stop.
func ignoreExitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// stderrBuffer keeps the tail of ffmpeg's stderr for error messages.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const stderrLimit = 4096

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if overflow := b.buf.Len() - stderrLimit; overflow > 0 {
		b.buf.Next(overflow)
	}
	return len(p), nil
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
