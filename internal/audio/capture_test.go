package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voicedesk/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script)

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}
}

func TestFFMPEGCapturePassesSampleRate(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "args.sh", "#!/usr/bin/env bash\necho \"$@\"\nsleep 2\n")
	capture := NewFFMPEGCapture(script)

	session, err := capture.Start(context.Background(), ports.AudioConfig{InputFormat: "alsa", InputDevice: "hw:1"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Stop()

	buf := make([]byte, 512)
	n, _ := session.Read(buf)
	args := string(buf[:n])
	for _, want := range []string{"-f alsa", "-i hw:1", "-ar 24000", "-ac 1", "-f s16le"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in ffmpeg args %q", want, args)
		}
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before audio started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIgnoreExitStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := ignoreExitStatus(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStderrBufferKeepsTail(t *testing.T) {
	t.Parallel()

	var buf stderrBuffer
	_, _ = buf.Write([]byte(strings.Repeat("x", stderrLimit)))
	_, _ = buf.Write([]byte("  tail\n"))

	got := buf.String()
	if !strings.HasSuffix(got, "tail") || len(got) > stderrLimit {
		t.Fatalf("unexpected buffer tail (len=%d)", len(got))
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
