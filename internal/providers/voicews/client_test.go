package voicews

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicedesk/internal/ports"
)

func TestClientCallLifecycle(t *testing.T) {
	t.Parallel()

	controls := make(chan string, 4)
	serverURL, closeServer := newCallTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization: %q", got)
		}
		if got := r.URL.Query().Get("sample_rate"); got != "24000" {
			t.Errorf("unexpected sample rate: %q", got)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"call_started"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"update","transcript":"hello"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"agent_start_talking"}`))

		_, payload, err := conn.ReadMessage()
		if err == nil {
			controls <- string(payload)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"call_ended"}`))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	defer closeServer()

	client := NewClient(Config{BaseURL: serverURL}, nil, zerolog.Nop())
	events := make(chan ports.TransportEvent, 8)
	for _, name := range []string{
		ports.EventCallStarted, ports.EventUpdate, ports.EventAgentStartTalking, ports.EventCallEnded,
	} {
		client.On(name, func(event ports.TransportEvent) { events <- event })
	}

	playback := &lockedBuffer{}
	if err := client.StartCall(context.Background(), ports.TransportConfig{
		AccessToken: "tok",
		SampleRate:  24000,
		Playback:    playback,
	}); err != nil {
		t.Fatalf("start call failed: %v", err)
	}

	want := []string{ports.EventCallStarted, ports.EventUpdate, ports.EventAgentStartTalking}
	for _, name := range want {
		event := receiveEvent(t, events)
		if event.Name != name {
			t.Fatalf("expected %s, got %s", name, event.Name)
		}
		if name == ports.EventUpdate && event.Transcript != "hello" {
			t.Fatalf("unexpected transcript: %q", event.Transcript)
		}
	}

	if err := client.Mute(); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	select {
	case control := <-controls:
		if control != `{"type":"mute"}` {
			t.Fatalf("unexpected control frame: %s", control)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received mute")
	}

	if event := receiveEvent(t, events); event.Name != ports.EventCallEnded {
		t.Fatalf("expected call_ended, got %s", event.Name)
	}
	if err := client.Wait(); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !bytes.Equal(playback.bytes(), []byte{1, 2, 3, 4}) {
		t.Fatalf("agent audio not routed to playback: %v", playback.bytes())
	}
	if err := client.StopCall(); err != nil {
		t.Fatalf("stop after close: %v", err)
	}
}

func TestClientReportsDroppedConnection(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newCallTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"call_started"}`))
		_ = conn.Close()
	})
	defer closeServer()

	client := NewClient(Config{BaseURL: serverURL}, nil, zerolog.Nop())
	events := make(chan ports.TransportEvent, 4)
	client.On(ports.EventDisconnected, func(event ports.TransportEvent) { events <- event })

	if err := client.StartCall(context.Background(), ports.TransportConfig{AccessToken: "tok", SampleRate: 24000}); err != nil {
		t.Fatalf("start call failed: %v", err)
	}

	event := receiveEvent(t, events)
	if event.Name != ports.EventDisconnected || event.Message != "connection lost" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if err := client.Wait(); err == nil {
		t.Fatalf("expected read error to be recorded")
	}
}

func TestClientStopFromHandlerDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newCallTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","message":"agent offline"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	client := NewClient(Config{BaseURL: serverURL}, nil, zerolog.Nop())
	client.On(ports.EventError, func(ports.TransportEvent) {
		client.Off(ports.EventError)
		_ = client.StopCall()
	})

	if err := client.StartCall(context.Background(), ports.TransportConfig{AccessToken: "tok", SampleRate: 24000}); err != nil {
		t.Fatalf("start call failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = client.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit after stop")
	}
	if err := client.Mute(); !errors.Is(err, errCallStopped) {
		t.Fatalf("expected errCallStopped, got %v", err)
	}
}

func TestClientStartAfterStop(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{BaseURL: "ws://127.0.0.1:1"}, nil, zerolog.Nop())
	if err := client.StopCall(); err != nil {
		t.Fatalf("stop on idle client: %v", err)
	}
	err := client.StartCall(context.Background(), ports.TransportConfig{AccessToken: "tok", SampleRate: 24000})
	if !errors.Is(err, errCallStopped) {
		t.Fatalf("expected errCallStopped, got %v", err)
	}
}

func TestClientRequiresAccessToken(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{BaseURL: "ws://127.0.0.1:1"}, nil, zerolog.Nop())
	if err := client.StartCall(context.Background(), ports.TransportConfig{SampleRate: 24000}); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := client.Unmute(); !errors.Is(err, errCallNotStarted) {
		t.Fatalf("expected errCallNotStarted, got %v", err)
	}
}

func TestClientStreamsMicrophoneUnlessMuted(t *testing.T) {
	t.Parallel()

	frames := make(chan []byte, 4)
	serverURL, closeServer := newCallTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				frames <- payload
			}
		}
	})
	defer closeServer()

	mic := newFakeMic()
	capture := &fakeCapture{session: mic}
	client := NewClient(Config{BaseURL: serverURL, ChunkSize: 512}, capture, zerolog.Nop())
	if err := client.StartCall(context.Background(), ports.TransportConfig{AccessToken: "tok", SampleRate: 24000}); err != nil {
		t.Fatalf("start call failed: %v", err)
	}
	if capture.cfg.SampleRate != 24000 {
		t.Fatalf("microphone opened at %d Hz", capture.cfg.SampleRate)
	}

	mic.chunks <- []byte("first")
	select {
	case frame := <-frames:
		if string(frame) != "first" {
			t.Fatalf("unexpected frame: %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("microphone audio never reached the backend")
	}

	if err := client.Mute(); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	mic.chunks <- []byte("muted")
	// The pump is back in Read only after it has dropped the muted chunk.
	mic.waitReads(t, 3)
	if err := client.Unmute(); err != nil {
		t.Fatalf("unmute failed: %v", err)
	}
	mic.chunks <- []byte("second")
	select {
	case frame := <-frames:
		if string(frame) != "second" {
			t.Fatalf("muted audio leaked: %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("unmuted audio never reached the backend")
	}

	if err := client.StopCall(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !mic.isStopped() {
		t.Fatalf("microphone must be stopped with the call")
	}
}

func newCallTestServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != callPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

func receiveEvent(t *testing.T, events <-chan ports.TransportEvent) ports.TransportEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return ports.TransportEvent{}
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type fakeCapture struct {
	session *fakeMic
	cfg     ports.AudioConfig
}

func (f *fakeCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.cfg = cfg
	return f.session, nil
}

type fakeMic struct {
	reads   atomic.Int32
	chunks  chan []byte
	stop    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func newFakeMic() *fakeMic {
	return &fakeMic{chunks: make(chan []byte), stop: make(chan struct{})}
}

func (f *fakeMic) Read(p []byte) (int, error) {
	f.reads.Add(1)
	select {
	case chunk := <-f.chunks:
		return copy(p, chunk), nil
	case <-f.stop:
		return 0, io.EOF
	}
}

func (f *fakeMic) Close() error { return f.Stop() }

func (f *fakeMic) Stop() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		close(f.stop)
	})
	return nil
}

func (f *fakeMic) waitReads(t *testing.T, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.reads.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("microphone pump stalled at %d reads", f.reads.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeMic) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
