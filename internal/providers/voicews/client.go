package voicews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicedesk/internal/ports"
)

var (
	errCallStopped    = errors.New("call was stopped")
	errCallNotStarted = errors.New("call is not started")
)

// Config controls the websocket transport.
type Config struct {
	BaseURL      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ChunkSize    int
	// Audio is used to open the microphone once the call is connected.
	Audio ports.AudioConfig
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ChunkSize < 256 {
		c.ChunkSize = 4096
	}
	return c
}

// Factory implements ports.TransportFactory.
type Factory struct {
	cfg     Config
	capture ports.AudioCapture
	log     zerolog.Logger
}

// NewFactory returns a factory for websocket transports. capture may be nil,
// in which case calls are listen-only.
func NewFactory(cfg Config, capture ports.AudioCapture, log zerolog.Logger) *Factory {
	return &Factory{cfg: cfg.withDefaults(), capture: capture, log: log}
}

func (f *Factory) NewTransport() ports.Transport {
	return NewClient(f.cfg, f.capture, f.log)
}

// Client is one call over a websocket. It is single use: once stopped it
// cannot be started again.
type Client struct {
	cfg     Config
	capture ports.AudioCapture
	log     zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]ports.EventHandler

	mu         sync.Mutex
	conn       *websocket.Conn
	mic        ports.AudioSession
	playback   io.Writer
	started    bool
	stopped    bool
	cancelDial context.CancelFunc

	writeMu sync.Mutex
	muted   atomic.Bool

	done chan struct{}

	errMu sync.Mutex
	err   error
}

func NewClient(cfg Config, capture ports.AudioCapture, log zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		capture:  capture,
		log:      log.With().Str("component", "voicews").Logger(),
		handlers: make(map[string]ports.EventHandler),
		done:     make(chan struct{}),
	}
}

func (c *Client) On(event string, handler ports.EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = handler
}

func (c *Client) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, event)
}

// StartCall dials the backend and starts the read loop and microphone pump.
// It returns once the socket is open; call_started arrives as an event.
func (c *Client) StartCall(ctx context.Context, cfg ports.TransportConfig) error {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return errors.New("access token is required")
	}
	wsURL, err := buildCallURL(c.cfg.BaseURL, cfg.SampleRate)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return errCallStopped
	case c.started:
		c.mu.Unlock()
		return errors.New("call already started")
	}
	c.started = true
	c.cancelDial = cancel
	c.mu.Unlock()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.AccessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		close(c.done)
		if c.isStopped() {
			return errCallStopped
		}
		return fmt.Errorf("failed to connect to voice backend: %w", err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		close(c.done)
		return errCallStopped
	}
	c.conn = conn
	c.playback = cfg.Playback
	c.mu.Unlock()

	if c.capture != nil {
		audioCfg := c.cfg.Audio
		audioCfg.SampleRate = cfg.SampleRate
		mic, err := c.capture.Start(context.Background(), audioCfg)
		if err != nil {
			_ = c.StopCall()
			close(c.done)
			return fmt.Errorf("failed to open microphone: %w", err)
		}
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			_ = mic.Stop()
			close(c.done)
			return errCallStopped
		}
		c.mic = mic
		c.mu.Unlock()
		go c.pumpMicrophone(mic)
	}

	go c.readLoop(conn)
	return nil
}

// StopCall ends the call. It does not wait for the read loop, so it is safe
// to call from an event handler.
func (c *Client) StopCall() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.cancelDial != nil {
		c.cancelDial()
	}
	conn, mic := c.conn, c.mic
	c.mu.Unlock()

	var errs []error
	if mic != nil {
		if err := mic.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop microphone: %w", err))
		}
	}
	if conn != nil {
		_ = c.writeJSON(conn, controlEndCall)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) Mute() error {
	c.muted.Store(true)
	return c.sendControl(controlMute)
}

func (c *Client) Unmute() error {
	c.muted.Store(false)
	return c.sendControl(controlUnmute)
}

// Wait blocks until the read loop has exited and returns the first
// unexpected error it saw.
func (c *Client) Wait() error {
	<-c.done
	return c.waitErr()
}

func (c *Client) sendControl(frame controlFrame) error {
	c.mu.Lock()
	conn, stopped := c.conn, c.stopped
	c.mu.Unlock()
	if stopped {
		return errCallStopped
	}
	if conn == nil {
		return errCallNotStarted
	}
	return c.writeJSON(conn, frame)
}

func (c *Client) writeJSON(conn *websocket.Conn, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.write(conn, websocket.TextMessage, payload)
}

func (c *Client) write(conn *websocket.Conn, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, payload)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.playAudio(payload)
		case websocket.TextMessage:
			event, err := decodeServerFrame(payload)
			if err != nil {
				c.log.Debug().Err(err).Msg("skipping server frame")
				continue
			}
			c.dispatch(event)
		}
	}
}

func (c *Client) handleReadError(err error) {
	if c.isStopped() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.dispatch(ports.TransportEvent{Name: ports.EventCallEnded})
		return
	}
	c.setErr(fmt.Errorf("failed to read backend event: %w", err))
	c.log.Warn().Err(err).Msg("voice socket dropped")
	c.dispatch(ports.TransportEvent{Name: ports.EventDisconnected, Message: "connection lost"})
}

func (c *Client) dispatch(event ports.TransportEvent) {
	c.handlersMu.RLock()
	handler := c.handlers[event.Name]
	c.handlersMu.RUnlock()
	if handler == nil {
		return
	}
	handler(event)
}

func (c *Client) playAudio(payload []byte) {
	c.mu.Lock()
	playback := c.playback
	c.mu.Unlock()
	if playback == nil || len(payload) == 0 {
		return
	}
	if _, err := playback.Write(payload); err != nil {
		c.log.Debug().Err(err).Msg("dropping agent audio")
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
