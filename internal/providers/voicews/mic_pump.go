package voicews

import (
	"errors"
	"io"

	"github.com/gorilla/websocket"

	"voicedesk/internal/ports"
)

// pumpMicrophone streams captured PCM to the backend until the capture ends
// or the call stops. Chunks read while muted are dropped.
func (c *Client) pumpMicrophone(mic ports.AudioSession) {
	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, err := mic.Read(buf)
		if n > 0 && !c.muted.Load() {
			if sendErr := c.sendAudio(buf[:n]); sendErr != nil {
				if !c.isStopped() {
					c.log.Warn().Err(sendErr).Msg("failed to stream microphone audio")
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isStopped() {
				c.log.Warn().Err(err).Msg("microphone capture error")
			}
			return
		}
	}
}

func (c *Client) sendAudio(chunk []byte) error {
	c.mu.Lock()
	conn, stopped := c.conn, c.stopped
	c.mu.Unlock()
	if stopped {
		return errCallStopped
	}
	if conn == nil {
		return errCallNotStarted
	}
	return c.write(conn, websocket.BinaryMessage, chunk)
}
