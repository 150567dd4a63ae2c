package voicews

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"voicedesk/internal/ports"
)

const callPath = "/v1/call"

// serverFrame is a text frame pushed by the voice backend.
type serverFrame struct {
	Event      string          `json:"event"`
	Transcript json.RawMessage `json:"transcript"`
	Response   string          `json:"response"`
	Message    string          `json:"message"`
	Code       json.RawMessage `json:"code"`
}

// utterance is one turn of a structured transcript.
type utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// controlFrame is a text frame sent to the backend.
type controlFrame struct {
	Type string `json:"type"`
}

var (
	controlMute    = controlFrame{Type: "mute"}
	controlUnmute  = controlFrame{Type: "unmute"}
	controlEndCall = controlFrame{Type: "end_call"}
)

// decodeServerFrame maps a text frame to a transport event. Frames without an
// event name are rejected.
func decodeServerFrame(payload []byte) (ports.TransportEvent, error) {
	var frame serverFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ports.TransportEvent{}, fmt.Errorf("invalid server frame: %w", err)
	}
	name := strings.TrimSpace(frame.Event)
	if name == "" {
		return ports.TransportEvent{}, fmt.Errorf("server frame has no event")
	}

	event := ports.TransportEvent{
		Name:     name,
		Response: frame.Response,
		Message:  frame.Message,
		Code:     decodeCode(frame.Code),
	}
	transcript, response := decodeTranscript(frame.Transcript)
	event.Transcript = transcript
	if event.Response == "" {
		event.Response = response
	}
	return event, nil
}

// decodeTranscript accepts either a plain string or a list of utterances.
// For a list the latest user and agent turns are returned.
func decodeTranscript(raw json.RawMessage) (transcript string, response string) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, ""
	}

	var turns []utterance
	if err := json.Unmarshal(raw, &turns); err != nil {
		return "", ""
	}
	for i := len(turns) - 1; i >= 0 && (transcript == "" || response == ""); i-- {
		switch strings.ToLower(turns[i].Role) {
		case "user":
			if transcript == "" {
				transcript = turns[i].Content
			}
		case "agent", "assistant":
			if response == "" {
				response = turns[i].Content
			}
		}
	}
	return transcript, response
}

func decodeCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func buildCallURL(base string, sampleRate int) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("voice backend URL is not configured")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	callURL, err := url.Parse(base + callPath)
	if err != nil {
		return "", fmt.Errorf("invalid voice backend URL: %w", err)
	}
	if callURL.Scheme != "ws" && callURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid voice backend URL scheme %q", callURL.Scheme)
	}

	query := callURL.Query()
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	callURL.RawQuery = query.Encode()
	return callURL.String(), nil
}
