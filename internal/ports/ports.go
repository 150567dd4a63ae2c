package ports

import (
	"context"
	"io"

	"voicedesk/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioGraph is the playback path for agent speech, with a gain stage in front.
type AudioGraph interface {
	io.Writer
	// SetGain sets the linear output gain, 0 silences and 1 is unity.
	SetGain(gain float64)
	Close() error
}

// AudioGraphFactory builds playback graphs for a given sample rate.
type AudioGraphFactory interface {
	NewGraph(ctx context.Context, sampleRate int) (AudioGraph, error)
}

// CredentialRequest identifies the agent a session should talk to.
type CredentialRequest struct {
	Language string `json:"language"`
	AgentID  string `json:"agentId"`
}

// Credential is a short-lived access token issued by the backend.
type Credential struct {
	AccessToken string `json:"access_token"`
	CallID      string `json:"call_id,omitempty"`
}

// CredentialProvider exchanges a request for a session credential.
type CredentialProvider interface {
	FetchCredential(ctx context.Context, req CredentialRequest) (Credential, error)
}

// Event names emitted by a Transport.
const (
	EventCallStarted       = "call_started"
	EventCallEnded         = "call_ended"
	EventError             = "error"
	EventAgentStartTalking = "agent_start_talking"
	EventAgentStopTalking  = "agent_stop_talking"
	EventUpdate            = "update"
	EventUserStartTalking  = "user_start_talking"
	EventUserStopTalking   = "user_stop_talking"

	// EventDisconnected is raised by the transport itself when the socket
	// drops without a close frame.
	EventDisconnected = "disconnected"
)

// TransportEvent is one event pushed by the backend.
type TransportEvent struct {
	Name       string
	Transcript string
	Response   string
	Message    string
	Code       string
}

// EventHandler receives transport events in delivery order.
type EventHandler func(event TransportEvent)

// TransportConfig opens a call.
type TransportConfig struct {
	AccessToken string
	SampleRate  int
	// Playback receives agent audio. Nil discards it.
	Playback io.Writer
}

// Transport is the live connection handle to the voice backend.
// Handlers are registered before StartCall so no event can be missed.
// A transport is single use: StartCall after StopCall fails without
// opening anything.
type Transport interface {
	On(event string, handler EventHandler)
	Off(event string)
	StartCall(ctx context.Context, cfg TransportConfig) error
	StopCall() error
	Mute() error
	Unmute() error
}

// TransportFactory creates a fresh transport for every session.
type TransportFactory interface {
	NewTransport() Transport
}

// NoteSink receives the final transcript of an ended call.
// Implementations must not block the caller on network I/O.
type NoteSink interface {
	RecordCall(ctx context.Context, call domain.CallTranscript)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits session state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptUpdated(update domain.TranscriptUpdate)
	TalkingChanged(agentTalking bool, userTalking bool)
	SessionError(code domain.ErrorCode, detail string)
}
