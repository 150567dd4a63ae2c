package domain

import "time"

// SessionState models the voice session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateConnected  SessionState = "connected"
	SessionStateEnded      SessionState = "ended"
	SessionStateError      SessionState = "error"
)

// Live reports whether the state owns backend resources.
func (s SessionState) Live() bool {
	return s == SessionStateConnecting || s == SessionStateConnected
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady            SessionStateReason = "ready"
	SessionReasonStarting         SessionStateReason = "starting"
	SessionReasonCallStarted      SessionStateReason = "call_started"
	SessionReasonCallEnded        SessionStateReason = "call_ended"
	SessionReasonUserStopped      SessionStateReason = "user_stopped"
	SessionReasonUnmounted        SessionStateReason = "unmounted"
	SessionReasonCredentialFailed SessionStateReason = "credential_failed"
	SessionReasonTransportFailed  SessionStateReason = "transport_failed"
	SessionReasonBackendError     SessionStateReason = "backend_error"
	SessionReasonStartCancelled   SessionStateReason = "start_cancelled"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeCredential ErrorCode = "credential"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeBackend    ErrorCode = "backend"
	ErrorCodeMute       ErrorCode = "mute"
)

// TranscriptUpdate carries the text of one backend update event.
// Either field may be empty when the backend only sent the other one.
type TranscriptUpdate struct {
	Transcript string `json:"transcript,omitempty"`
	Response   string `json:"response,omitempty"`
}

// Snapshot is the read-only view of a session exposed to the UI layer.
type Snapshot struct {
	SessionID    string       `json:"sessionId,omitempty"`
	State        SessionState `json:"state"`
	Connecting   bool         `json:"connecting"`
	Connected    bool         `json:"connected"`
	AgentTalking bool         `json:"agentTalking"`
	UserTalking  bool         `json:"userTalking"`
	Muted        bool         `json:"muted"`
	Volume       int          `json:"volume"`
	Transcript   string       `json:"transcript"`
	Response     string       `json:"response"`
	LastError    string       `json:"lastError,omitempty"`
	StartedAt    time.Time    `json:"startedAt,omitzero"`
	EndedAt      time.Time    `json:"endedAt,omitzero"`
}

// CallTranscript is the final text of an ended call, handed to side channels.
type CallTranscript struct {
	SessionID  string
	Language   string
	Transcript string
	Response   string
	StartedAt  time.Time
	EndedAt    time.Time
}
