package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
	"voicedesk/internal/metrics"
	"voicedesk/internal/ports"
)

const (
	DefaultSampleRate = 24000
	DefaultVolume     = 70
)

// Config controls how a call is opened.
type Config struct {
	Credentials ports.CredentialRequest
	SampleRate  int

	// InitialVolume is clamped to [0, 100]. Zero is a valid level.
	InitialVolume int
}

// SessionController owns the one live voice session and its resources.
type SessionController struct {
	credentials ports.CredentialProvider
	transports  ports.TransportFactory
	graphs      ports.AudioGraphFactory
	events      ports.EventSink
	finalizer   transcriptFinalizer
	router      *eventRouter
	log         zerolog.Logger
	cfg         Config
	now         func() time.Time

	guard startGuard

	mu         sync.Mutex
	current    *session
	generation uint64
	muted      bool
	volume     int
}

func NewSessionController(
	credentials ports.CredentialProvider,
	transports ports.TransportFactory,
	graphs ports.AudioGraphFactory,
	rules ports.RulesEngine,
	notes ports.NoteSink,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	log := logger.With().Str("component", "session").Logger()
	c := &SessionController{
		credentials: credentials,
		transports:  transports,
		graphs:      graphs,
		events:      events,
		finalizer:   newTranscriptFinalizer(rules, notes, log),
		log:         log,
		cfg:         cfg,
		now:         time.Now,
		volume:      clampVolume(cfg.InitialVolume),
	}
	c.router = newEventRouter(c, log)
	return c
}

// Start opens a call and returns once the transport is started. Start is
// rejected with ErrStartRejected while another start is in flight or a
// session is live. If Stop wins the race, every acquired resource is
// released and ErrStartCancelled is returned.
func (c *SessionController) Start(ctx context.Context) error {
	return c.start(ctx, nil)
}

// start runs Start. wanted, when set, is checked under the controller lock
// right before the session is created; a false result cancels the start.
func (c *SessionController) start(ctx context.Context, wanted func() bool) error {
	if !c.guard.tryAcquire() {
		return c.reject("start already in flight")
	}
	defer c.guard.release()

	c.mu.Lock()
	previous := c.current
	if previous != nil && previous.state.Live() {
		c.mu.Unlock()
		return c.reject("session already live")
	}
	c.mu.Unlock()

	// A prior teardown may still be running on another goroutine.
	if previous != nil {
		select {
		case <-previous.torndown:
		case <-ctx.Done():
			return c.reject("context cancelled waiting for previous teardown")
		}
	}

	c.mu.Lock()
	if wanted != nil && !wanted() {
		c.mu.Unlock()
		return c.cancelled(nil)
	}
	c.generation++
	active := newSession(c.generation, c.now())
	c.current = active
	c.mu.Unlock()
	c.transition(domain.SessionStateConnecting, domain.SessionReasonStarting)

	fetchStarted := time.Now()
	credential, err := c.credentials.FetchCredential(ctx, c.cfg.Credentials)
	metrics.CredentialDuration.Observe(time.Since(fetchStarted).Seconds())
	if err == nil && strings.TrimSpace(credential.AccessToken) == "" {
		err = errors.New("no access token received")
	}
	if err != nil {
		credErr := &CredentialError{Err: err}
		if !c.failCall(active.generation, credErr, domain.ErrorCodeCredential, domain.SessionReasonCredentialFailed) {
			return c.cancelled(nil)
		}
		metrics.SessionStartsTotal.WithLabelValues("credential_failed").Inc()
		return credErr
	}

	if !c.assignID(active.generation, credential.CallID) {
		return c.cancelled(nil)
	}

	transport := c.transports.NewTransport()
	resources := newResourceSet(transport)
	if c.graphs != nil {
		graph, graphErr := c.graphs.NewGraph(ctx, c.cfg.SampleRate)
		if graphErr != nil {
			c.log.Debug().Err(graphErr).Msg("playback graph unavailable, volume control disabled for this call")
		} else {
			resources.graph = graph
		}
	}
	for _, name := range routedEvents {
		resources.subscriptions.register(transport, name, c.router.handler(active.generation, name))
	}

	c.mu.Lock()
	if !c.isLive(active.generation) {
		c.mu.Unlock()
		return c.cancelled(resources)
	}
	active.resources = resources
	if resources.graph != nil {
		resources.graph.SetGain(gainFor(c.volume))
	}
	c.mu.Unlock()

	var playback io.Writer
	if resources.graph != nil {
		playback = resources.graph
	}
	err = transport.StartCall(ctx, ports.TransportConfig{
		AccessToken: credential.AccessToken,
		SampleRate:  c.cfg.SampleRate,
		Playback:    playback,
	})
	if err != nil {
		transportErr := &TransportError{Err: err}
		if !c.failCall(active.generation, transportErr, domain.ErrorCodeTransport, domain.SessionReasonTransportFailed) {
			return c.startOutcome(active, resources)
		}
		metrics.SessionStartsTotal.WithLabelValues("transport_failed").Inc()
		return transportErr
	}

	c.mu.Lock()
	live := c.isLive(active.generation)
	c.mu.Unlock()
	if !live {
		return c.startOutcome(active, resources)
	}

	metrics.SessionStartsTotal.WithLabelValues("started").Inc()
	c.log.Info().Str("session_id", active.id).Msg("call opening")
	return nil
}

// Stop ends the live session, if any. It is idempotent and never fails;
// cleanup errors are logged.
func (c *SessionController) Stop(reason domain.SessionStateReason) {
	if reason == "" {
		reason = domain.SessionReasonUserStopped
	}
	c.mu.Lock()
	s := c.current
	var generation uint64
	if s != nil {
		generation = s.generation
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.endCall(generation, reason)
}

// SetMuted records the mute preference and applies it to a connected call.
func (c *SessionController) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	s := c.current
	if s == nil || s.state != domain.SessionStateConnected || s.resources == nil {
		c.mu.Unlock()
		return
	}
	generation, transport := s.generation, s.resources.transport
	c.mu.Unlock()

	// Written outside c.mu. Errors on a call that already ended are dropped.
	if err := applyMute(transport, muted); err != nil && c.isConnected(generation) {
		c.log.Warn().Err(err).Bool("muted", muted).Msg("failed to toggle mute")
		c.events.SessionError(domain.ErrorCodeMute, "failed to toggle mute")
	}
}

// SetVolume clamps level to [0, 100], records it and applies it to a
// connected call.
func (c *SessionController) SetVolume(level int) int {
	level = clampVolume(level)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = level
	s := c.current
	if s == nil || s.state != domain.SessionStateConnected || s.resources == nil || s.resources.graph == nil {
		return level
	}
	s.resources.graph.SetGain(gainFor(level))
	return level
}

// Snapshot returns a consistent view of the current session.
func (c *SessionController) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := domain.Snapshot{
		State:  domain.SessionStateIdle,
		Muted:  c.muted,
		Volume: c.volume,
	}
	s := c.current
	if s == nil {
		return snap
	}
	snap.SessionID = s.id
	snap.State = s.state
	snap.Connecting = s.state == domain.SessionStateConnecting
	snap.Connected = s.state == domain.SessionStateConnected
	snap.AgentTalking = s.agentTalking
	snap.UserTalking = s.userTalking
	snap.Transcript = s.buffer.transcript
	snap.Response = s.buffer.response
	snap.StartedAt = s.startedAt
	snap.EndedAt = s.endedAt
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Busy reports whether a start is in flight.
func (c *SessionController) Busy() bool {
	return c.guard.busy()
}

func (c *SessionController) markConnected(generation uint64) bool {
	c.mu.Lock()
	s := c.current
	if s == nil || s.generation != generation || s.state != domain.SessionStateConnecting {
		c.mu.Unlock()
		return false
	}
	s.state = domain.SessionStateConnected

	var muteTransport ports.Transport
	if s.resources != nil {
		if c.muted {
			muteTransport = s.resources.transport
		}
		if s.resources.graph != nil {
			s.resources.graph.SetGain(gainFor(c.volume))
		}
	}
	id := s.id
	c.mu.Unlock()

	var muteErr error
	if muteTransport != nil {
		muteErr = applyMute(muteTransport, true)
	}
	c.log.Info().Str("session_id", id).Msg("call connected")
	c.transition(domain.SessionStateConnected, domain.SessionReasonCallStarted)
	if muteErr != nil && c.isConnected(generation) {
		c.log.Warn().Err(muteErr).Msg("failed to apply mute on connect")
		c.events.SessionError(domain.ErrorCodeMute, "failed to toggle mute")
	}
	return true
}

func (c *SessionController) endCall(generation uint64, reason domain.SessionStateReason) bool {
	return c.leave(generation, domain.SessionStateEnded, reason, nil, "")
}

func (c *SessionController) failCall(generation uint64, err error, code domain.ErrorCode, reason domain.SessionStateReason) bool {
	return c.leave(generation, domain.SessionStateError, reason, err, code)
}

// leave moves a live session to Ended or Error, releases its resources and
// hands the transcript to the finalizer. Only the first caller wins.
func (c *SessionController) leave(
	generation uint64,
	state domain.SessionState,
	reason domain.SessionStateReason,
	cause error,
	code domain.ErrorCode,
) bool {
	c.mu.Lock()
	s := c.current
	if s == nil || s.generation != generation || !s.state.Live() {
		c.mu.Unlock()
		return false
	}
	s.state = state
	s.lastErr = cause
	s.markEnded(c.now())
	resources := s.resources
	s.resources = nil
	call := domain.CallTranscript{
		SessionID:  s.id,
		Language:   c.cfg.Credentials.Language,
		Transcript: s.buffer.transcript,
		Response:   s.buffer.response,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
	}
	s.buffer.reset()
	talkingWasSet := s.agentTalking || s.userTalking
	s.agentTalking = false
	s.userTalking = false
	c.mu.Unlock()

	c.releaseResources(s.id, resources)
	close(s.torndown)

	event := c.log.Info()
	if cause != nil {
		event = c.log.Error().Err(cause)
	}
	event.Str("session_id", s.id).Str("reason", string(reason)).Msg("call finished")

	if talkingWasSet {
		c.events.TalkingChanged(false, false)
	}
	// The error must precede the terminal transition.
	if cause != nil {
		c.events.SessionError(code, userMessage(cause))
	}
	c.transition(state, reason)
	c.finalizer.finalize(context.Background(), call)
	return true
}

func (c *SessionController) setAgentTalking(generation uint64, talking bool) bool {
	c.mu.Lock()
	s := c.current
	if s == nil || s.generation != generation || !s.state.Live() {
		c.mu.Unlock()
		return false
	}
	s.agentTalking = talking
	if talking {
		s.userTalking = false
	}
	agent, user := s.agentTalking, s.userTalking
	c.mu.Unlock()

	c.events.TalkingChanged(agent, user)
	return true
}

func (c *SessionController) setUserTalking(generation uint64, talking bool) bool {
	c.mu.Lock()
	s := c.current
	if s == nil || s.generation != generation || !s.state.Live() {
		c.mu.Unlock()
		return false
	}
	s.userSignals = true
	s.userTalking = talking
	if talking {
		s.agentTalking = false
	}
	agent, user := s.agentTalking, s.userTalking
	c.mu.Unlock()

	c.events.TalkingChanged(agent, user)
	return true
}

func (c *SessionController) applyUpdate(generation uint64, update domain.TranscriptUpdate) bool {
	c.mu.Lock()
	s := c.current
	if s == nil || s.generation != generation || !s.state.Live() {
		c.mu.Unlock()
		return false
	}
	transcriptChanged, _ := s.buffer.apply(update)
	hasTranscript := strings.TrimSpace(update.Transcript) != ""
	hasResponse := strings.TrimSpace(update.Response) != ""
	talkingChanged := false
	if transcriptChanged && !s.userSignals {
		talkingChanged = !s.userTalking || s.agentTalking
		s.userTalking = true
		s.agentTalking = false
	}
	agent, user := s.agentTalking, s.userTalking
	out := domain.TranscriptUpdate{}
	if hasTranscript {
		out.Transcript = s.buffer.transcript
	}
	if hasResponse {
		out.Response = s.buffer.response
	}
	c.mu.Unlock()

	if hasTranscript || hasResponse {
		c.events.TranscriptUpdated(out)
	}
	if talkingChanged {
		c.events.TalkingChanged(agent, user)
	}
	return true
}

func (c *SessionController) assignID(generation uint64, callID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isLive(generation) {
		return false
	}
	if id := strings.TrimSpace(callID); id != "" {
		c.current.id = id
	} else {
		c.current.id = uuid.NewString()
	}
	return true
}

func (c *SessionController) isConnected(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.generation == generation && c.current.state == domain.SessionStateConnected
}

// isLive must be called with c.mu held.
func (c *SessionController) isLive(generation uint64) bool {
	return c.current != nil && c.current.generation == generation && c.current.state.Live()
}

// startOutcome reports why a start that lost its session failed. A backend
// error that arrived while opening wins over a plain cancellation.
func (c *SessionController) startOutcome(active *session, resources *resourceSet) error {
	c.mu.Lock()
	state, cause := active.state, active.lastErr
	c.mu.Unlock()
	if state == domain.SessionStateError && cause != nil {
		c.releaseResources(active.id, resources)
		metrics.SessionStartsTotal.WithLabelValues("failed").Inc()
		return cause
	}
	return c.cancelled(resources)
}

func (c *SessionController) cancelled(resources *resourceSet) error {
	c.releaseResources("", resources)
	metrics.SessionStartsTotal.WithLabelValues("cancelled").Inc()
	c.log.Info().Msg("start cancelled by stop")
	return ErrStartCancelled
}

func (c *SessionController) reject(why string) error {
	metrics.SessionStartsTotal.WithLabelValues("rejected").Inc()
	c.log.Warn().Str("cause", why).Msg("start rejected")
	return ErrStartRejected
}

func (c *SessionController) releaseResources(sessionID string, resources *resourceSet) {
	if resources == nil {
		return
	}
	for _, err := range resources.release() {
		var releaseErr *ResourceReleaseError
		resource := "unknown"
		if errors.As(err, &releaseErr) {
			resource = releaseErr.Resource
		}
		metrics.ResourceReleaseErrorsTotal.WithLabelValues(resource).Inc()
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("resource cleanup failed")
	}
}

func (c *SessionController) transition(state domain.SessionState, reason domain.SessionStateReason) {
	metrics.SessionTransitionsTotal.WithLabelValues(string(state), string(reason)).Inc()
	c.events.SessionStateChanged(state, reason)
}

// userMessage keeps failure details out of the UI except for what the
// backend chose to say.
func userMessage(err error) string {
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.Message != "" {
		return backendErr.Message
	}
	return "connection failed"
}

func applyMute(transport ports.Transport, muted bool) error {
	if muted {
		return transport.Mute()
	}
	return transport.Unmute()
}

func clampVolume(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}

func gainFor(level int) float64 {
	return float64(level) / 100
}
