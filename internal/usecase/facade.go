package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
	"voicedesk/internal/ports"
)

// FacadeDeps are the collaborators a SessionFacade wires into its controller.
type FacadeDeps struct {
	Credentials ports.CredentialProvider
	Transports  ports.TransportFactory
	Graphs      ports.AudioGraphFactory
	Rules       ports.RulesEngine
	Notes       ports.NoteSink
	// Events receives every session event after the facade callbacks. Optional.
	Events ports.EventSink
	Logger zerolog.Logger
}

// FacadeOption configures a SessionFacade.
type FacadeOption func(*SessionFacade)

// WithOnTranscript registers a callback fired for every update that carries
// user transcript text.
func WithOnTranscript(fn func(text string)) FacadeOption {
	return func(f *SessionFacade) { f.onTranscript = fn }
}

// WithOnResponse registers a callback fired for every update that carries
// agent response text.
func WithOnResponse(fn func(text string)) FacadeOption {
	return func(f *SessionFacade) { f.onResponse = fn }
}

// SessionFacade is the UI-facing surface of a voice session. A host mounts
// it with an active flag and reads Snapshot; everything else is owned by
// the controller behind it.
type SessionFacade struct {
	controller *SessionController
	sink       ports.EventSink
	log        zerolog.Logger

	onTranscript func(string)
	onResponse   func(string)

	// intent is bumped by every deactivation so a start goroutine that has
	// not reached the controller yet can tell it was called off.
	intent atomic.Uint64

	mu      sync.Mutex
	mounted bool
	starts  sync.WaitGroup
	// lastStart is closed when the most recent background start returns.
	lastStart chan struct{}
}

func NewSessionFacade(deps FacadeDeps, cfg Config, opts ...FacadeOption) *SessionFacade {
	f := &SessionFacade{
		sink: deps.Events,
		log:  deps.Logger.With().Str("component", "facade").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.controller = NewSessionController(
		deps.Credentials,
		deps.Transports,
		deps.Graphs,
		deps.Rules,
		deps.Notes,
		f,
		deps.Logger,
		cfg,
	)
	return f
}

// Mount attaches the facade to a host and applies the initial active flag.
// Mounting an already mounted facade only re-applies the flag.
func (f *SessionFacade) Mount(ctx context.Context, active bool) error {
	f.mu.Lock()
	f.mounted = true
	f.mu.Unlock()
	return f.SetActive(ctx, active)
}

// SetActive starts a session in the background when active is true and
// stops the live one synchronously when false. Background starts run one
// after another, so an activation issued while an older start is still
// pending gets its own attempt once that start returns.
func (f *SessionFacade) SetActive(ctx context.Context, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return ErrNotMounted
	}
	if !active {
		f.intent.Add(1)
		f.controller.Stop(domain.SessionReasonUserStopped)
		return nil
	}

	previous := f.lastStart
	done := make(chan struct{})
	f.lastStart = done
	f.starts.Add(1)
	intent := f.intent.Load()
	go func() {
		defer f.starts.Done()
		defer close(done)
		if previous != nil {
			select {
			case <-previous:
			case <-ctx.Done():
				return
			}
		}
		if f.intent.Load() != intent {
			return
		}
		err := f.controller.start(ctx, func() bool { return f.intent.Load() == intent })
		switch {
		case err == nil:
		case errors.Is(err, ErrStartRejected), errors.Is(err, ErrStartCancelled):
			f.log.Debug().Err(err).Msg("start did not open a call")
		default:
			f.log.Error().Err(err).Msg("start failed")
		}
	}()
	return nil
}

// Unmount detaches the facade and tears down any live session. Pending
// starts finish on their own and release what they acquired.
func (f *SessionFacade) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return
	}
	f.mounted = false
	f.intent.Add(1)
	f.controller.Stop(domain.SessionReasonUnmounted)
}

// ToggleMute flips the mute preference and returns the new value.
func (f *SessionFacade) ToggleMute() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return false, ErrNotMounted
	}
	muted := !f.controller.Snapshot().Muted
	f.controller.SetMuted(muted)
	return muted, nil
}

// ChangeVolume sets the playback volume and returns the clamped value.
func (f *SessionFacade) ChangeVolume(level int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return 0, ErrNotMounted
	}
	return f.controller.SetVolume(level), nil
}

func (f *SessionFacade) Snapshot() domain.Snapshot {
	return f.controller.Snapshot()
}

// Wait blocks until every background start has returned.
func (f *SessionFacade) Wait() {
	f.starts.Wait()
}

func (f *SessionFacade) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if f.sink != nil {
		f.sink.SessionStateChanged(state, reason)
	}
}

func (f *SessionFacade) TranscriptUpdated(update domain.TranscriptUpdate) {
	if update.Transcript != "" && f.onTranscript != nil {
		f.onTranscript(update.Transcript)
	}
	if update.Response != "" && f.onResponse != nil {
		f.onResponse(update.Response)
	}
	if f.sink != nil {
		f.sink.TranscriptUpdated(update)
	}
}

func (f *SessionFacade) TalkingChanged(agentTalking bool, userTalking bool) {
	if f.sink != nil {
		f.sink.TalkingChanged(agentTalking, userTalking)
	}
}

func (f *SessionFacade) SessionError(code domain.ErrorCode, detail string) {
	if f.sink != nil {
		f.sink.SessionError(code, detail)
	}
}
