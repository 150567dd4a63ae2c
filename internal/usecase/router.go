package usecase

import (
	"errors"

	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
	"voicedesk/internal/metrics"
	"voicedesk/internal/ports"
)

// routedEvents is the backend vocabulary the router subscribes to.
var routedEvents = []string{
	ports.EventCallStarted,
	ports.EventCallEnded,
	ports.EventError,
	ports.EventAgentStartTalking,
	ports.EventAgentStopTalking,
	ports.EventUpdate,
	ports.EventUserStartTalking,
	ports.EventUserStopTalking,
	ports.EventDisconnected,
}

// sessionMachine is the set of transitions the router may drive. Every method
// reports whether the event was applied to the session of that generation.
type sessionMachine interface {
	markConnected(generation uint64) bool
	endCall(generation uint64, reason domain.SessionStateReason) bool
	failCall(generation uint64, err error, code domain.ErrorCode, reason domain.SessionStateReason) bool
	setAgentTalking(generation uint64, talking bool) bool
	setUserTalking(generation uint64, talking bool) bool
	applyUpdate(generation uint64, update domain.TranscriptUpdate) bool
}

// eventRouter turns transport events into exactly one transition or UI
// signal each. It never reorders: handlers run on the transport's delivery
// goroutine.
type eventRouter struct {
	machine sessionMachine
	log     zerolog.Logger
}

func newEventRouter(machine sessionMachine, log zerolog.Logger) *eventRouter {
	return &eventRouter{machine: machine, log: log}
}

// handler binds a subscription to one session generation.
func (r *eventRouter) handler(generation uint64, name string) ports.EventHandler {
	return func(event ports.TransportEvent) {
		event.Name = name
		r.dispatch(generation, event)
	}
}

func (r *eventRouter) dispatch(generation uint64, event ports.TransportEvent) {
	var applied bool

	switch event.Name {
	case ports.EventCallStarted:
		applied = r.machine.markConnected(generation)
	case ports.EventCallEnded:
		applied = r.machine.endCall(generation, domain.SessionReasonCallEnded)
	case ports.EventError:
		err := &BackendError{Code: event.Code, Message: event.Message}
		if err.Message == "" {
			err.Message = "connection failed"
		}
		applied = r.machine.failCall(generation, err, domain.ErrorCodeBackend, domain.SessionReasonBackendError)
	case ports.EventDisconnected:
		message := event.Message
		if message == "" {
			message = "connection lost"
		}
		err := &TransportError{Err: errors.New(message)}
		applied = r.machine.failCall(generation, err, domain.ErrorCodeTransport, domain.SessionReasonTransportFailed)
	case ports.EventAgentStartTalking:
		applied = r.machine.setAgentTalking(generation, true)
	case ports.EventAgentStopTalking:
		applied = r.machine.setAgentTalking(generation, false)
	case ports.EventUserStartTalking:
		applied = r.machine.setUserTalking(generation, true)
	case ports.EventUserStopTalking:
		applied = r.machine.setUserTalking(generation, false)
	case ports.EventUpdate:
		applied = r.machine.applyUpdate(generation, domain.TranscriptUpdate{
			Transcript: event.Transcript,
			Response:   event.Response,
		})
	default:
		r.log.Debug().Str("event", event.Name).Msg("ignoring unknown transport event")
		return
	}

	if !applied {
		metrics.DroppedEventsTotal.WithLabelValues(event.Name).Inc()
		r.log.Debug().
			Str("event", event.Name).
			Uint64("generation", generation).
			Msg("dropped event for a session that is no longer live")
	}
}
