package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"voicedesk/internal/domain"
	"voicedesk/internal/ports"
)

type session struct {
	id         string
	generation uint64
	state      domain.SessionState
	startedAt  time.Time
	endedAt    time.Time
	lastErr    error

	resources *resourceSet
	buffer    transcriptBuffer

	agentTalking bool
	userTalking  bool
	// userSignals is set once the backend reports user turns explicitly; from
	// then on transcript updates no longer drive userTalking.
	userSignals bool

	// torndown is closed after the session left a live state and its
	// resources were released.
	torndown chan struct{}
}

func newSession(generation uint64, now time.Time) *session {
	return &session{
		generation: generation,
		state:      domain.SessionStateConnecting,
		startedAt:  now,
		torndown:   make(chan struct{}),
	}
}

// markEnded stamps endedAt on the first transition out of a live state.
func (s *session) markEnded(now time.Time) {
	if s.endedAt.IsZero() {
		s.endedAt = now
	}
}

// subscriptionRegistry maps event names to the handlers registered on a
// transport so that teardown removes exactly what was added.
type subscriptionRegistry struct {
	handlers map[string]ports.EventHandler
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{handlers: make(map[string]ports.EventHandler)}
}

func (r *subscriptionRegistry) register(transport ports.Transport, event string, handler ports.EventHandler) {
	transport.On(event, handler)
	r.handlers[event] = handler
}

func (r *subscriptionRegistry) names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *subscriptionRegistry) remove(event string) {
	delete(r.handlers, event)
}

func (r *subscriptionRegistry) len() int {
	return len(r.handlers)
}

// resourceSet is owned by exactly one session and released exactly once.
type resourceSet struct {
	transport     ports.Transport
	graph         ports.AudioGraph
	subscriptions *subscriptionRegistry

	mu          sync.Mutex
	released    bool
	releaseErrs []error
}

func newResourceSet(transport ports.Transport) *resourceSet {
	return &resourceSet{
		transport:     transport,
		subscriptions: newSubscriptionRegistry(),
	}
}

// release unregisters every subscription, stops the transport and closes the
// audio graph. Each step runs even if an earlier one failed.
func (r *resourceSet) release() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true

	var errs []error
	if r.transport != nil {
		for _, name := range r.subscriptions.names() {
			event := name
			if err := releaseStep("subscription:"+event, func() error {
				r.transport.Off(event)
				return nil
			}); err != nil {
				errs = append(errs, err)
			}
			r.subscriptions.remove(event)
		}
		if err := releaseStep("transport", r.transport.StopCall); err != nil {
			errs = append(errs, err)
		}
	}
	if r.graph != nil {
		if err := releaseStep("audio_graph", r.graph.Close); err != nil {
			errs = append(errs, err)
		}
	}
	r.releaseErrs = errs
	return errs
}

func (r *resourceSet) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func releaseStep(resource string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &ResourceReleaseError{Resource: resource, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	if stepErr := fn(); stepErr != nil {
		return &ResourceReleaseError{Resource: resource, Err: stepErr}
	}
	return nil
}
