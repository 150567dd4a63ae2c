package crm

import (
	"context"

	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
)

type enqueuer interface {
	Enqueue(job Job) (Job, error)
}

// ContactRecorder queues a note for every ended call. It implements
// ports.NoteSink.
type ContactRecorder struct {
	outbox    enqueuer
	contactID string
	log       zerolog.Logger
}

// NewContactRecorder returns a recorder that files notes under contactID.
// With an empty contactID a contact is created per call.
func NewContactRecorder(outbox enqueuer, contactID string, log zerolog.Logger) *ContactRecorder {
	return &ContactRecorder{
		outbox:    outbox,
		contactID: contactID,
		log:       log.With().Str("component", "crm_recorder").Logger(),
	}
}

func (r *ContactRecorder) RecordCall(_ context.Context, call domain.CallTranscript) {
	job, err := r.outbox.Enqueue(Job{
		Kind:      JobCallNote,
		ContactID: r.contactID,
		Call:      call,
	})
	if err != nil {
		r.log.Error().Err(err).Str("session_id", call.SessionID).Msg("failed to queue call note")
		return
	}
	r.log.Debug().Str("job_id", job.ID).Str("session_id", call.SessionID).Msg("call note queued")
}
