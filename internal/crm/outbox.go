package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
	"voicedesk/internal/metrics"
)

// JobKind identifies what an outbox job delivers.
type JobKind string

const JobCallNote JobKind = "call_note"

const (
	jobPrefix = "job/"

	// Transcripts longer than this are also attached as a document.
	documentThreshold = 4000
	maxBackoff        = 30 * time.Minute
)

// API is the subset of the CRM client the outbox drives.
type API interface {
	CreateContact(ctx context.Context, contact Contact) (string, error)
	AddNote(ctx context.Context, contactID, body string) error
	UploadDocument(ctx context.Context, contactID string, doc Document) error
}

// Job is one pending CRM delivery.
type Job struct {
	ID          string                `json:"id"`
	Kind        JobKind               `json:"kind"`
	ContactID   string                `json:"contact_id,omitempty"`
	Call        domain.CallTranscript `json:"call"`
	NoteAdded   bool                  `json:"note_added,omitempty"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	NextAttempt time.Time             `json:"next_attempt"`
}

func (j Job) key() []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", jobPrefix, j.CreatedAt.UnixNano(), j.ID))
}

// OutboxConfig controls storage and retry behavior.
type OutboxConfig struct {
	// Path is the badger directory. Empty keeps the queue in memory.
	Path          string
	MaxAttempts   int
	RetryInterval time.Duration
	PollInterval  time.Duration
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Outbox is a durable queue of CRM deliveries drained by Run.
type Outbox struct {
	db  *badger.DB
	api API
	cfg OutboxConfig
	log zerolog.Logger

	wake chan struct{}
	now  func() time.Time

	closeOnce sync.Once
}

func OpenOutbox(cfg OutboxConfig, api API, log zerolog.Logger) (*Outbox, error) {
	cfg = cfg.withDefaults()
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if strings.TrimSpace(cfg.Path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open crm outbox: %w", err)
	}
	return &Outbox{
		db:   db,
		api:  api,
		cfg:  cfg,
		log:  log.With().Str("component", "crm_outbox").Logger(),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}, nil
}

// Enqueue stores a job and nudges the worker. It only touches local storage.
func (o *Outbox) Enqueue(job Job) (Job, error) {
	if job.Kind == "" {
		return Job{}, errors.New("job kind is required")
	}
	now := o.now()
	job.ID = uuid.NewString()
	job.CreatedAt = now
	job.NextAttempt = now
	job.Attempts = 0
	if err := o.put(job); err != nil {
		return Job{}, err
	}
	metrics.CRMJobsTotal.WithLabelValues(string(job.Kind), "enqueued").Inc()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Pending returns every stored job in enqueue order.
func (o *Outbox) Pending() ([]Job, error) {
	var jobs []Job
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job Job
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				o.log.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping unreadable job")
				continue
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

// Run drains due jobs until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		o.Drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// Drain attempts every job that is due and returns how many were delivered.
func (o *Outbox) Drain(ctx context.Context) int {
	jobs, err := o.Pending()
	if err != nil {
		o.log.Error().Err(err).Msg("failed to list outbox jobs")
		return 0
	}
	delivered := 0
	now := o.now()
	for _, job := range jobs {
		if ctx.Err() != nil {
			return delivered
		}
		if job.NextAttempt.After(now) {
			continue
		}
		if o.attempt(ctx, job) {
			delivered++
		}
	}
	return delivered
}

func (o *Outbox) attempt(ctx context.Context, job Job) bool {
	log := o.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	err := o.deliver(ctx, &job)
	if err == nil {
		if err := o.remove(job); err != nil {
			log.Error().Err(err).Msg("delivered job could not be removed")
		}
		metrics.CRMJobsTotal.WithLabelValues(string(job.Kind), "delivered").Inc()
		log.Info().Str("contact_id", job.ContactID).Msg("crm job delivered")
		return true
	}

	job.Attempts++
	job.LastError = err.Error()
	if IsPermanent(err) || job.Attempts >= o.cfg.MaxAttempts {
		if rmErr := o.remove(job); rmErr != nil {
			log.Error().Err(rmErr).Msg("failed job could not be removed")
		}
		metrics.CRMJobsTotal.WithLabelValues(string(job.Kind), "dropped").Inc()
		log.Error().Err(err).Int("attempts", job.Attempts).Msg("dropping crm job")
		return false
	}

	job.NextAttempt = o.now().Add(o.backoff(job.Attempts))
	if putErr := o.put(job); putErr != nil {
		log.Error().Err(putErr).Msg("failed to reschedule crm job")
	}
	metrics.CRMJobsTotal.WithLabelValues(string(job.Kind), "retried").Inc()
	log.Warn().Err(err).Int("attempts", job.Attempts).Time("next_attempt", job.NextAttempt).Msg("crm job will be retried")
	return false
}

// deliver advances a job one step at a time and persists progress so a retry
// never creates a second contact or a duplicate note.
func (o *Outbox) deliver(ctx context.Context, job *Job) error {
	if job.Kind != JobCallNote {
		return &PermanentError{Operation: "deliver", Body: "unknown job kind " + string(job.Kind)}
	}

	if job.ContactID == "" {
		id, err := o.api.CreateContact(ctx, callerContact(job.Call))
		if err != nil {
			return err
		}
		job.ContactID = id
		if err := o.put(*job); err != nil {
			return err
		}
	}

	if !job.NoteAdded {
		if err := o.api.AddNote(ctx, job.ContactID, FormatCallNote(job.Call)); err != nil {
			return err
		}
		job.NoteAdded = true
		if err := o.put(*job); err != nil {
			return err
		}
	}

	if len(job.Call.Transcript)+len(job.Call.Response) > documentThreshold {
		return o.api.UploadDocument(ctx, job.ContactID, Document{
			Name:        fmt.Sprintf("voice-call-%s.txt", job.Call.SessionID),
			ContentType: "text/plain",
			Content:     []byte(FormatCallNote(job.Call)),
		})
	}
	return nil
}

func (o *Outbox) backoff(attempts int) time.Duration {
	delay := o.cfg.RetryInterval
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (o *Outbox) put(job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(job.key(), payload)
	})
}

func (o *Outbox) remove(job Job) error {
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(job.key())
	})
}

func (o *Outbox) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.db.Close()
	})
	return err
}

func callerContact(call domain.CallTranscript) Contact {
	tags := []string{"voice-call"}
	if call.Language != "" {
		tags = append(tags, "lang:"+strings.ToLower(call.Language))
	}
	return Contact{
		FirstName: "Voice",
		LastName:  "Caller",
		Source:    "voicedesk",
		Tags:      tags,
	}
}

// FormatCallNote renders a call as a CRM note body.
func FormatCallNote(call domain.CallTranscript) string {
	var b strings.Builder
	b.WriteString("Voice call")
	if call.SessionID != "" {
		b.WriteString(" ")
		b.WriteString(call.SessionID)
	}
	b.WriteString("\n")
	if !call.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n", call.StartedAt.UTC().Format(time.RFC3339))
	}
	if !call.EndedAt.IsZero() {
		fmt.Fprintf(&b, "Ended: %s\n", call.EndedAt.UTC().Format(time.RFC3339))
		if !call.StartedAt.IsZero() {
			fmt.Fprintf(&b, "Duration: %s\n", call.EndedAt.Sub(call.StartedAt).Round(time.Second))
		}
	}
	if call.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", call.Language)
	}
	if call.Transcript != "" {
		fmt.Fprintf(&b, "\nCaller:\n%s\n", call.Transcript)
	}
	if call.Response != "" {
		fmt.Fprintf(&b, "\nAgent:\n%s\n", call.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}
