package crm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"voicedesk/internal/metrics"
	"voicedesk/internal/observability"
)

const DefaultBaseURL = "https://rest.gohighlevel.com/v1"

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("crm temporarily unavailable")

// PermanentError is a request the CRM rejected; retrying it will not help.
type PermanentError struct {
	Operation string
	Status    int
	Body      string
}

func (e *PermanentError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("crm %s rejected with status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("crm %s rejected with status %d: %s", e.Operation, e.Status, e.Body)
}

// IsPermanent reports whether err will fail again on retry.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var invalid validator.ValidationErrors
	return errors.As(err, &invalid)
}

// ClientConfig holds the CRM account settings.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	LocationID string
	Timeout    time.Duration
}

// Contact is the payload for a new CRM contact.
type Contact struct {
	FirstName  string   `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName   string   `json:"lastName,omitempty" validate:"omitempty,max=100"`
	Email      string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string   `json:"phone,omitempty" validate:"omitempty,e164"`
	Source     string   `json:"source,omitempty" validate:"omitempty,max=100"`
	Tags       []string `json:"tags,omitempty" validate:"dive,required"`
	LocationID string   `json:"locationId" validate:"required"`
}

type note struct {
	Body string `json:"body" validate:"required,max=65000"`
}

// Document is a file attached to a contact.
type Document struct {
	Name        string `validate:"required"`
	ContentType string
	Content     []byte `validate:"required"`
}

type contactResponse struct {
	ID      string `json:"id"`
	Contact struct {
		ID string `json:"id"`
	} `json:"contact"`
}

func (r contactResponse) contactID() string {
	if r.Contact.ID != "" {
		return r.Contact.ID
	}
	return r.ID
}

// Client talks to the CRM REST API.
type Client struct {
	httpClient *resty.Client
	locationID string
	validate   *validator.Validate
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "crm",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})

	return &Client{
		httpClient: httpClient,
		locationID: cfg.LocationID,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		breaker:    breaker,
	}
}

// CreateContact creates a contact in the configured location and returns
// its id.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (string, error) {
	if contact.LocationID == "" {
		contact.LocationID = c.locationID
	}
	if err := c.validate.Struct(contact); err != nil {
		return "", fmt.Errorf("invalid contact: %w", err)
	}

	var result contactResponse
	err := c.do(ctx, "create_contact", func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(contact).SetResult(&result).Post("/contacts/")
	})
	if err != nil {
		return "", err
	}
	id := result.contactID()
	if id == "" {
		return "", errors.New("crm returned a contact without an id")
	}
	return id, nil
}

// AddNote appends a note to a contact.
func (c *Client) AddNote(ctx context.Context, contactID, body string) error {
	if strings.TrimSpace(contactID) == "" {
		return &PermanentError{Operation: "add_note", Body: "contact id is required"}
	}
	payload := note{Body: body}
	if err := c.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}
	return c.do(ctx, "add_note", func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(payload).Post("/contacts/{contactId}/notes")
	}, contactID)
}

// UploadDocument attaches a file to a contact as a multipart upload.
func (c *Client) UploadDocument(ctx context.Context, contactID string, doc Document) error {
	if strings.TrimSpace(contactID) == "" {
		return &PermanentError{Operation: "upload_document", Body: "contact id is required"}
	}
	if err := c.validate.Struct(doc); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	return c.do(ctx, "upload_document", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetMultipartField("file", doc.Name, contentType, bytes.NewReader(doc.Content)).
			SetFormData(map[string]string{"locationId": c.locationID}).
			Post("/contacts/{contactId}/documents")
	}, contactID)
}

func (c *Client) do(ctx context.Context, operation string, send func(*resty.Request) (*resty.Response, error), contactID ...string) error {
	ctx, span := observability.StartClientSpan(ctx, "crm."+operation, "crm")
	defer span.End()
	span.SetAttributes(attribute.String("crm.location_id", c.locationID))

	start := time.Now()
	defer func() {
		metrics.CRMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.httpClient.R().SetContext(ctx)
		if len(contactID) > 0 {
			req.SetPathParam("contactId", contactID[0])
		}
		resp, err := send(req)
		if err != nil {
			return nil, fmt.Errorf("crm %s request failed: %w", operation, err)
		}
		observability.SetHTTPStatus(span, resp.StatusCode())
		if !resp.IsError() {
			return nil, nil
		}
		status := resp.StatusCode()
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
			return nil, &PermanentError{Operation: operation, Status: status, Body: truncate(resp.String(), 256)}
		}
		return nil, fmt.Errorf("crm %s returned %d", operation, status)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	observability.RecordError(span, err)
	return err
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
