package voicews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"

	"voicedesk/internal/observability"
	"voicedesk/internal/ports"
)

const defaultCreateCallPath = "/api/voice/create-call"

var ErrMissingAccessToken = errors.New("no access token received")

// CredentialConfig controls the credential exchange endpoint.
type CredentialConfig struct {
	BaseURL string
	Path    string
	APIKey  string
	Timeout time.Duration
}

// CredentialClient implements ports.CredentialProvider over HTTP.
type CredentialClient struct {
	httpClient *resty.Client
	path       string
}

func NewCredentialClient(cfg CredentialConfig) *CredentialClient {
	if cfg.Path == "" {
		cfg.Path = defaultCreateCallPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &CredentialClient{httpClient: client, path: cfg.Path}
}

// FetchCredential exchanges the agent request for a short-lived token. A
// response without a token is an error.
func (c *CredentialClient) FetchCredential(ctx context.Context, req ports.CredentialRequest) (ports.Credential, error) {
	ctx, span := observability.StartClientSpan(ctx, "voicews.FetchCredential", "voice-backend")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.language", req.Language),
		attribute.String("voice.agent_id", req.AgentID),
	)

	var credential ports.Credential
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&credential).
		Post(c.path)
	if err != nil {
		observability.RecordError(span, err)
		return ports.Credential{}, fmt.Errorf("credential request failed: %w", err)
	}
	observability.SetHTTPStatus(span, resp.StatusCode())
	if resp.IsError() {
		err := fmt.Errorf("credential endpoint returned %d", resp.StatusCode())
		observability.RecordError(span, err)
		return ports.Credential{}, err
	}
	if strings.TrimSpace(credential.AccessToken) == "" {
		observability.RecordError(span, ErrMissingAccessToken)
		return ports.Credential{}, ErrMissingAccessToken
	}
	return credential, nil
}
