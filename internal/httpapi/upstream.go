package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"

	"voicedesk/internal/observability"
)

const (
	DefaultUpstreamURL = "https://api.retellai.com"
	createWebCallPath  = "/v2/create-web-call"
)

// WebCall is the provider's answer to a web call request.
type WebCall struct {
	AccessToken string `json:"access_token"`
	CallID      string `json:"call_id"`
	AgentID     string `json:"agent_id,omitempty"`
}

type webCallRequest struct {
	AgentID  string            `json:"agent_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpstreamClient creates web calls with the server-held provider key.
type UpstreamClient struct {
	httpClient *resty.Client
}

func NewUpstreamClient(baseURL, apiKey string, timeout time.Duration) *UpstreamClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultUpstreamURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &UpstreamClient{httpClient: client}
}

func (c *UpstreamClient) CreateWebCall(ctx context.Context, agentID string, metadata map[string]string) (WebCall, error) {
	ctx, span := observability.StartClientSpan(ctx, "gateway.CreateWebCall", "voice-provider")
	defer span.End()
	span.SetAttributes(attribute.String("voice.agent_id", agentID))

	var call WebCall
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(webCallRequest{AgentID: agentID, Metadata: metadata}).
		SetResult(&call).
		Post(createWebCallPath)
	if err != nil {
		observability.RecordError(span, err)
		return WebCall{}, fmt.Errorf("create web call request failed: %w", err)
	}
	observability.SetHTTPStatus(span, resp.StatusCode())
	if resp.IsError() {
		err := fmt.Errorf("voice provider returned %d", resp.StatusCode())
		observability.RecordError(span, err)
		return WebCall{}, err
	}
	if strings.TrimSpace(call.AccessToken) == "" {
		err := errors.New("voice provider returned no access token")
		observability.RecordError(span, err)
		return WebCall{}, err
	}
	return call, nil
}
