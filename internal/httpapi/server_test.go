package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedesk/internal/ports"
	"voicedesk/internal/providers/voicews"
)

type fakeCalls struct {
	agentID  string
	metadata map[string]string
	err      error
}

func (f *fakeCalls) CreateWebCall(_ context.Context, agentID string, metadata map[string]string) (WebCall, error) {
	f.agentID = agentID
	f.metadata = metadata
	if f.err != nil {
		return WebCall{}, f.err
	}
	return WebCall{AccessToken: "tok-" + agentID, CallID: "call-1"}, nil
}

func postCreateCall(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, CreateCallPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateCallReturnsToken(t *testing.T) {
	t.Parallel()

	calls := &fakeCalls{}
	server := New(Config{}, calls, zerolog.Nop())

	rec := postCreateCall(t, server, `{"language":"es","agentId":"agent-a"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp createCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok-agent-a", resp.AccessToken)
	assert.Equal(t, "call-1", resp.CallID)
	assert.Equal(t, "agent-a", calls.agentID)
	assert.Equal(t, "es", calls.metadata["language"])
}

func TestCreateCallUsesDefaultAgent(t *testing.T) {
	t.Parallel()

	calls := &fakeCalls{}
	server := New(Config{DefaultAgentID: "agent-default"}, calls, zerolog.Nop())

	rec := postCreateCall(t, server, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent-default", calls.agentID)
	assert.Equal(t, "en-US", calls.metadata["language"])
}

func TestCreateCallValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    Config
		body   string
		status int
	}{
		{name: "malformed json", body: `{"agentId":`, status: http.StatusBadRequest},
		{name: "missing agent", body: `{"language":"en"}`, status: http.StatusBadRequest},
		{name: "bad language", body: `{"agentId":"a","language":"???"}`, status: http.StatusBadRequest},
		{
			name:   "agent not allowed",
			cfg:    Config{AllowedAgents: []string{"agent-a"}},
			body:   `{"agentId":"agent-b"}`,
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := &fakeCalls{}
			rec := postCreateCall(t, New(tt.cfg, calls, zerolog.Nop()), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, calls.agentID, "provider must not be called")
		})
	}
}

func TestCreateCallMapsProviderFailure(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	server := New(Config{}, &fakeCalls{err: errors.New("boom")}, zerolog.New(&logs))
	rec := postCreateCall(t, server, `{"agentId":"agent-a"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.Equal(t, 1, strings.Count(logs.String(), "boom"), "upstream failure must be logged once: %s", logs.String())
	assert.Contains(t, logs.String(), "agent-a")
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := New(Config{}, &fakeCalls{}, zerolog.Nop())
	require.Equal(t, http.StatusOK, postCreateCall(t, server, `{"agentId":"agent-a"}`).Code)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicedesk_gateway_requests_total")
}

func TestGatewayServesCredentialClient(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := New(Config{ShutdownTimeout: time.Second}, &fakeCalls{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	client := voicews.NewCredentialClient(voicews.CredentialConfig{
		BaseURL: "http://" + listener.Addr().String(),
		Timeout: 2 * time.Second,
	})
	credential, err := client.FetchCredential(context.Background(), ports.CredentialRequest{
		Language: "en-US",
		AgentID:  "agent-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-agent-a", credential.AccessToken)
	assert.Equal(t, "call-1", credential.CallID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
