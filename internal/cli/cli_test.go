package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
)

func testDeps(out *bytes.Buffer) *Dependencies {
	cfg := config.Config{}
	cfg.Backend.URL = "http://localhost:8090"
	cfg.Backend.CredentialURL = "http://localhost:8090"
	cfg.Backend.CredentialPath = "/api/voice/create-call"
	cfg.Audio.FFMPEGCommand = "ffmpeg"
	cfg.Audio.InputFormat = "pulse"
	cfg.Audio.InputDevice = "default"
	cfg.Audio.SampleRate = 24000
	cfg.Session.Language = "en-US"
	cfg.Rules.IterationLimit = 30
	cfg.Gateway.Addr = "127.0.0.1:0"
	return &Dependencies{Config: cfg, Logger: zerolog.Nop(), Out: out}
}

func TestRootRegistersCommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd(testDeps(&bytes.Buffer{}))
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"call", "serve", "doctor"}, names)
}

func TestDoctorReportsMissingPrerequisites(t *testing.T) {
	original := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	defer func() { lookPath = original }()

	out := &bytes.Buffer{}
	root := NewRootCmd(testDeps(out))
	root.SetArgs([]string{"doctor"})
	require.NoError(t, root.Execute())

	report := out.String()
	assert.Contains(t, report, "❌ ffmpeg")
	assert.Contains(t, report, "❌ Agent")
	assert.Contains(t, report, "✅ CRM: disabled")
	assert.Contains(t, report, "Some prerequisites are missing.")
}

func TestDoctorAllGood(t *testing.T) {
	original := lookPath
	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	defer func() { lookPath = original }()

	out := &bytes.Buffer{}
	deps := testDeps(out)
	deps.Config.Session.AgentID = "agent-a"
	root := NewRootCmd(deps)
	root.SetArgs([]string{"doctor"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "✅ ffmpeg: /usr/bin/ffmpeg")
	assert.Contains(t, out.String(), "All prerequisites met")
}

func TestServeRequiresProviderKey(t *testing.T) {
	t.Parallel()

	root := NewRootCmd(testDeps(&bytes.Buffer{}))
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_API_KEY")
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()

	deps := testDeps(&bytes.Buffer{})
	deps.Config.Gateway.UpstreamAPIKey = "provider-key"
	deps.Config.Gateway.ShutdownTimeout = time.Second
	root := NewRootCmd(deps)
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, root.ExecuteContext(ctx))
}

func TestCallMutedReportsFailedStart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := &bytes.Buffer{}
	deps := testDeps(out)
	deps.Config.Backend.CredentialURL = srv.URL
	deps.Config.Session.AgentID = "agent-a"
	root := NewRootCmd(deps)
	root.SetArgs([]string{"call", "--muted", "--max-duration", "5s"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call failed: connection failed")
	assert.NotContains(t, err.Error(), "not mounted")
	assert.Contains(t, out.String(), "Microphone muted")
	assert.NotContains(t, out.String(), "Call ended")
}

func TestCallPrinterErrorStateIsAFailure(t *testing.T) {
	t.Parallel()

	printer := newCallPrinter(newFormatter(&bytes.Buffer{}))
	printer.SessionStateChanged(domain.SessionStateError, domain.SessionReasonTransportFailed)

	<-printer.finished()
	assert.Equal(t, string(domain.SessionReasonTransportFailed), printer.failure())
}

func TestCallPrinterPrintsFinishedTurns(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	printer := newCallPrinter(newFormatter(out))

	printer.TalkingChanged(false, true)
	printer.transcript("hel")
	printer.transcript("hello there")
	printer.TalkingChanged(true, false)
	printer.response("hi, how can I help")
	printer.TalkingChanged(false, false)
	printer.TalkingChanged(false, false)
	printer.flush()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"🧑 hello there", "🤖 hi, how can I help"}, lines)
}

func TestCallPrinterTracksEndAndFailure(t *testing.T) {
	t.Parallel()

	printer := newCallPrinter(newFormatter(&bytes.Buffer{}))

	printer.SessionError(domain.ErrorCodeMute, "mute failed")
	assert.Empty(t, printer.failure(), "mute errors do not fail the call")

	printer.SessionStateChanged(domain.SessionStateError, domain.SessionReasonBackendError)
	printer.SessionError(domain.ErrorCodeBackend, "agent offline")
	printer.SessionStateChanged(domain.SessionStateEnded, domain.SessionReasonCallEnded)

	select {
	case <-printer.finished():
	default:
		t.Fatal("printer should report the call as finished")
	}
	assert.Equal(t, "agent offline", printer.failure())
}
