package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"voicedesk/internal/config"
	"voicedesk/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VOICEDESK_SESSION_AGENT_ID", "agent-a")
	t.Setenv("VOICEDESK_AUDIO_PLAYBACK", "false")

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Facade == nil {
		t.Fatalf("expected facade")
	}
	if services.Config.Session.AgentID != "agent-a" {
		t.Fatalf("config not loaded: %+v", services.Config.Session)
	}
	if snap := services.Facade.Snapshot(); snap.State != domain.SessionStateIdle || snap.Volume != 70 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("VOICEDESK_RULES_PATH", rules)

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestAssembleWithCRMRunsOutbox(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CRM.Enabled = true
	cfg.CRM.BaseURL = "http://127.0.0.1:1"
	cfg.CRM.APIKey = "key"
	cfg.CRM.OutboxPath = filepath.Join(t.TempDir(), "outbox")

	services, err := Assemble(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if services.outbox == nil {
		t.Fatalf("expected outbox when the crm is enabled")
	}

	services.Start(context.Background())
	if err := services.Facade.Mount(context.Background(), false); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if err := services.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := os.Stat(cfg.CRM.OutboxPath); err != nil {
		t.Fatalf("outbox directory not created: %v", err)
	}
}

func TestAssembleWithoutCRM(t *testing.T) {
	t.Parallel()

	services, err := Assemble(testConfig(t), zerolog.Nop(), noopEventSink{})
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	services.Start(context.Background())
	if services.outbox != nil {
		t.Fatalf("outbox must stay closed when the crm is disabled")
	}
	if err := services.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{}
	cfg.Backend.URL = "http://127.0.0.1:1"
	cfg.Backend.CredentialURL = "http://127.0.0.1:1"
	cfg.Audio.SampleRate = 24000
	cfg.Audio.Channels = 1
	cfg.Audio.ChunkSize = 4096
	cfg.Session.Language = "en-US"
	cfg.Session.InitialVolume = 70
	cfg.Rules.IterationLimit = 30
	return cfg
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopEventSink) TranscriptUpdated(domain.TranscriptUpdate)                          {}
func (noopEventSink) TalkingChanged(bool, bool)                                          {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                              {}
