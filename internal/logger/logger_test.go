package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"voicedesk/internal/config"
)

func TestNewWithWriterJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &out)
	log.Debug().Str("session_id", "s1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(out.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", out.String(), err)
	}
	if line["service"] != "voicedesk" || line["session_id"] != "s1" || line["message"] != "hello" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &out)
	log.Info().Msg("dropped")

	if out.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %q", out.String())
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	if got := parseLevel("loud"); got != zerolog.InfoLevel {
		t.Fatalf("expected info, got %s", got)
	}
	if got := parseLevel("ERROR"); got != zerolog.ErrorLevel {
		t.Fatalf("expected error, got %s", got)
	}
}
