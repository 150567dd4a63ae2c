package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

const envPrefix = "VOICEDESK_"

// Config stores runtime configuration for the voice desk.
type Config struct {
	Backend BackendConfig `envPrefix:"BACKEND_"`
	Audio   AudioConfig   `envPrefix:"AUDIO_"`
	Session SessionConfig `envPrefix:"SESSION_"`
	CRM     CRMConfig     `envPrefix:"CRM_"`
	Gateway GatewayConfig `envPrefix:"GATEWAY_"`
	Rules   RulesConfig   `envPrefix:"RULES_"`
	Log     LogConfig     `envPrefix:"LOG_"`
}

type BackendConfig struct {
	// URL is the voice websocket origin; http(s) is rewritten to ws(s).
	URL               string        `env:"URL" envDefault:"http://localhost:8090"`
	CredentialURL     string        `env:"CREDENTIAL_URL" envDefault:"http://localhost:8090"`
	CredentialPath    string        `env:"CREDENTIAL_PATH" envDefault:"/api/voice/create-call"`
	APIKey            string        `env:"API_KEY"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`
	CredentialTimeout time.Duration `env:"CREDENTIAL_TIMEOUT" envDefault:"15s"`
}

type AudioConfig struct {
	FFMPEGCommand string `env:"FFMPEG_COMMAND" envDefault:"ffmpeg"`
	InputFormat   string `env:"INPUT_FORMAT" envDefault:"pulse"`
	InputDevice   string `env:"INPUT_DEVICE" envDefault:"default"`
	OutputFormat  string `env:"OUTPUT_FORMAT" envDefault:"pulse"`
	OutputDevice  string `env:"OUTPUT_DEVICE" envDefault:"default"`
	SampleRate    int    `env:"SAMPLE_RATE" envDefault:"24000"`
	Channels      int    `env:"CHANNELS" envDefault:"1"`
	ChunkSize     int    `env:"CHUNK_SIZE" envDefault:"4096"`
	Playback      bool   `env:"PLAYBACK" envDefault:"true"`
}

type SessionConfig struct {
	Language      string `env:"LANGUAGE" envDefault:"en-US"`
	AgentID       string `env:"AGENT_ID"`
	InitialVolume int    `env:"INITIAL_VOLUME" envDefault:"70"`
}

type CRMConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	BaseURL       string        `env:"BASE_URL"`
	APIKey        string        `env:"API_KEY"`
	LocationID    string        `env:"LOCATION_ID"`
	ContactID     string        `env:"CONTACT_ID"`
	OutboxPath    string        `env:"OUTBOX_PATH"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"30s"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type GatewayConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8090"`
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	UpstreamAPIKey  string        `env:"UPSTREAM_API_KEY"`
	DefaultAgentID  string        `env:"DEFAULT_AGENT_ID"`
	AllowedAgents   []string      `env:"ALLOWED_AGENTS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type RulesConfig struct {
	Path           string `env:"PATH"`
	IterationLimit int    `env:"ITERATION_LIMIT" envDefault:"30"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"`
}

// Load resolves configuration from VOICEDESK_* environment variables and
// defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	if strings.TrimSpace(cfg.Rules.Path) == "" {
		cfg.Rules.Path = firstExisting(
			filepath.Join(home, ".config", "voicedesk", "substitutions.rules"),
			filepath.Join(home, ".config", "voicedesk", "redactions.rules"),
		)
	}
	if strings.TrimSpace(cfg.CRM.OutboxPath) == "" {
		cfg.CRM.OutboxPath = filepath.Join(home, ".local", "state", "voicedesk", "outbox")
	}

	tag, err := language.Parse(strings.TrimSpace(cfg.Session.Language))
	if err != nil {
		return Config{}, fmt.Errorf("invalid VOICEDESK_SESSION_LANGUAGE %q: %w", cfg.Session.Language, err)
	}
	cfg.Session.Language = tag.String()
	cfg.Session.AgentID = strings.TrimSpace(cfg.Session.AgentID)
	cfg.Gateway.AllowedAgents = trimAll(cfg.Gateway.AllowedAgents)

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 24000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Session.InitialVolume < 0 || cfg.Session.InitialVolume > 100 {
		cfg.Session.InitialVolume = 70
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.CRM.MaxAttempts <= 0 {
		cfg.CRM.MaxAttempts = 5
	}

	if cfg.CRM.Enabled {
		if strings.TrimSpace(cfg.CRM.BaseURL) == "" || strings.TrimSpace(cfg.CRM.APIKey) == "" {
			return Config{}, errors.New("VOICEDESK_CRM_BASE_URL and VOICEDESK_CRM_API_KEY are required when the CRM is enabled")
		}
	}

	return cfg, nil
}

// LoadEnvFiles overlays .env files onto the process environment. Missing
// files are skipped.
func LoadEnvFiles(paths ...string) []error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var errs []error
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", path, err))
		}
	}
	return errs
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
