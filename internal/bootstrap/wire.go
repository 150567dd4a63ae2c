package bootstrap

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"voicedesk/internal/audio"
	"voicedesk/internal/config"
	"voicedesk/internal/crm"
	"voicedesk/internal/logger"
	"voicedesk/internal/ports"
	"voicedesk/internal/providers/voicews"
	"voicedesk/internal/rules"
	"voicedesk/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Facade *usecase.SessionFacade
	Config config.Config
	Logger zerolog.Logger

	outbox  *crm.Outbox
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// Build loads configuration from the environment and wires all backend
// dependencies.
func Build(events ports.EventSink, opts ...usecase.FacadeOption) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, logger.New(cfg.Log), events, opts...)
}

// Assemble wires the runtime from an already loaded config.
func Assemble(cfg config.Config, log zerolog.Logger, events ports.EventSink, opts ...usecase.FacadeOption) (*Services, error) {
	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	services := &Services{Config: cfg, Logger: log}

	var notes ports.NoteSink
	if cfg.CRM.Enabled {
		client := crm.NewClient(crm.ClientConfig{
			BaseURL:    cfg.CRM.BaseURL,
			APIKey:     cfg.CRM.APIKey,
			LocationID: cfg.CRM.LocationID,
			Timeout:    cfg.CRM.Timeout,
		})
		outbox, err := crm.OpenOutbox(crm.OutboxConfig{
			Path:          cfg.CRM.OutboxPath,
			MaxAttempts:   cfg.CRM.MaxAttempts,
			RetryInterval: cfg.CRM.RetryInterval,
		}, client, log)
		if err != nil {
			return nil, err
		}
		services.outbox = outbox
		notes = crm.NewContactRecorder(outbox, cfg.CRM.ContactID, log)
	}

	var graphs ports.AudioGraphFactory
	if cfg.Audio.Playback {
		graphs = audio.NewPlaybackFactory(audio.PlaybackConfig{
			Command:      cfg.Audio.FFMPEGCommand,
			OutputFormat: cfg.Audio.OutputFormat,
			OutputDevice: cfg.Audio.OutputDevice,
			Channels:     cfg.Audio.Channels,
		})
	}

	transports := voicews.NewFactory(voicews.Config{
		BaseURL:     cfg.Backend.URL,
		DialTimeout: cfg.Backend.DialTimeout,
		ChunkSize:   cfg.Audio.ChunkSize,
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
	}, audio.NewFFMPEGCapture(cfg.Audio.FFMPEGCommand), log)

	credentials := voicews.NewCredentialClient(voicews.CredentialConfig{
		BaseURL: cfg.Backend.CredentialURL,
		Path:    cfg.Backend.CredentialPath,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.CredentialTimeout,
	})

	services.Facade = usecase.NewSessionFacade(usecase.FacadeDeps{
		Credentials: credentials,
		Transports:  transports,
		Graphs:      graphs,
		Rules:       rulesEngine,
		Notes:       notes,
		Events:      events,
		Logger:      log,
	}, usecase.Config{
		Credentials: ports.CredentialRequest{
			Language: cfg.Session.Language,
			AgentID:  cfg.Session.AgentID,
		},
		SampleRate:    cfg.Audio.SampleRate,
		InitialVolume: cfg.Session.InitialVolume,
	}, opts...)

	return services, nil
}

// Start launches background workers. They stop on Close or when ctx ends.
func (s *Services) Start(ctx context.Context) {
	if s.outbox == nil || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Logger.Error().Err(err).Msg("crm outbox stopped")
		}
	}()
}

// Close unmounts the facade, waits for pending starts and stops workers.
func (s *Services) Close() error {
	s.Facade.Unmount()
	s.Facade.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	s.workers.Wait()
	if s.outbox != nil {
		return s.outbox.Close()
	}
	return nil
}
