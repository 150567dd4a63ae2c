package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicedesk/internal/bootstrap"
	"voicedesk/internal/domain"
	"voicedesk/internal/usecase"
)

const (
	eventSession    = "voicedesk:session"
	eventTranscript = "voicedesk:transcript"
	eventTalking    = "voicedesk:talking"
	eventError      = "voicedesk:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	services.Start(ctx)
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Error().Err(err).Msg("shutdown failed")
	}
}

// Mount attaches the voice widget. active starts a call right away.
func (a *App) Mount(active bool) (domain.Snapshot, error) {
	facade, err := a.facade()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := facade.Mount(a.ctx, active); err != nil {
		return domain.Snapshot{}, err
	}
	return facade.Snapshot(), nil
}

// SetActive opens or ends the call.
func (a *App) SetActive(active bool) (domain.Snapshot, error) {
	facade, err := a.facade()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := facade.SetActive(a.ctx, active); err != nil {
		return domain.Snapshot{}, err
	}
	return facade.Snapshot(), nil
}

// Unmount detaches the widget and ends any live call.
func (a *App) Unmount() {
	if facade, err := a.facade(); err == nil {
		facade.Unmount()
	}
}

func (a *App) ToggleMute() (bool, error) {
	facade, err := a.facade()
	if err != nil {
		return false, err
	}
	return facade.ToggleMute()
}

func (a *App) ChangeVolume(level int) (int, error) {
	facade, err := a.facade()
	if err != nil {
		return 0, err
	}
	return facade.ChangeVolume(level)
}

// GetSnapshot returns the current session view.
func (a *App) GetSnapshot() domain.Snapshot {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Snapshot{State: domain.SessionStateError, LastError: a.bootErr.Error()}
		}
		return domain.Snapshot{State: domain.SessionStateIdle, Volume: usecase.DefaultVolume}
	}
	return a.services.Facade.Snapshot()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"backend":    cfg.Backend.URL,
		"language":   cfg.Session.Language,
		"agent":      cfg.Session.AgentID,
		"rulesFile":  cfg.Rules.Path,
		"audioInput": cfg.Audio.InputDevice,
		"playback":   fmt.Sprintf("%t", cfg.Audio.Playback),
		"crm":        fmt.Sprintf("%t", cfg.CRM.Enabled),
	}
}

func (a *App) facade() (*usecase.SessionFacade, error) {
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	if a.services == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.services.Facade, nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptUpdated emits the latest caller and agent text.
func (a *App) TranscriptUpdated(update domain.TranscriptUpdate) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, update)
}

func (a *App) TalkingChanged(agentTalking bool, userTalking bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTalking, map[string]bool{
		"agent": agentTalking,
		"user":  userTalking,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready to call"
	case domain.SessionReasonStarting:
		return "Connecting..."
	case domain.SessionReasonCallStarted:
		return "Connected"
	case domain.SessionReasonCallEnded:
		return "Call ended"
	case domain.SessionReasonUserStopped:
		return "Call ended by you"
	case domain.SessionReasonUnmounted:
		return "Call closed"
	case domain.SessionReasonCredentialFailed:
		return "Could not get call credentials"
	case domain.SessionReasonTransportFailed:
		return "Could not reach the voice service"
	case domain.SessionReasonBackendError:
		return "Voice service error"
	case domain.SessionReasonStartCancelled:
		return "Call cancelled"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredential:
		return "Credential request failed"
	case domain.ErrorCodeTransport:
		return "Connection failed"
	case domain.ErrorCodeBackend:
		if detail != "" {
			return detail
		}
		return "Voice service error"
	case domain.ErrorCodeMute:
		return "Could not change mute state"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
