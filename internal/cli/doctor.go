package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"voicedesk/internal/rules"
)

var lookPath = exec.LookPath

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd.OutOrStdout())
			cfg := deps.Config
			ok := true

			if path, err := lookPath(cfg.Audio.FFMPEGCommand); err != nil {
				f.Check("ffmpeg", false, fmt.Sprintf("%q not found. Install ffmpeg or set VOICEDESK_AUDIO_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand))
				ok = false
			} else {
				f.Check("ffmpeg", true, path)
			}

			f.Check("Audio input", true, fmt.Sprintf("%s:%s at %d Hz", cfg.Audio.InputFormat, cfg.Audio.InputDevice, cfg.Audio.SampleRate))
			f.Check("Voice backend", cfg.Backend.URL != "", valueOr(cfg.Backend.URL, "not set. Set VOICEDESK_BACKEND_URL"))
			f.Check("Credential endpoint", cfg.Backend.CredentialURL != "", valueOr(cfg.Backend.CredentialURL+cfg.Backend.CredentialPath, "not set. Set VOICEDESK_BACKEND_CREDENTIAL_URL"))
			ok = ok && cfg.Backend.URL != "" && cfg.Backend.CredentialURL != ""

			if cfg.Session.AgentID != "" {
				f.Check("Agent", true, cfg.Session.AgentID)
			} else {
				f.Check("Agent", false, "not set. Set VOICEDESK_SESSION_AGENT_ID or pass --agent")
				ok = false
			}

			if engine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit); err != nil {
				f.Check("Transcript rules", false, err.Error())
				ok = false
			} else {
				f.Check("Transcript rules", true, fmt.Sprintf("%d rules from %s", engine.Len(), valueOr(cfg.Rules.Path, "(none)")))
			}

			switch {
			case !cfg.CRM.Enabled:
				f.Check("CRM", true, "disabled")
			case cfg.CRM.LocationID == "":
				f.Check("CRM", false, "VOICEDESK_CRM_LOCATION_ID is not set")
				ok = false
			default:
				f.Check("CRM", true, fmt.Sprintf("location %s, outbox %s", cfg.CRM.LocationID, cfg.CRM.OutboxPath))
			}

			if cfg.Gateway.UpstreamAPIKey != "" {
				f.Check("Gateway provider key", true, "configured")
			} else {
				f.Check("Gateway provider key", true, "not set (only needed for voicedesk serve)")
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to call!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
