package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voicedesk/internal/config"
)

var (
	Version = "dev"
	Commit  = "none"
)

type Dependencies struct {
	Config config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "voicedesk",
		Short:         "Real-time voice sessions with a hosted agent",
		Long:          "voicedesk opens voice calls with a hosted conversational agent, runs the credential gateway for desktop clients, and files call notes in the CRM.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("voicedesk %s, commit %s\n", Version, Commit))
	if deps.Out != nil {
		rootCmd.SetOut(deps.Out)
	}

	rootCmd.AddCommand(NewCallCmd(deps))
	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
