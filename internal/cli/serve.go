package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voicedesk/internal/httpapi"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the credential gateway",
		Long:  "Serve POST " + httpapi.CreateCallPath + " so desktop clients can open calls without holding the provider key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config.Gateway
			if addr != "" {
				cfg.Addr = addr
			}
			if cfg.UpstreamAPIKey == "" {
				return errors.New("VOICEDESK_GATEWAY_UPSTREAM_API_KEY is required")
			}
			defaultAgent := cfg.DefaultAgentID
			if defaultAgent == "" {
				defaultAgent = deps.Config.Session.AgentID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := httpapi.New(httpapi.Config{
				Addr:            cfg.Addr,
				DefaultAgentID:  defaultAgent,
				AllowedAgents:   cfg.AllowedAgents,
				ShutdownTimeout: cfg.ShutdownTimeout,
			}, httpapi.NewUpstreamClient(cfg.UpstreamURL, cfg.UpstreamAPIKey, 0), deps.Logger)

			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides VOICEDESK_GATEWAY_ADDR)")
	return cmd
}
