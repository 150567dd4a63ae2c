package main

import (
	"fmt"
	"os"

	"voicedesk/internal/cli"
	"voicedesk/internal/config"
	"voicedesk/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	for _, err := range config.LoadEnvFiles() {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deps := &cli.Dependencies{
		Config: cfg,
		Logger: logger.New(cfg.Log),
		Out:    os.Stdout,
	}
	return cli.NewRootCmd(deps).Execute()
}
