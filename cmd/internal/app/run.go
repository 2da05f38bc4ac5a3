package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint: load config, validate the security
// policy, build the app and serve until SIGINT/SIGTERM.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
