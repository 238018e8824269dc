package main

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/daemon"
	"git.home.luguber.info/inful/docfleet/internal/version"
)

// ServeCmd runs the daemon until SIGINT/SIGTERM.
type ServeCmd struct{}

func (c *ServeCmd) Run(cfg *config.Settings) error {
	d, err := daemon.New(cfg, CLI.Config, version.Version)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
