package main

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/publish"
)

// GCCmd runs the retention sweep and orphan-workspace cleanup once. Do not
// run it while the daemon is up: a live build's workspace looks like an
// orphan from outside the process.
type GCCmd struct {
	SkipWorkspaces bool `help:"Only sweep old logs, leave workspace directories alone"`
}

func (c *GCCmd) Run(cfg *config.Settings) error {
	layout := publish.Layout{DataDir: cfg.DataDir}

	logs, err := layout.SweepLogs(cfg.LogRetention, time.Now())
	if err != nil {
		return fmt.Errorf("sweep logs: %w", err)
	}
	fmt.Printf("removed %d expired logs\n", logs)

	if c.SkipWorkspaces {
		return nil
	}
	workspaces, err := layout.RemoveOrphanWorkspaces()
	if err != nil {
		return fmt.Errorf("remove workspaces: %w", err)
	}
	fmt.Printf("removed %d orphan workspaces\n", len(workspaces))
	return nil
}
