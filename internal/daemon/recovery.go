package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

// Recover brings the persistent state back in line with reality after a
// restart: every build left running belongs to a dead process and is marked
// failed, and every workspace directory on disk is orphaned and removed.
// Queued rows survive untouched and are dispatched normally.
func Recover(ctx context.Context, st *store.Store, layout publish.Layout) error {
	interrupted, err := st.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	for i := range interrupted {
		slog.Warn("build interrupted by restart, marked failed",
			logfields.BuildID(interrupted[i].ID),
			logfields.TargetID(interrupted[i].TargetID))
	}

	removed, err := layout.RemoveOrphanWorkspaces()
	if err != nil {
		return err
	}
	for _, dir := range removed {
		slog.Info("removed orphan workspace", slog.String("path", dir))
	}
	if len(interrupted) > 0 || len(removed) > 0 {
		slog.Info("startup recovery done",
			slog.Int("interrupted_builds", len(interrupted)),
			slog.Int("orphan_workspaces", len(removed)))
	}
	return nil
}
