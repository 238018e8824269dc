package publish

import (
	"fmt"
	"os"
	"path/filepath"
)

// Swap atomically replaces the artifact directory at final with the staged
// tree. The displaced directory is first renamed aside so readers either see
// the old artifact or the new one, never a partial tree, then removed.
// Callers hold the target's publication lock.
func Swap(staged, final string) error {
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("staged artifact missing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("prepare artifact parent: %w", err)
	}

	prev := final + ".prev"
	if err := os.RemoveAll(prev); err != nil {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, prev); err != nil {
			return fmt.Errorf("displace existing artifact: %w", err)
		}
	}
	if err := os.Rename(staged, final); err != nil {
		// Put the old artifact back so the target keeps serving something.
		if _, statErr := os.Stat(prev); statErr == nil {
			_ = os.Rename(prev, final)
		}
		return fmt.Errorf("promote staged artifact: %w", err)
	}
	if err := os.RemoveAll(prev); err != nil {
		return fmt.Errorf("remove displaced artifact: %w", err)
	}
	return nil
}

// StagePath is the temporary sibling a build moves its out/ tree to before
// the swap. Siblings stay on the same filesystem so the renames are atomic.
func StagePath(final string, buildID int64) string {
	return fmt.Sprintf("%s.stage_%d", final, buildID)
}
