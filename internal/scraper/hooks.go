package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint names a point in the pipeline where the hook is invoked.
type Checkpoint string

const (
	CheckpointNavigated Checkpoint = "navigated"
	CheckpointSettled   Checkpoint = "settled"
	CheckpointBlocked   Checkpoint = "blocked"
	CheckpointExtracted Checkpoint = "extracted"
)

// CheckpointHook observes a run. It must not close the session.
type CheckpointHook func(ctx context.Context, cp Checkpoint, sess Session)

// ScreenshotHook saves a full-page PNG into dir at every checkpoint.
// Failures are logged and never affect the run.
func ScreenshotHook(dir string, logger *slog.Logger) CheckpointHook {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "screenshot_hook")

	return func(ctx context.Context, cp Checkpoint, sess Session) {
		if ctx.Err() != nil {
			return
		}

		data, err := sess.Screenshot()
		if err != nil {
			logger.Warn("screenshot failed", "checkpoint", cp, "error", err)
			return
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("failed to create screenshot dir", "dir", dir, "error", err)
			return
		}

		name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405.000"), cp)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn("failed to write screenshot", "path", path, "error", err)
			return
		}

		logger.Debug("saved screenshot", "checkpoint", cp, "path", path)
	}
}
