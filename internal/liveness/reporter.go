// ABOUTME: Periodic liveness token writer
// ABOUTME: Keeps a timestamp file fresh so external monitors can tell the agent is up

package liveness

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Reporter rewrites a timestamp file on a fixed interval. External monitors
// infer "agent down" from a stale file; the reporter itself treats every
// I/O failure as transient and keeps ticking.
type Reporter struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter creates a reporter writing to path every interval.
func NewReporter(path string, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{path: path, interval: interval, logger: logger}
}

// Path returns the liveness file location.
func (r *Reporter) Path() string {
	return r.path
}

// Run writes the token immediately and then on every tick until ctx is
// cancelled. It has no error return: liveness must never take the agent
// down with it.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Info("liveness reporter started", "path", r.path, "interval", r.interval)
	r.write()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("liveness reporter stopping")
			return
		case <-ticker.C:
			r.write()
		}
	}
}

// write refreshes the token. The parent directory is re-created on every
// cycle so a swept temp directory costs one interval, not the reporter.
func (r *Reporter) write() {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.logger.Warn("creating liveness directory failed", "path", r.path, "error", err)
		return
	}
	token := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := os.WriteFile(r.path, []byte(token), 0o644); err != nil {
		r.logger.Warn("writing liveness token failed", "path", r.path, "error", err)
	}
}
