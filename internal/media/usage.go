package media

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/notify"
)

// Usage guard tuning.
const (
	DefaultUsageInterval = 5 * time.Minute

	// a temp file untouched this long belongs to no live transfer
	staleTempAge = time.Hour

	// cleanup must bring usage under this fraction of the budget, otherwise
	// the guard raises the critical signal
	usageSafetyMargin = 0.9
)

// UsageGuard watches the download and archive directories against a byte
// budget. Crossing the budget triggers a cleanup pass over abandoned temp
// files; if that cannot bring usage back under the safety margin the guard
// emits a distinct critical notification so an operator can intervene before
// downloads start failing on a full disk.
type UsageGuard struct {
	dirs     []string
	maxBytes int64
	interval time.Duration
	notifier notify.Notifier
	log      *logger.Logger
}

// NewUsageGuard wires a guard over the given directories. maxBytes <= 0
// disables the guard entirely.
func NewUsageGuard(maxBytes int64, dirs []string, notifier notify.Notifier, log *logger.Logger) *UsageGuard {
	return &UsageGuard{
		dirs:     dirs,
		maxBytes: maxBytes,
		interval: DefaultUsageInterval,
		notifier: notifier,
		log:      log.Component("usage"),
	}
}

// Run checks usage periodically until the context ends.
func (g *UsageGuard) Run(ctx context.Context) {
	if g.maxBytes <= 0 {
		return
	}
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// check runs one threshold evaluation: measure, clean if over budget,
// escalate if cleaning was not enough. Reports whether the critical signal
// fired.
func (g *UsageGuard) check(ctx context.Context) bool {
	used := g.usage()
	if used <= g.maxBytes {
		return false
	}

	g.log.Warn().
		Int64("used_bytes", used).
		Int64("max_bytes", g.maxBytes).
		Msg("usage: over budget, running cleanup pass")
	g.cleanup()

	used = g.usage()
	margin := int64(float64(g.maxBytes) * usageSafetyMargin)
	if used <= margin {
		return false
	}

	g.log.Error().
		Int64("used_bytes", used).
		Int64("max_bytes", g.maxBytes).
		Msg("usage: cleanup could not reach the safety margin")
	g.notifier.Notify(ctx, notify.SubjectStorageCritical, map[string]any{
		"used_bytes": used,
		"max_bytes":  g.maxBytes,
		"at":         time.Now().UTC(),
	})
	return true
}

// usage sums file sizes across the watched directories. Missing directories
// count as empty.
func (g *UsageGuard) usage() int64 {
	var total int64
	for _, dir := range g.dirs {
		_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
	}
	return total
}

// cleanup removes temp files no live transfer can still own. Organized and
// archived files are never touched; reclaiming those is an operator decision.
func (g *UsageGuard) cleanup() {
	cutoff := time.Now().Add(-staleTempAge)
	for _, dir := range g.dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".part") {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				g.log.Warn().Err(err).Str("path", path).Msg("usage: stale temp removal failed")
				return nil
			}
			g.log.Info().Str("path", path).Int64("bytes", info.Size()).Msg("usage: stale temp removed")
			return nil
		})
	}
}
