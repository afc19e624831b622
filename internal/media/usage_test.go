package media

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/logger"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject string, _ any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return true
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func TestUsageGuard_UnderBudgetIsQuiet(t *testing.T) {
	dir := t.TempDir()
	writeBytes(t, filepath.Join(dir, "small.bin"), 100)

	sink := &recordingNotifier{}
	guard := NewUsageGuard(1<<20, []string{dir}, sink, logger.Nop())

	assert.False(t, guard.check(context.Background()))
	assert.Empty(t, sink.sent())
}

func TestUsageGuard_CleanupReclaimsStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "dead-task.part")
	writeBytes(t, stale, 4096)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	writeBytes(t, filepath.Join(dir, "kept.bin"), 100)

	sink := &recordingNotifier{}
	guard := NewUsageGuard(1024, []string{dir}, sink, logger.Nop())

	// the stale temp file pushes usage over budget; removing it is enough
	assert.False(t, guard.check(context.Background()))
	assert.NoFileExists(t, stale)
	assert.Empty(t, sink.sent(), "cleanup reached the margin, no critical signal")
}

func TestUsageGuard_FreshTempFilesSurviveCleanup(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "in-flight.part")
	writeBytes(t, live, 4096)

	sink := &recordingNotifier{}
	guard := NewUsageGuard(1024, []string{dir}, sink, logger.Nop())

	// a temp file a worker may still be writing is never reclaimed
	assert.True(t, guard.check(context.Background()))
	assert.FileExists(t, live)
}

func TestUsageGuard_CriticalSignalWhenCleanupFallsShort(t *testing.T) {
	dir := t.TempDir()
	writeBytes(t, filepath.Join(dir, "archive.bin"), 8192)

	sink := &recordingNotifier{}
	guard := NewUsageGuard(1024, []string{dir}, sink, logger.Nop())

	// archived files are not the guard's to delete, so usage stays over the
	// margin and the distinct critical subject fires
	assert.True(t, guard.check(context.Background()))
	require.Len(t, sink.sent(), 1)
	assert.Equal(t, "bridge.storage.critical", sink.sent()[0])
}

func TestUsageGuard_MissingDirectoryCountsAsEmpty(t *testing.T) {
	sink := &recordingNotifier{}
	guard := NewUsageGuard(1024, []string{filepath.Join(t.TempDir(), "nope")}, sink, logger.Nop())

	assert.False(t, guard.check(context.Background()))
}
