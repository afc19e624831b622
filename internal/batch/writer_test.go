package batch

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/database"
	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func logRecord() *models.ForwardLog {
	return &models.ForwardLog{
		RuleID:     uuid.New(),
		SourceChat: -1,
		TargetChat: -2,
		MessageID:  1,
		Outcome:    models.ForwardOutcomeForwarded,
	}
}

func countLogs(t *testing.T, db *database.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.GORM.Model(&models.ForwardLog{}).Count(&n).Error)
	return n
}

func TestWriter_BuffersUntilThreshold(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db.GORM, 3, time.Hour, logger.Nop())

	w.Add("forward_logs", logRecord())
	w.Add("forward_logs", logRecord())
	assert.Equal(t, 2, w.Pending())
	assert.Equal(t, int64(0), countLogs(t, db), "below threshold, nothing hits the database")

	w.Add("forward_logs", logRecord())
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, int64(3), countLogs(t, db), "threshold reached, buffer flushed inline")
}

func TestWriter_IntervalFlush(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db.GORM, 100, 20*time.Millisecond, logger.Nop())
	w.Start()
	defer w.Stop()

	w.Add("forward_logs", logRecord())

	require.Eventually(t, func() bool {
		return countLogs(t, db) == 1
	}, 2*time.Second, 10*time.Millisecond, "timer flushes a partial buffer")
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db.GORM, 100, time.Hour, logger.Nop())
	w.Start()

	w.Add("forward_logs", logRecord())
	w.Add("forward_logs", logRecord())
	w.Stop()

	assert.Equal(t, int64(2), countLogs(t, db))
}

func TestWriter_FallbackSalvagesGoodRecords(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db.GORM, 100, time.Hour, logger.Nop())

	var mu sync.Mutex
	var dropped []any
	w.SetDropHandler(func(schema string, record any) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "forward_logs", schema)
		dropped = append(dropped, record)
	})

	good := logRecord()
	poison := logRecord()
	poison.ID = good.ID // duplicate primary key sinks the bulk transaction

	w.Add("forward_logs", good)
	w.Add("forward_logs", poison)
	w.Flush()

	assert.Equal(t, int64(1), countLogs(t, db), "good record survives via per-record fallback")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dropped, 1)
	assert.Same(t, poison, dropped[0])
}

func TestWriter_SchemasFlushIndependently(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db.GORM, 2, time.Hour, logger.Nop())

	w.Add("forward_logs", logRecord())
	w.Add("other", logRecord())
	assert.Equal(t, 2, w.Pending(), "thresholds are per schema, not global")

	w.Add("forward_logs", logRecord())
	assert.Equal(t, 0, w.Pending(), "flush commits every schema's buffer")
	assert.Equal(t, int64(3), countLogs(t, db))
}
