// Package batch coalesces many small persistence writes into periodic bulk
// commits to reduce write amplification.
package batch

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/marselk/tgbridge/internal/logger"
)

// Defaults for flush thresholds.
const (
	DefaultFlushSize     = 50
	DefaultFlushInterval = 10 * time.Second
)

// Writer buffers insert operations per target schema and flushes them in one
// transaction when either a size or a time threshold is reached, or when
// explicitly forced.
type Writer struct {
	db  *gorm.DB
	log *logger.Logger

	mu      sync.Mutex
	buffers map[string][]any
	onDrop  func(schema string, record any)

	flushSize     int
	flushInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a batch writer. Zero thresholds select the defaults.
func NewWriter(db *gorm.DB, flushSize int, flushInterval time.Duration, log *logger.Logger) *Writer {
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Writer{
		db:            db,
		log:           log,
		buffers:       make(map[string][]any),
		flushSize:     flushSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetDropHandler installs a callback invoked for records that failed even the
// per-record fallback write. Must be set before Start.
func (w *Writer) SetDropHandler(fn func(schema string, record any)) {
	w.onDrop = fn
}

// Start launches the periodic flush loop.
func (w *Writer) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Flush()
			case <-w.stop:
				w.Flush()
				return
			}
		}
	}()
}

// Stop flushes remaining buffers and stops the loop.
func (w *Writer) Stop() {
	close(w.stop)
	<-w.done
}

// Add buffers one record for the given schema. A full buffer flushes inline.
func (w *Writer) Add(schema string, record any) {
	w.mu.Lock()
	w.buffers[schema] = append(w.buffers[schema], record)
	full := len(w.buffers[schema]) >= w.flushSize
	w.mu.Unlock()

	if full {
		w.Flush()
	}
}

// Flush commits all buffered records. Each schema's buffer is written inside
// a single transaction; on bulk failure every record is retried individually
// so one bad row cannot sink the whole batch.
func (w *Writer) Flush() {
	w.mu.Lock()
	pending := w.buffers
	w.buffers = make(map[string][]any)
	w.mu.Unlock()

	for schema, records := range pending {
		if len(records) == 0 {
			continue
		}
		if err := w.bulkWrite(records); err != nil {
			w.log.Warn().Err(err).Str("schema", schema).Int("count", len(records)).
				Msg("batch: bulk write failed, falling back to per-record writes")
			w.fallbackWrite(schema, records)
			continue
		}
		w.log.Debug().Str("schema", schema).Int("count", len(records)).Msg("batch: flushed")
	}
}

// Pending returns the number of buffered records across all schemas.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, records := range w.buffers {
		n += len(records)
	}
	return n
}

func (w *Writer) bulkWrite(records []any) error {
	return w.db.Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) fallbackWrite(schema string, records []any) {
	for _, rec := range records {
		if err := w.db.Create(rec).Error; err != nil {
			if w.onDrop != nil {
				w.onDrop(schema, rec)
				continue
			}
			w.log.Error().Err(err).Str("schema", schema).Msg("batch: dropping record after individual write failure")
		}
	}
}
