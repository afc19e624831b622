package forward

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"github.com/marselk/tgbridge/internal/logger"
)

// Replay limits. Entries older than maxEntryAge are stale enough that
// replaying them adds noise, not value.
const (
	DefaultReplayCapacity = 1024
	DefaultReplayInterval = 30 * time.Second

	maxEntryAge     = time.Hour
	writeRetries    = 3
	writeRetryDelay = 2 * time.Second
)

type replayEntry struct {
	record any
	queued time.Time
}

// Replayer holds forward log rows whose writes failed and retries them in the
// background. The queue is bounded; when full, the oldest entry is dropped.
type Replayer struct {
	db  *gorm.DB
	log *logger.Logger

	mu      sync.Mutex
	entries []replayEntry
	cap     int

	interval time.Duration
}

// NewReplayer creates a replayer with the default capacity and interval.
func NewReplayer(db *gorm.DB, log *logger.Logger) *Replayer {
	return &Replayer{
		db:       db,
		log:      log.Component("logreplay"),
		cap:      DefaultReplayCapacity,
		interval: DefaultReplayInterval,
	}
}

// Offer queues a failed record for later replay. Safe to call from the batch
// writer's drop handler.
func (r *Replayer) Offer(record any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.cap {
		r.entries = r.entries[1:]
		r.log.Warn().Msg("logreplay: queue full, dropping oldest entry")
	}
	r.entries = append(r.entries, replayEntry{record: record, queued: time.Now()})
}

// Len returns the number of queued entries.
func (r *Replayer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run replays queued entries until the context is cancelled.
func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.replay(ctx)
		}
	}
}

// replay drains the current queue. Entries that still fail after the retry
// budget go back to the queue with their original timestamp.
func (r *Replayer) replay(ctx context.Context) {
	r.mu.Lock()
	pending := r.entries
	r.entries = nil
	r.mu.Unlock()

	discarded, written := 0, 0
	for _, entry := range pending {
		if time.Since(entry.queued) > maxEntryAge {
			discarded++
			continue
		}
		if err := r.write(ctx, entry.record); err != nil {
			r.mu.Lock()
			r.entries = append(r.entries, entry)
			r.mu.Unlock()
			continue
		}
		written++
	}

	if written > 0 || discarded > 0 {
		r.log.Info().Int("written", written).Int("discarded", discarded).Msg("logreplay: replay pass done")
	}
}

// write attempts one record with a small fixed-delay retry budget.
func (r *Replayer) write(ctx context.Context, record any) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), writeRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		return r.db.WithContext(ctx).Create(record).Error
	}, policy)
}
