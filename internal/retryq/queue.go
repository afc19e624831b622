package retryq

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marselk/tgbridge/internal/logger"
)

// TaskType dispatches a due task to its registered handler. Types are
// package-level constants at the call sites, not free-form strings.
type TaskType string

// Handler executes one due task. A non-nil error reschedules the task until
// its retry budget runs out.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Errors.
var (
	ErrNoHandler   = errors.New("no handler registered for task type")
	ErrDuplicateID = errors.New("task id already scheduled")
)

// Task is one unit of deferred work.
type Task struct {
	ID         string          `json:"id"`
	Type       TaskType        `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"` // higher runs first among equally due tasks
	NextRun    time.Time       `json:"next_run"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Strategy   Strategy        `json:"strategy"`
	BaseDelay  time.Duration   `json:"base_delay"`
	Errors     []string        `json:"errors,omitempty"`
}

// taskHeap orders by due time first, then priority.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if !h[i].NextRun.Equal(h[j].NextRun) {
		return h[i].NextRun.Before(h[j].NextRun)
	}
	return h[i].Priority > h[j].Priority
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the deferred-retry mechanism. Scheduling and polling are guarded
// by one mutex around the heap; execution happens on a fixed worker pool.
type Queue struct {
	log *logger.Logger

	mu    sync.Mutex
	tasks taskHeap
	ids   map[string]bool

	handlersMu sync.RWMutex
	handlers   map[TaskType]Handler

	workers      int
	pollInterval time.Duration

	snapshotPath     string
	snapshotInterval time.Duration

	executed  atomic.Int64
	abandoned atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// Options configures a Queue.
type Options struct {
	Workers          int
	PollInterval     time.Duration
	SnapshotPath     string
	SnapshotInterval time.Duration
}

// New creates a retry queue. Zero options select defaults.
func New(opts Options, log *logger.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 60 * time.Second
	}
	return &Queue{
		log:              log,
		ids:              make(map[string]bool),
		handlers:         make(map[TaskType]Handler),
		workers:          opts.Workers,
		pollInterval:     opts.PollInterval,
		snapshotPath:     opts.SnapshotPath,
		snapshotInterval: opts.SnapshotInterval,
		stop:             make(chan struct{}),
	}
}

// Register binds a handler to a task type. Must happen before Start so
// rehydrated tasks have somewhere to go.
func (q *Queue) Register(t TaskType, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[t] = h
}

// Schedule enqueues a task for deferred execution.
func (q *Queue) Schedule(t Task) error {
	q.handlersMu.RLock()
	_, known := q.handlers[t.Type]
	q.handlersMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Type)
	}

	if t.NextRun.IsZero() {
		t.NextRun = time.Now().Add(Delay(t.Strategy, t.BaseDelay, t.RetryCount))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ids[t.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	q.ids[t.ID] = true
	heap.Push(&q.tasks, &t)
	return nil
}

// Start rehydrates the snapshot and launches the worker pool and the
// snapshot loop.
func (q *Queue) Start(ctx context.Context) {
	if q.snapshotPath != "" {
		if n, err := q.load(); err != nil {
			q.log.Warn().Err(err).Msg("retryq: snapshot load failed, starting empty")
		} else if n > 0 {
			q.log.Info().Int("tasks", n).Msg("retryq: rehydrated queue from snapshot")
		}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	if q.snapshotPath != "" {
		q.wg.Add(1)
		go q.snapshotLoop(ctx)
	}
}

// Stop drains workers and writes a final snapshot.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
	if q.snapshotPath != "" {
		if err := q.snapshot(); err != nil {
			q.log.Error().Err(err).Msg("retryq: final snapshot failed")
		}
	}
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Abandoned returns how many tasks exhausted their retries.
func (q *Queue) Abandoned() int64 { return q.abandoned.Load() }

// Executed returns how many handler invocations succeeded.
func (q *Queue) Executed() int64 { return q.executed.Load() }

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			for {
				task := q.popDue()
				if task == nil {
					break
				}
				q.execute(ctx, task)
			}
		}
	}
}

// popDue removes and returns the most urgent due task, or nil.
func (q *Queue) popDue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 || q.tasks[0].NextRun.After(time.Now()) {
		return nil
	}
	task := heap.Pop(&q.tasks).(*Task)
	delete(q.ids, task.ID)
	return task
}

func (q *Queue) execute(ctx context.Context, task *Task) {
	q.handlersMu.RLock()
	handler := q.handlers[task.Type]
	q.handlersMu.RUnlock()
	if handler == nil {
		// handlers were registered before Start, so this is a snapshot from
		// an older build; abandon rather than spin
		q.log.Error().Str("type", string(task.Type)).Str("id", task.ID).Msg("retryq: no handler, abandoning task")
		q.abandoned.Add(1)
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ctx, task.Payload)
	}()

	if err == nil {
		q.executed.Add(1)
		return
	}

	task.RetryCount++
	task.Errors = append(task.Errors, err.Error())
	if task.RetryCount >= task.MaxRetries {
		q.abandoned.Add(1)
		q.log.Warn().Str("id", task.ID).Str("type", string(task.Type)).
			Int("retries", task.RetryCount).Err(err).
			Msg("retryq: task abandoned after exhausting retries")
		return
	}

	task.NextRun = time.Now().Add(Delay(task.Strategy, task.BaseDelay, task.RetryCount))
	q.mu.Lock()
	q.ids[task.ID] = true
	heap.Push(&q.tasks, task)
	q.mu.Unlock()
}

func (q *Queue) snapshotLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			if err := q.snapshot(); err != nil {
				q.log.Error().Err(err).Msg("retryq: periodic snapshot failed")
			}
		}
	}
}
