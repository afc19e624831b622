package retryq

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/logger"
)

func TestDelay(t *testing.T) {
	base := time.Second

	tests := []struct {
		name     string
		strategy Strategy
		retry    int
		want     time.Duration
	}{
		{"immediate is zero", StrategyImmediate, 5, 0},
		{"linear is constant", StrategyLinear, 0, time.Second},
		{"linear stays constant", StrategyLinear, 7, time.Second},
		{"exponential first", StrategyExponential, 0, time.Second},
		{"exponential doubles", StrategyExponential, 3, 8 * time.Second},
		{"fibonacci start", StrategyFibonacci, 0, time.Second},
		{"fibonacci middle", StrategyFibonacci, 4, 5 * time.Second},
		{"fibonacci capped at table end", StrategyFibonacci, 50, 55 * time.Second},
		{"negative retry treated as zero", StrategyExponential, -3, time.Second},
		{"unknown strategy falls back to base", Strategy("bogus"), 9, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.strategy, base, tt.retry))
		})
	}
}

func TestDelay_ExponentialMonotonic(t *testing.T) {
	base := 100 * time.Millisecond
	for n := 0; n < 20; n++ {
		assert.Greater(t, Delay(StrategyExponential, base, n+1), Delay(StrategyExponential, base, n))
	}
}

func TestDelay_ExponentialShiftCapped(t *testing.T) {
	// huge retry counts must not overflow into negative durations
	d := Delay(StrategyExponential, time.Nanosecond, 1000)
	assert.Positive(t, d)
	assert.Equal(t, Delay(StrategyExponential, time.Nanosecond, 30), d)
}

func TestQueue_HeapOrdering(t *testing.T) {
	now := time.Now()
	h := taskHeap{}
	heap.Push(&h, &Task{ID: "late", NextRun: now.Add(time.Hour)})
	heap.Push(&h, &Task{ID: "early-low", NextRun: now, Priority: 1})
	heap.Push(&h, &Task{ID: "early-high", NextRun: now, Priority: 9})

	first := heap.Pop(&h).(*Task)
	second := heap.Pop(&h).(*Task)
	third := heap.Pop(&h).(*Task)

	assert.Equal(t, "early-high", first.ID, "equally due tasks pop by priority")
	assert.Equal(t, "early-low", second.ID)
	assert.Equal(t, "late", third.ID)
}

func TestQueue_ScheduleRequiresHandler(t *testing.T) {
	q := New(Options{}, logger.Nop())

	err := q.Schedule(Task{ID: "t1", Type: "unbound"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestQueue_ScheduleRejectsDuplicateID(t *testing.T) {
	q := New(Options{}, logger.Nop())
	q.Register("work", func(context.Context, json.RawMessage) error { return nil })

	require.NoError(t, q.Schedule(Task{ID: "t1", Type: "work", MaxRetries: 1}))
	err := q.Schedule(Task{ID: "t1", Type: "work", MaxRetries: 1})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestQueue_ExecutesDueTask(t *testing.T) {
	q := New(Options{Workers: 1, PollInterval: 10 * time.Millisecond}, logger.Nop())

	var got atomic.Int32
	q.Register("work", func(_ context.Context, payload json.RawMessage) error {
		var v int32
		require.NoError(t, json.Unmarshal(payload, &v))
		got.Store(v)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Schedule(Task{
		ID:         "t1",
		Type:       "work",
		Payload:    json.RawMessage("7"),
		MaxRetries: 1,
		Strategy:   StrategyImmediate,
	}))

	require.Eventually(t, func() bool { return got.Load() == 7 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), q.Executed())
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_RetriesThenAbandons(t *testing.T) {
	q := New(Options{Workers: 1, PollInterval: 10 * time.Millisecond}, logger.Nop())

	var attempts atomic.Int32
	q.Register("flaky", func(context.Context, json.RawMessage) error {
		attempts.Add(1)
		return errors.New("always failing")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Schedule(Task{
		ID:         "t1",
		Type:       "flaky",
		MaxRetries: 3,
		Strategy:   StrategyImmediate,
	}))

	require.Eventually(t, func() bool { return q.Abandoned() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(0), q.Executed())
}

func TestQueue_HandlerPanicIsContained(t *testing.T) {
	q := New(Options{Workers: 1, PollInterval: 10 * time.Millisecond}, logger.Nop())
	q.Register("boom", func(context.Context, json.RawMessage) error {
		panic("handler exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Schedule(Task{
		ID:         "t1",
		Type:       "boom",
		MaxRetries: 1,
		Strategy:   StrategyImmediate,
	}))

	require.Eventually(t, func() bool { return q.Abandoned() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_SnapshotRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	q := New(Options{SnapshotPath: path}, logger.Nop())
	q.Register("later", func(context.Context, json.RawMessage) error { return nil })
	require.NoError(t, q.Schedule(Task{
		ID:         "t1",
		Type:       "later",
		Payload:    json.RawMessage(`{"n":1}`),
		Priority:   3,
		NextRun:    time.Now().Add(time.Hour),
		MaxRetries: 5,
		Strategy:   StrategyFibonacci,
		BaseDelay:  time.Second,
	}))
	require.NoError(t, q.snapshot())

	restored := New(Options{SnapshotPath: path}, logger.Nop())
	n, err := restored.load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, restored.Pending())

	// same snapshot loaded twice must not duplicate the task
	n, err = restored.load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, restored.Pending())
}

func TestQueue_LoadSkipsBadItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	blob := `[
		{"id":"good","type":"later","max_retries":2,"next_run":"2030-01-01T00:00:00Z"},
		"not an object",
		{"id":"","type":"later"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0644))

	q := New(Options{SnapshotPath: path}, logger.Nop())
	n, err := q.load()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the well-formed item with an id survives")
}

func TestQueue_LoadMissingFile(t *testing.T) {
	q := New(Options{SnapshotPath: filepath.Join(t.TempDir(), "absent.json")}, logger.Nop())
	n, err := q.load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
