package retryq

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// snapshot serializes the full queue state to disk. Written to a temp file
// first so a crash mid-write cannot corrupt the previous snapshot.
func (q *Queue) snapshot() error {
	q.mu.Lock()
	tasks := make([]*Task, len(q.tasks))
	copy(tasks, q.tasks)
	q.mu.Unlock()

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.snapshotPath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := q.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, q.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// load rehydrates the queue from the snapshot file. Items that fail to
// decode individually are skipped, not fatal to the whole queue.
func (q *Queue) load() (int, error) {
	data, err := os.ReadFile(q.snapshotPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	loaded := 0
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range raw {
		var task Task
		if err := json.Unmarshal(item, &task); err != nil {
			q.log.Warn().Err(err).Msg("retryq: skipping undecodable snapshot item")
			continue
		}
		if task.ID == "" || q.ids[task.ID] {
			continue
		}
		q.ids[task.ID] = true
		heap.Push(&q.tasks, &task)
		loaded++
	}
	return loaded, nil
}
