package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marselk/tgbridge/internal/models"
)

// TasksRepository handles download task operations.
type TasksRepository struct {
	db *gorm.DB
}

// NewTasksRepository creates a new tasks repository.
func NewTasksRepository(db *gorm.DB) *TasksRepository {
	return &TasksRepository{db: db}
}

// CreateIfAbsent inserts the task unless one already exists for the same
// (rule, chat, message) identity. Returns the stored task and whether it was
// created now. This is what makes event re-delivery idempotent.
func (r *TasksRepository) CreateIfAbsent(ctx context.Context, t *models.DownloadTask) (*models.DownloadTask, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create download task: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return t, true, nil
	}

	var existing models.DownloadTask
	err := r.db.WithContext(ctx).
		First(&existing, "rule_id = ? AND chat_id = ? AND message_id = ?", t.RuleID, t.ChatID, t.MessageID).Error
	if err != nil {
		return nil, false, fmt.Errorf("load existing download task: %w", err)
	}
	return &existing, false, nil
}

// GetByID returns a task by id, nil when absent.
func (r *TasksRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DownloadTask, error) {
	var t models.DownloadTask
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download task: %w", err)
	}
	return &t, nil
}

// MarkDownloading transitions a task into the downloading state.
func (r *TasksRepository) MarkDownloading(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.TaskDownloading,
			"started_at": &now,
			"error":      "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark task downloading: %w", err)
	}
	return nil
}

// MarkSuccess finalizes a task, linking the media file it resolved to.
func (r *TasksRepository) MarkSuccess(ctx context.Context, id uuid.UUID, mediaFileID uuid.UUID, duplicate bool) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.TaskSuccess,
			"media_file_id": mediaFileID,
			"duplicate":     duplicate,
			"finished_at":   &now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark task success: %w", err)
	}
	return nil
}

// MarkFailed records a failure and increments the retry counter.
func (r *TasksRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      models.TaskFailed,
			"error":       reason,
			"retry_count": gorm.Expr("retry_count + 1"),
			"finished_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

// MarkPending resets a failed or interrupted task for another attempt.
func (r *TasksRepository) MarkPending(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Update("status", models.TaskPending).Error
	if err != nil {
		return fmt.Errorf("mark task pending: %w", err)
	}
	return nil
}

// UpdateProgress persists byte progress. Callers throttle; this is a plain
// column update.
func (r *TasksRepository) UpdateProgress(ctx context.Context, id uuid.UUID, bytesDone int64) error {
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Update("bytes_done", bytesDone).Error
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// ListInterrupted returns every task left in pending, downloading, or failed
// state by a previous process run. Used by crash recovery on startup.
func (r *TasksRepository) ListInterrupted(ctx context.Context) ([]models.DownloadTask, error) {
	var tasks []models.DownloadTask
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.TaskPending, models.TaskDownloading, models.TaskFailed}).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list interrupted tasks: %w", err)
	}
	return tasks, nil
}

// MarkExhausted terminally fails a task whose retry budget is spent.
func (r *TasksRepository) MarkExhausted(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      models.TaskFailed,
			"error":       reason,
			"finished_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark task exhausted: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter without changing status. Used when
// recovery re-enqueues an interrupted task.
func (r *TasksRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.DownloadTask{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment task retry: %w", err)
	}
	return nil
}
