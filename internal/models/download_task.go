package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a DownloadTask.
type TaskStatus string

// TaskStatus constants.
const (
	TaskPending     TaskStatus = "pending"
	TaskDownloading TaskStatus = "downloading"
	TaskSuccess     TaskStatus = "success"
	TaskFailed      TaskStatus = "failed"
)

// DownloadTask is one unit of "fetch this attachment" work with its own retry
// state. Unique per (rule, chat, message) so re-delivery of the same event is
// idempotent.
type DownloadTask struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID    uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_task_identity" json:"rule_id"`
	AccountID uuid.UUID `gorm:"type:uuid;index" json:"account_id"`

	ChatID    int64 `gorm:"uniqueIndex:idx_task_identity" json:"chat_id"`
	MessageID int   `gorm:"uniqueIndex:idx_task_identity" json:"message_id"`
	SenderID  int64 `json:"sender_id"`

	FileName   string    `json:"file_name"`
	MediaType  MediaType `json:"media_type"`
	TotalBytes int64     `json:"total_bytes"`

	Status     TaskStatus `gorm:"index;default:pending" json:"status"`
	RetryCount int        `gorm:"default:0" json:"retry_count"`
	MaxRetries int        `gorm:"default:3" json:"max_retries"`
	BytesDone  int64      `gorm:"default:0" json:"bytes_done"`
	Error      string     `json:"error,omitempty"`

	// set on success, references the deduplicated artifact
	MediaFileID *uuid.UUID `gorm:"type:uuid" json:"media_file_id,omitempty"`
	Duplicate   bool       `gorm:"default:false" json:"duplicate"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BeforeCreate assigns an id when none was provided.
func (t *DownloadTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// RetriesExhausted reports whether the task has no retry budget left.
func (t *DownloadTask) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// Terminal reports whether the task reached a final state.
func (t *DownloadTask) Terminal() bool {
	return t.Status == TaskSuccess || (t.Status == TaskFailed && t.RetriesExhausted())
}
