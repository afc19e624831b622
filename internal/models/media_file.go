package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaFile is the durable artifact of a successful DownloadTask. One row per
// unique content hash; later tasks producing the same bytes link to the
// existing row and their temp copy is discarded.
type MediaFile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ContentHash string    `gorm:"uniqueIndex;not null" json:"content_hash"`

	FileName  string    `json:"file_name"`
	MediaType MediaType `json:"media_type"`
	SizeBytes int64     `json:"size_bytes"`

	TempPath     string `json:"temp_path,omitempty"`
	ArchivedPath string `json:"archived_path,omitempty"`
	RemotePath   string `json:"remote_path,omitempty"`

	// extracted metadata, best effort
	MimeType        string `json:"mime_type,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	MetadataError   string `json:"metadata_error,omitempty"`

	// archival failure never fails the download, it only flags the record
	OrganizeFailed bool   `gorm:"default:false" json:"organize_failed"`
	OrganizeError  string `json:"organize_error,omitempty"`

	// number of tasks that resolved to this content
	RefCount int64 `gorm:"default:1" json:"ref_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an id when none was provided.
func (m *MediaFile) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
