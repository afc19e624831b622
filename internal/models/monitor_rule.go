package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArchiveTarget selects where captured media ends up.
type ArchiveTarget string

// ArchiveTarget constants.
const (
	ArchiveLocal  ArchiveTarget = "local"
	ArchiveRemote ArchiveTarget = "remote"
)

// MonitorRule describes which attachments in which chats should be captured
// and archived.
type MonitorRule struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID `gorm:"type:uuid;index" json:"account_id"`
	Name      string    `json:"name"`

	SourceChats []int64 `gorm:"serializer:json" json:"source_chats"`
	Active      bool    `gorm:"default:true" json:"active"`

	// attachment filters
	MediaTypes      []string `gorm:"serializer:json" json:"media_types"` // empty = all attachment types
	MinSizeMB       float64  `gorm:"default:0" json:"min_size_mb"`
	MaxSizeMB       float64  `gorm:"default:0" json:"max_size_mb"` // 0 = unbounded
	FilenameInclude []string `gorm:"serializer:json" json:"filename_include"`
	FilenameExclude []string `gorm:"serializer:json" json:"filename_exclude"`
	Extensions      []string `gorm:"serializer:json" json:"extensions"` // allow-list, empty = all

	// sender gate
	SenderFilterMode SenderFilterMode `gorm:"default:off" json:"sender_filter_mode"`
	SenderList       []string         `gorm:"serializer:json" json:"sender_list"`

	// link capture: when set, messages containing recognized resource links
	// are routed to the link collaborator instead of the media pipeline
	CaptureLinks bool `gorm:"default:false" json:"capture_links"`

	// archival
	ArchiveTarget ArchiveTarget `gorm:"default:local" json:"archive_target"`
	PathTemplate  string        `json:"path_template"` // {date} {year} {month} {day} {type} {chat} {sender} {filename}
	RemoteBackend string        `json:"remote_backend"`
	RemoteDir     string        `json:"remote_dir"`

	MaxRetries   int   `gorm:"default:3" json:"max_retries"`
	FailureCount int64 `gorm:"default:0" json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an id when none was provided.
func (r *MonitorRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// WatchesChat reports whether chatID is in the rule's source set.
func (r *MonitorRule) WatchesChat(chatID int64) bool {
	for _, id := range r.SourceChats {
		if id == chatID {
			return true
		}
	}
	return false
}
