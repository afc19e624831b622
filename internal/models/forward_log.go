package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ForwardOutcome is the recorded result of one rule application.
type ForwardOutcome string

// ForwardOutcome constants.
const (
	ForwardOutcomeForwarded ForwardOutcome = "forwarded"
	ForwardOutcomeSkipped   ForwardOutcome = "skipped"
	ForwardOutcomeFailed    ForwardOutcome = "failed"
)

// ForwardLog records the outcome of applying one forward rule to one message.
// Rows are written through the batch writer.
type ForwardLog struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID uuid.UUID `gorm:"type:uuid;index" json:"rule_id"`

	SourceChat int64 `json:"source_chat"`
	TargetChat int64 `json:"target_chat"`
	MessageID  int   `json:"message_id"`

	Outcome ForwardOutcome `gorm:"index" json:"outcome"`
	Detail  string         `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns an id when none was provided.
func (l *ForwardLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
