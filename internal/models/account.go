// Package models defines the persistent entities of the bridge.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountKind distinguishes human-style and bot-style identities.
type AccountKind string

// AccountKind constants.
const (
	AccountKindUser AccountKind = "user"
	AccountKindBot  AccountKind = "bot"
)

// Account is one configured Telegram identity. A running ClientSession is the
// in-memory counterpart of this row; the row itself is mutated only through
// the admin surface and the session manager's status publishing.
type Account struct {
	ID   uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name string      `gorm:"uniqueIndex;not null" json:"name"`
	Kind AccountKind `gorm:"not null;default:user" json:"kind"`

	// credentials
	Phone         string `json:"phone,omitempty"`
	BotToken      string `json:"-"`
	SessionString string `json:"-"`

	Enabled bool `gorm:"default:true" json:"enabled"`

	// chats this session watches, canonical signed ids
	MonitoredChats []int64 `gorm:"serializer:json" json:"monitored_chats"`

	// published status snapshot
	State     string `json:"state"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an id when none was provided.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
