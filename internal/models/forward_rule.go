package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TimeFilterMode selects how the time gate of the forward pipeline behaves.
type TimeFilterMode string

// TimeFilterMode constants.
const (
	TimeFilterSinceStart TimeFilterMode = "since_start" // unrestricted since service start
	TimeFilterTodayOnly  TimeFilterMode = "today_only"
	TimeFilterFromTime   TimeFilterMode = "from_time"
	TimeFilterTimeRange  TimeFilterMode = "time_range"
	TimeFilterAllTime    TimeFilterMode = "all_time"
)

// SenderFilterMode selects allow-list or deny-list semantics.
type SenderFilterMode string

// SenderFilterMode constants.
const (
	SenderFilterOff   SenderFilterMode = "off"
	SenderFilterAllow SenderFilterMode = "allow"
	SenderFilterDeny  SenderFilterMode = "deny"
)

// KeywordMode selects how keywords are matched against message text.
type KeywordMode string

// KeywordMode constants.
const (
	KeywordContains   KeywordMode = "contains"
	KeywordExact      KeywordMode = "exact"
	KeywordStartsWith KeywordMode = "starts_with"
	KeywordEndsWith   KeywordMode = "ends_with"
	KeywordRegex      KeywordMode = "regex"
)

// Replacement is one ordered regex rewrite applied to forwarded text.
type Replacement struct {
	Priority    int    `json:"priority"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// ForwardRule maps a source chat to a target chat with filtering and
// transform options. The core reads these rows; only the admin surface
// writes them.
type ForwardRule struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID `gorm:"type:uuid;index" json:"account_id"`
	Name      string    `json:"name"`

	SourceChat int64 `gorm:"index;not null" json:"source_chat"`
	TargetChat int64 `gorm:"not null" json:"target_chat"`
	Enabled    bool  `gorm:"default:true" json:"enabled"`

	// per-media-type gates
	ForwardText      bool `gorm:"default:true" json:"forward_text"`
	ForwardPhoto     bool `gorm:"default:true" json:"forward_photo"`
	ForwardVideo     bool `gorm:"default:true" json:"forward_video"`
	ForwardAudio     bool `gorm:"default:true" json:"forward_audio"`
	ForwardVoice     bool `gorm:"default:true" json:"forward_voice"`
	ForwardSticker   bool `gorm:"default:true" json:"forward_sticker"`
	ForwardAnimation bool `gorm:"default:true" json:"forward_animation"`
	ForwardDocument  bool `gorm:"default:true" json:"forward_document"`
	ForwardWebpage   bool `gorm:"default:true" json:"forward_webpage"`

	// time gate
	TimeFilterMode TimeFilterMode `gorm:"default:since_start" json:"time_filter_mode"`
	TimeFrom       *time.Time     `json:"time_from,omitempty"`
	TimeTo         *time.Time     `json:"time_to,omitempty"`

	// dedup gate
	EnableDeduplication bool `gorm:"default:false" json:"enable_deduplication"`
	DedupWindowSeconds  int  `gorm:"default:300" json:"dedup_window_seconds"`

	// sender gate
	SenderFilterMode SenderFilterMode `gorm:"default:off" json:"sender_filter_mode"`
	SenderList       []string         `gorm:"serializer:json" json:"sender_list"`

	// keyword filter
	KeywordMode     KeywordMode `gorm:"default:contains" json:"keyword_mode"`
	KeywordsInclude []string    `gorm:"serializer:json" json:"keywords_include"`
	KeywordsExclude []string    `gorm:"serializer:json" json:"keywords_exclude"`
	CaseSensitive   bool        `gorm:"default:false" json:"case_sensitive"`

	// transforms
	Replacements []Replacement `gorm:"serializer:json" json:"replacements"`
	MaxLength    int           `gorm:"default:0" json:"max_length"`
	DelaySeconds int           `gorm:"default:0" json:"delay_seconds"`

	FailureCount int64 `gorm:"default:0" json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an id when none was provided.
func (r *ForwardRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AllowsType reports whether the rule's per-type gates pass the given type.
func (r *ForwardRule) AllowsType(t MediaType) bool {
	switch t {
	case MediaTypeText:
		return r.ForwardText
	case MediaTypePhoto:
		return r.ForwardPhoto
	case MediaTypeVideo:
		return r.ForwardVideo
	case MediaTypeAudio:
		return r.ForwardAudio
	case MediaTypeVoice:
		return r.ForwardVoice
	case MediaTypeSticker:
		return r.ForwardSticker
	case MediaTypeAnimation:
		return r.ForwardAnimation
	case MediaTypeDocument:
		return r.ForwardDocument
	case MediaTypeWebpage:
		return r.ForwardWebpage
	default:
		return false
	}
}
