// Package telegram provides the MTProto transport adapter: client
// construction, canonical chat id handling, media classification and byte
// transfer helpers.
package telegram

import (
	"time"

	"github.com/gotd/td/tg"

	"github.com/marselk/tgbridge/internal/models"
)

// botAPIChannelOffset is the bot-API encoding offset for channel ids.
const botAPIChannelOffset = int64(1000000000000)

// EventKind distinguishes new and edited messages. Both flow through the
// same routing pipeline as distinct event types.
type EventKind string

// EventKind constants.
const (
	EventNewMessage    EventKind = "new"
	EventEditedMessage EventKind = "edited"
)

// Event is one inbound message in normalized form.
type Event struct {
	Kind      EventKind
	ChatID    int64 // canonical signed id
	MessageID int
	SenderID  int64
	Sender    string // username if known
	Text      string
	Date      time.Time

	MediaType models.MediaType
	FileName  string
	FileSize  int64

	// raw message, used to rebuild download locations and re-send media
	Msg *tg.Message
}

// HasAttachment reports whether the event carries downloadable bytes.
func (e *Event) HasAttachment() bool {
	return e.MediaType.IsAttachment()
}

// NormalizePeer maps any Telegram peer to its canonical signed id: users are
// positive, basic groups are negated, channels get the bot-API offset. The
// three ranges never overlap, so the mapping is total and collision-free.
func NormalizePeer(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -(botAPIChannelOffset + p.ChannelID)
	default:
		return 0
	}
}

// NormalizeChannelID maps a bare channel id to canonical form.
func NormalizeChannelID(channelID int64) int64 {
	return -(botAPIChannelOffset + channelID)
}

// BareChannelID recovers the MTProto channel id from a canonical id, and
// whether the canonical id refers to a channel at all.
func BareChannelID(canonical int64) (int64, bool) {
	if canonical >= -botAPIChannelOffset {
		return 0, false
	}
	return -canonical - botAPIChannelOffset, true
}

// ParseMessage converts a raw MTProto message into a normalized Event.
// Returns nil for service messages and other non-content updates.
func ParseMessage(msg tg.MessageClass, kind EventKind) *Event {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	ev := &Event{
		Kind:      kind,
		ChatID:    NormalizePeer(m.PeerID),
		MessageID: m.ID,
		Text:      m.Message,
		Date:      time.Unix(int64(m.Date), 0),
		Msg:       m,
	}

	if from, ok := m.GetFromID(); ok {
		ev.SenderID = NormalizePeer(from)
	} else if ev.ChatID > 0 {
		// private chat: the peer is the sender
		ev.SenderID = ev.ChatID
	}

	ev.MediaType, ev.FileName, ev.FileSize = ClassifyMedia(m.Media)
	return ev
}
