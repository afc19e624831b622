package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// CapturedLinks is the payload published when a monitored message carries
// resource links. Resolving the links is the subscriber's job.
type CapturedLinks struct {
	AccountID uuid.UUID `json:"account_id"`
	RuleID    uuid.UUID `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	ChatID    int64     `json:"chat_id"`
	MessageID int       `json:"message_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	Links     []string  `json:"links"`
	SeenAt    time.Time `json:"seen_at"`
}

// LinkPublisher forwards captured resource links to the broker.
type LinkPublisher struct {
	notifier Notifier
}

// NewLinkPublisher wraps a notifier as a link sink.
func NewLinkPublisher(notifier Notifier) *LinkPublisher {
	return &LinkPublisher{notifier: notifier}
}

// CaptureLinks publishes the links carried by one message.
func (p *LinkPublisher) CaptureLinks(ctx context.Context, accountID uuid.UUID, rule *models.MonitorRule, ev *telegram.Event, links []string) error {
	p.notifier.Notify(ctx, SubjectLinksCaptured, CapturedLinks{
		AccountID: accountID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		SenderID:  ev.SenderID,
		Text:      ev.Text,
		Links:     links,
		SeenAt:    time.Now(),
	})
	return nil
}
