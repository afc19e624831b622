package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/forward"
	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// RuleSource supplies the routing rules for an account.
type RuleSource interface {
	EnabledForwardRules(ctx context.Context, accountID uuid.UUID, sourceChat int64) ([]models.ForwardRule, error)
	ActiveMonitorRules(ctx context.Context, accountID uuid.UUID) ([]models.MonitorRule, error)
}

// Forwarder applies one forward rule to one event. Session satisfies the
// pipeline's Sender interface, so the router hands it straight through.
type Forwarder interface {
	Apply(ctx context.Context, sender forward.Sender, rule *models.ForwardRule, ev *telegram.Event)
}

// MediaIntake accepts a matched event into the download pipeline.
type MediaIntake interface {
	Process(ctx context.Context, accountID uuid.UUID, rule *models.MonitorRule, ev *telegram.Event) error
}

// LinkSink receives resource links captured from messages. Actual link
// resolution is a collaborator's concern; the bridge only hands them over.
type LinkSink interface {
	CaptureLinks(ctx context.Context, accountID uuid.UUID, rule *models.MonitorRule, ev *telegram.Event, links []string) error
}

// Router fans one inbound event out to every rule that claims it. Rules run
// independently; one rule's failure never blocks another's.
type Router struct {
	rules   RuleSource
	forward Forwarder
	media   MediaIntake
	links   LinkSink
	log     *logger.Logger
}

// NewRouter wires a router.
func NewRouter(rules RuleSource, forward Forwarder, media MediaIntake, links LinkSink, log *logger.Logger) *Router {
	return &Router{
		rules:   rules,
		forward: forward,
		media:   media,
		links:   links,
		log:     log.Component("router"),
	}
}

// Route dispatches one event for one session. It runs on a per-event
// goroutine, so blocking here never stalls event reception.
func (r *Router) Route(ctx context.Context, s *Session, ev *telegram.Event) {
	if !s.Monitors(ev.ChatID) {
		r.log.Debug().
			Str("account", s.Account.Name).
			Int64("chat_id", ev.ChatID).
			Msg("router: chat not monitored, dropping")
		return
	}

	r.routeForward(ctx, s, ev)
	r.routeMonitor(ctx, s, ev)
}

func (r *Router) routeForward(ctx context.Context, s *Session, ev *telegram.Event) {
	rules, err := r.rules.EnabledForwardRules(ctx, s.Account.ID, ev.ChatID)
	if err != nil {
		r.log.Error().Err(err).Str("account", s.Account.Name).Msg("router: load forward rules")
		return
	}

	for i := range rules {
		rule := rules[i]
		go func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error().Interface("panic", p).Str("rule", rule.Name).Msg("router: forward rule panic recovered")
				}
			}()
			r.forward.Apply(ctx, s, &rule, ev)
		}()
	}
}

func (r *Router) routeMonitor(ctx context.Context, s *Session, ev *telegram.Event) {
	rules, err := r.rules.ActiveMonitorRules(ctx, s.Account.ID)
	if err != nil {
		r.log.Error().Err(err).Str("account", s.Account.Name).Msg("router: load monitor rules")
		return
	}

	// A message carrying resource links, when any link-capture rule watches
	// the chat, goes to the link sink exclusively: attachment evaluation is
	// skipped for the whole message, not just under the capturing rule.
	if links := telegram.ExtractResourceLinks(ev.Text); len(links) > 0 {
		captured := false
		for i := range rules {
			rule := &rules[i]
			if !rule.WatchesChat(ev.ChatID) || !rule.CaptureLinks {
				continue
			}
			if err := r.links.CaptureLinks(ctx, s.Account.ID, rule, ev, links); err != nil {
				r.log.Error().Err(err).Str("rule", rule.Name).Msg("router: link capture failed")
			}
			captured = true
		}
		if captured {
			return
		}
	}

	if !ev.MediaType.IsAttachment() {
		return
	}
	for i := range rules {
		rule := &rules[i]
		if !rule.WatchesChat(ev.ChatID) {
			continue
		}
		if err := r.media.Process(ctx, s.Account.ID, rule, ev); err != nil {
			r.log.Warn().Err(err).Str("rule", rule.Name).Msg("router: media intake refused event")
		}
	}
}
