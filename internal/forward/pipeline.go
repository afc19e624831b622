// Package forward applies forward rules to inbound messages: an ordered
// chain of gates, text transforms, and delivery to the target chat.
package forward

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/filter"
	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// Sender delivers a processed message to a target chat.
type Sender interface {
	Send(ctx context.Context, targetChat int64, text string, ev *telegram.Event) error
}

// LogSink records forward outcomes. Satisfied by the batch writer.
type LogSink interface {
	Add(schema string, record any)
}

// FailureCounter bumps a rule's failure counter.
type FailureCounter interface {
	IncrementForwardFailures(ctx context.Context, id uuid.UUID) error
}

// ForwardLogSchema is the batch writer schema key for forward log rows.
const ForwardLogSchema = "forward_logs"

// Pipeline evaluates one forward rule against one message. Gates run in a
// fixed order and short-circuit: the first refusing gate ends evaluation.
type Pipeline struct {
	engine   *filter.Engine
	cache    *filter.MessageCache
	logs     LogSink
	failures FailureCounter
	log      *logger.Logger

	loc       *time.Location
	startedAt time.Time
}

// NewPipeline wires a forward pipeline. loc is the canonical timezone for
// calendar-based time gates; startedAt anchors the since_start mode.
func NewPipeline(engine *filter.Engine, cache *filter.MessageCache, logs LogSink, failures FailureCounter, loc *time.Location, log *logger.Logger) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		engine:    engine,
		cache:     cache,
		logs:      logs,
		failures:  failures,
		log:       log.Component("forward"),
		loc:       loc,
		startedAt: time.Now().In(loc),
	}
}

// Apply runs the full gate chain for one rule and one event, delivers on
// pass, and records the outcome. It never returns an error; failures are
// logged, counted against the rule, and isolated from sibling rules.
func (p *Pipeline) Apply(ctx context.Context, sender Sender, rule *models.ForwardRule, ev *telegram.Event) {
	if skip, detail := p.refused(rule, ev); skip {
		p.record(rule, ev, models.ForwardOutcomeSkipped, detail)
		return
	}

	text, err := p.transform(rule, ev.Text)
	if err != nil {
		p.log.Warn().Err(err).Str("rule", rule.Name).Msg("forward: bad replacement pattern, forwarding untransformed")
	}

	if rule.DelaySeconds > 0 {
		select {
		case <-time.After(time.Duration(rule.DelaySeconds) * time.Second):
		case <-ctx.Done():
			p.record(rule, ev, models.ForwardOutcomeSkipped, "cancelled during delay")
			return
		}
	}

	if err := sender.Send(ctx, rule.TargetChat, text, ev); err != nil {
		p.log.Error().Err(err).
			Str("rule", rule.Name).
			Int64("target", rule.TargetChat).
			Msg("forward: delivery failed")
		p.record(rule, ev, models.ForwardOutcomeFailed, err.Error())
		if ferr := p.failures.IncrementForwardFailures(ctx, rule.ID); ferr != nil {
			p.log.Warn().Err(ferr).Str("rule", rule.Name).Msg("forward: failure counter update failed")
		}
		return
	}

	p.record(rule, ev, models.ForwardOutcomeForwarded, "")
}

// refused runs the gates in order: type, time, sender, dedup, keywords.
// It returns the skip reason of the first gate that refuses.
func (p *Pipeline) refused(rule *models.ForwardRule, ev *telegram.Event) (bool, string) {
	if !rule.AllowsType(ev.MediaType) {
		return true, fmt.Sprintf("type %s not forwarded", ev.MediaType)
	}

	if ok, detail := p.timeGate(rule, ev.Date); !ok {
		return true, detail
	}

	if ok := p.senderGate(rule, ev); !ok {
		return true, "sender filtered"
	}

	if rule.EnableDeduplication {
		window := time.Duration(rule.DedupWindowSeconds) * time.Second
		if window <= 0 {
			window = 5 * time.Minute
		}
		if p.cache.Seen(dedupKey(rule.ID, ev), window) {
			return true, "duplicate within window"
		}
	}

	if ok, detail := p.keywordGate(rule, ev.Text); !ok {
		return true, detail
	}

	return false, ""
}

func (p *Pipeline) timeGate(rule *models.ForwardRule, date time.Time) (bool, string) {
	date = date.In(p.loc)

	switch rule.TimeFilterMode {
	case models.TimeFilterAllTime, "":
		return true, ""
	case models.TimeFilterSinceStart:
		if date.Before(p.startedAt) {
			return false, "message predates service start"
		}
	case models.TimeFilterTodayOnly:
		now := time.Now().In(p.loc)
		if date.Year() != now.Year() || date.YearDay() != now.YearDay() {
			return false, "message outside current day"
		}
	case models.TimeFilterFromTime:
		if rule.TimeFrom != nil && date.Before(rule.TimeFrom.In(p.loc)) {
			return false, "message before time_from"
		}
	case models.TimeFilterTimeRange:
		if rule.TimeFrom != nil && date.Before(rule.TimeFrom.In(p.loc)) {
			return false, "message before range"
		}
		if rule.TimeTo != nil && date.After(rule.TimeTo.In(p.loc)) {
			return false, "message after range"
		}
	}
	return true, ""
}

func (p *Pipeline) senderGate(rule *models.ForwardRule, ev *telegram.Event) bool {
	if rule.SenderFilterMode == models.SenderFilterOff || rule.SenderFilterMode == "" {
		return true
	}

	listed := false
	for _, entry := range rule.SenderList {
		if entry == ev.Sender || entry == strconv.FormatInt(ev.SenderID, 10) {
			listed = true
			break
		}
	}

	switch rule.SenderFilterMode {
	case models.SenderFilterAllow:
		return listed
	case models.SenderFilterDeny:
		return !listed
	default:
		return true
	}
}

func (p *Pipeline) keywordGate(rule *models.ForwardRule, text string) (bool, string) {
	if len(rule.KeywordsExclude) > 0 {
		hit, err := p.engine.MatchAny(text, rule.KeywordsExclude, rule.KeywordMode, rule.CaseSensitive)
		if err != nil {
			p.log.Warn().Err(err).Str("rule", rule.Name).Msg("forward: bad exclude pattern ignored")
		}
		if hit {
			return false, "excluded keyword matched"
		}
	}

	if len(rule.KeywordsInclude) > 0 {
		hit, err := p.engine.MatchAny(text, rule.KeywordsInclude, rule.KeywordMode, rule.CaseSensitive)
		if err != nil {
			p.log.Warn().Err(err).Str("rule", rule.Name).Msg("forward: bad include pattern ignored")
		}
		if !hit {
			return false, "no include keyword matched"
		}
	}

	return true, ""
}

// transform applies the rule's ordered replacements and length cap. The first
// bad pattern aborts remaining replacements but not delivery.
func (p *Pipeline) transform(rule *models.ForwardRule, text string) (string, error) {
	replacements := make([]models.Replacement, len(rule.Replacements))
	copy(replacements, rule.Replacements)
	sort.SliceStable(replacements, func(i, j int) bool {
		return replacements[i].Priority < replacements[j].Priority
	})

	var firstErr error
	for _, rep := range replacements {
		out, err := p.engine.Rewrite(text, rep.Pattern, rep.Replacement)
		if err != nil {
			firstErr = err
			break
		}
		text = out
	}

	if rule.MaxLength > 0 {
		runes := []rune(text)
		if len(runes) > rule.MaxLength {
			text = string(runes[:rule.MaxLength])
		}
	}
	return text, firstErr
}

func (p *Pipeline) record(rule *models.ForwardRule, ev *telegram.Event, outcome models.ForwardOutcome, detail string) {
	p.logs.Add(ForwardLogSchema, &models.ForwardLog{
		RuleID:     rule.ID,
		SourceChat: ev.ChatID,
		TargetChat: rule.TargetChat,
		MessageID:  ev.MessageID,
		Outcome:    outcome,
		Detail:     detail,
	})
}

// dedupKey identifies message content for the dedup window: the text plus the
// attachment identity, scoped per rule. Two messages carrying the same file
// with the same caption collide; an edited caption does not.
func dedupKey(ruleID uuid.UUID, ev *telegram.Event) string {
	h := sha256.New()
	h.Write([]byte(ev.Text))
	h.Write([]byte{0})
	h.Write([]byte(ev.MediaType))
	h.Write([]byte{0})
	h.Write([]byte(ev.FileName))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ev.FileSize, 10)))
	return ruleID.String() + ":" + hex.EncodeToString(h.Sum(nil))
}
