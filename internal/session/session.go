package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/ext"
	"github.com/gotd/td/tg"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// Call timeouts. Every cross-goroutine call carries one; nothing is unbounded.
const (
	DefaultCallTimeout = 30 * time.Second
	SendTimeout        = 30 * time.Second
	TransferTimeout    = 2 * time.Hour
)

// maxConnectRetries bounds automatic reconnection before a session is
// declared errored.
const maxConnectRetries = 3

// Errors.
var (
	ErrTimeoutRequired = errors.New("call timeout is mandatory")
	ErrSessionStopped  = errors.New("session is stopped")
)

// CallFunc runs against the session's client under its rate limiter. The gotd
// client is safe for concurrent invocation, so calls may overlap: a two-hour
// transfer does not hold up a thirty-second send.
type CallFunc func(ctx context.Context, client *gotgproto.Client) error

type command struct {
	ctx   context.Context
	fn    CallFunc
	reply chan error
}

// Session is one authenticated connection to the chat network. All of its
// network I/O happens on one supervisor goroutine; other goroutines reach it
// through Call.
type Session struct {
	Account models.Account

	log     *logger.Logger
	fsm     *Machine
	limiter *telegram.RateLimiter
	bridge  *AuthBridge
	factory telegram.ClientFactory

	apiID   int
	apiHash string
	dataDir string

	cmds chan command
	lost chan error
	stop chan struct{}
	done chan struct{}

	// spawned per-event and per-call tasks, waited for on shutdown
	tasks sync.WaitGroup

	mu        sync.RWMutex
	client    *gotgproto.Client
	monitored map[int64]struct{}
	lastError string

	router *Router
}

// newSession builds a stopped session for an account.
func newSession(acc models.Account, apiID int, apiHash, dataDir string, factory telegram.ClientFactory, router *Router, log *logger.Logger) *Session {
	s := &Session{
		Account:   acc,
		log:       log.Component("session." + acc.Name),
		fsm:       NewMachine(),
		limiter:   telegram.DefaultRateLimiter(),
		factory:   factory,
		apiID:     apiID,
		apiHash:   apiHash,
		dataDir:   dataDir,
		cmds:      make(chan command),
		lost:      make(chan error),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		monitored: make(map[int64]struct{}),
		router:    router,
	}
	for _, chat := range acc.MonitoredChats {
		s.monitored[chat] = struct{}{}
	}
	s.bridge = NewAuthBridge(acc.Phone,
		func() { _ = s.fsm.Fire(TriggerCodeRequired) },
		func() { _ = s.fsm.Fire(TriggerPasswordRequired) },
	)
	return s
}

// start launches the supervisor goroutine and begins connecting.
func (s *Session) start(ctx context.Context) {
	go s.run(ctx)
}

// run is the session supervisor. It owns the client lifecycle: connecting,
// authenticating, dispatching cross-goroutine calls, reconnecting after
// transport drops, and tearing down.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if err := s.connect(ctx); err != nil {
		s.log.Error().Err(err).Msg("session: connect failed")
		return
	}
	s.serve(ctx)
}

// serve is the supervisor loop. Accepted calls run on their own tracked
// goroutines so one slow transfer never starves the loop.
func (s *Session) serve(ctx context.Context) {
	for {
		select {
		case cmd := <-s.cmds:
			s.tasks.Add(1)
			go func(cmd command) {
				defer s.tasks.Done()
				cmd.reply <- s.invoke(cmd.ctx, cmd.fn)
			}(cmd)
		case err := <-s.lost:
			if !s.reconnect(ctx, err) {
				s.teardown()
				return
			}
		case <-s.stop:
			s.teardown()
			return
		case <-ctx.Done():
			s.teardown()
			return
		}
	}
}

// connect performs the initial connect, retrying transient failures a bounded
// number of times.
func (s *Session) connect(ctx context.Context) error {
	if err := s.fsm.Fire(TriggerConnect); err != nil {
		return fmt.Errorf("session not startable from %s: %w", s.fsm.State(), err)
	}
	return s.attemptConnect(ctx)
}

// reconnect handles a transport drop reported by the client watcher. The
// session re-enters the connect cycle under the usual retry budget; a false
// return means the session could not be revived.
func (s *Session) reconnect(ctx context.Context, cause error) bool {
	if !s.fsm.CanFire(TriggerTransportLost) {
		// already stopping or reconnecting, nothing to do
		return true
	}
	s.log.Warn().Err(cause).Msg("session: transport lost, reconnecting")
	_ = s.fsm.Fire(TriggerTransportLost)

	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()

	if err := s.attemptConnect(ctx); err != nil {
		s.log.Error().Err(err).Msg("session: reconnect failed")
		return false
	}
	return true
}

// attemptConnect creates and authenticates the client. The machine must
// already be in the connecting state.
func (s *Session) attemptConnect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= maxConnectRetries; attempt++ {
		select {
		case <-s.stop:
			_ = s.fsm.Fire(TriggerStop)
			return ErrSessionStopped
		case <-ctx.Done():
			_ = s.fsm.Fire(TriggerStop)
			return ctx.Err()
		default:
		}

		client, err := s.factory(s.apiID, s.apiHash, &s.Account, s.dataDir, s.bridge)
		if err == nil {
			s.mu.Lock()
			s.client = client
			s.lastError = ""
			s.mu.Unlock()
			_ = s.fsm.Fire(TriggerAuthorized)
			s.registerHandlers(client)
			s.watchTransport(client)
			s.log.Info().Str("state", s.fsm.State().String()).Msg("session: connected")
			return nil
		}

		lastErr = err
		if isAuthError(err) {
			// auth failures surface immediately and clear partial auth state
			s.setError(err)
			_ = s.fsm.Fire(TriggerAuthFailed)
			return fmt.Errorf("authentication failed: %w", err)
		}

		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("session: transient connect error")
		select {
		case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
		case <-s.stop:
			_ = s.fsm.Fire(TriggerStop)
			return ErrSessionStopped
		}
	}

	s.setError(lastErr)
	_ = s.fsm.Fire(TriggerFatal)
	return fmt.Errorf("connect retries exhausted: %w", lastErr)
}

// teardown waits out in-flight calls and event tasks, then disconnects the
// transport. Every call carries a mandatory timeout, so the wait is bounded.
func (s *Session) teardown() {
	s.tasks.Wait()
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Stop()
	}
	if s.fsm.CanFire(TriggerStop) {
		_ = s.fsm.Fire(TriggerStop)
	}
	s.log.Info().Msg("session: stopped")
}

// watchTransport reports client termination to the supervisor, which turns it
// into a reconnect. Deliberately outside the tasks group: the watcher only
// exits once the client stops, and teardown stops the client only after the
// tasks group drains.
func (s *Session) watchTransport(client *gotgproto.Client) {
	go func() {
		err := client.Idle()
		select {
		case s.lost <- err:
		case <-s.stop:
		case <-s.done:
		}
	}()
}

func (s *Session) invoke(ctx context.Context, fn CallFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session call panic: %v", r)
		}
	}()

	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return ErrSessionStopped
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	err = fn(ctx, client)
	if wait := telegram.FloodWaitSeconds(err); wait > 0 {
		s.log.Warn().Int("wait_seconds", wait).Msg("session: FLOOD_WAIT, backing off")
		s.limiter.SetFloodWait(wait)
	}
	return err
}

// Call schedules fn onto the session's goroutine and blocks for its result.
// The timeout is mandatory.
func (s *Session) Call(ctx context.Context, timeout time.Duration, fn CallFunc) error {
	if timeout <= 0 {
		return ErrTimeoutRequired
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := command{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return fmt.Errorf("session call handoff: %w", ctx.Err())
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("session call: %w", ctx.Err())
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.fsm.State() }

// exited reports whether the supervisor goroutine has finished.
func (s *Session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// LastError returns the last recorded error text.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = err.Error()
	}
}

// Monitors reports whether the session watches the given canonical chat id.
func (s *Session) Monitors(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.monitored[chatID]
	return ok
}

// SetMonitoredChats replaces the monitored chat set.
func (s *Session) SetMonitoredChats(chats []int64) {
	monitored := make(map[int64]struct{}, len(chats))
	for _, chat := range chats {
		monitored[chat] = struct{}{}
	}
	s.mu.Lock()
	s.monitored = monitored
	s.mu.Unlock()
}

// SubmitCode feeds a login code to a session awaiting one.
func (s *Session) SubmitCode(code string) error {
	if s.fsm.State() != StateAwaitingCode {
		return ErrNotAwaitingCode
	}
	return s.bridge.SubmitCode(code)
}

// SubmitPassword feeds a 2FA password to a session awaiting one.
func (s *Session) SubmitPassword(password string) error {
	if s.fsm.State() != StateAwaiting2FA {
		return ErrNotAwaitingPassword
	}
	return s.bridge.SubmitPassword(password)
}

// registerHandlers subscribes to new and edited message updates. The handler
// spawns an isolated task per event and returns immediately so processing
// never blocks event reception.
func (s *Session) registerHandlers(client *gotgproto.Client) {
	client.Dispatcher.AddHandler(handlers.NewAnyUpdate(func(_ *ext.Context, update *ext.Update) error {
		msg, kind, ok := updateMessage(update.UpdateClass)
		if !ok {
			return nil
		}
		ev := telegram.ParseMessage(msg, kind)
		if ev == nil {
			return nil
		}

		select {
		case <-s.stop:
			return nil
		default:
		}

		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Msg("session: event task panic recovered")
				}
			}()
			s.router.Route(context.Background(), s, ev)
		}()
		return nil
	}))
}

// updateMessage extracts the message and event kind from a raw update.
func updateMessage(update tg.UpdateClass) (tg.MessageClass, telegram.EventKind, bool) {
	switch u := update.(type) {
	case *tg.UpdateNewMessage:
		return u.Message, telegram.EventNewMessage, true
	case *tg.UpdateNewChannelMessage:
		return u.Message, telegram.EventNewMessage, true
	case *tg.UpdateEditMessage:
		return u.Message, telegram.EventEditedMessage, true
	case *tg.UpdateEditChannelMessage:
		return u.Message, telegram.EventEditedMessage, true
	default:
		return nil, "", false
	}
}

// Send delivers text (and the original attachment, buttons and link-preview
// state, when present) to the target chat on the session's own goroutine.
func (s *Session) Send(ctx context.Context, targetChat int64, text string, ev *telegram.Event) error {
	return s.Call(ctx, SendTimeout, func(ctx context.Context, client *gotgproto.Client) error {
		ectx := client.CreateContext()

		if media := forwardableMedia(ev); media != nil {
			req := &tg.MessagesSendMediaRequest{
				Media:   media,
				Message: text,
			}
			if markup, ok := ev.Msg.GetReplyMarkup(); ok {
				req.ReplyMarkup = markup
			}
			_, err := ectx.SendMedia(targetChat, req)
			return err
		}

		req := &tg.MessagesSendMessageRequest{Message: text}
		if markup, ok := ev.Msg.GetReplyMarkup(); ok {
			req.ReplyMarkup = markup
		}
		// preserve link-preview semantics of the original
		if ev.MediaType != models.MediaTypeWebpage {
			req.NoWebpage = true
		}
		_, err := ectx.SendMessage(targetChat, req)
		return err
	})
}

// forwardableMedia rebuilds an input media reference for re-sending, or nil
// for plain text and webpage previews.
func forwardableMedia(ev *telegram.Event) tg.InputMediaClass {
	if ev.Msg == nil {
		return nil
	}
	switch m := ev.Msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}
	default:
		return nil
	}
}

// isAuthError classifies authentication failures, which are surfaced
// immediately and never retried automatically.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthTimeout) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"PHONE_CODE_INVALID",
		"PHONE_CODE_EXPIRED",
		"PASSWORD_HASH_INVALID",
		"PHONE_NUMBER_INVALID",
		"ACCESS_TOKEN_INVALID",
		"AUTH_KEY_UNREGISTERED",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
