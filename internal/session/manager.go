package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// ErrUnknownSession is returned for operations on an account id that has no
// running session.
var ErrUnknownSession = errors.New("no session for account")

// AccountStore is the slice of the accounts repository the manager needs.
type AccountStore interface {
	ListEnabled(ctx context.Context) ([]models.Account, error)
	PublishStatus(ctx context.Context, id uuid.UUID, state, lastError string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager owns all running sessions. It starts them, feeds auth input to
// them, publishes their status snapshots, and exposes their transports to the
// download pipeline.
type Manager struct {
	apiID   int
	apiHash string
	dataDir string

	accounts AccountStore
	factory  telegram.ClientFactory
	router   *Router
	log      *logger.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager wires a session manager. factory is injectable so tests can
// substitute a fake transport.
func NewManager(apiID int, apiHash, dataDir string, accounts AccountStore, factory telegram.ClientFactory, router *Router, log *logger.Logger) *Manager {
	return &Manager{
		apiID:    apiID,
		apiHash:  apiHash,
		dataDir:  dataDir,
		accounts: accounts,
		factory:  factory,
		router:   router,
		log:      log.Component("sessions"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// StartAll launches a session for every enabled account. A single account's
// failure to start does not abort the others.
func (m *Manager) StartAll(ctx context.Context) error {
	accounts, err := m.accounts.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	for _, acc := range accounts {
		if err := m.Start(ctx, acc); err != nil {
			m.log.Error().Err(err).Str("account", acc.Name).Msg("sessions: start failed")
		}
	}
	return nil
}

// Start launches one session. Starting an account with a live session is a
// no-op; an entry whose supervisor has exited (failed auth, exhausted
// reconnects) is evicted and replaced, so a fixed account restarts without an
// explicit Remove.
func (m *Manager) Start(ctx context.Context, acc models.Account) error {
	m.mu.Lock()
	if existing, ok := m.sessions[acc.ID]; ok {
		if !existing.exited() {
			m.mu.Unlock()
			return nil
		}
		delete(m.sessions, acc.ID)
	}
	s := newSession(acc, m.apiID, m.apiHash, m.dataDir, m.factory, m.router, m.log)
	m.sessions[acc.ID] = s
	m.mu.Unlock()

	s.fsm.OnTransition(func(_, to State, _ Trigger) {
		m.publish(acc.ID, to, s.LastError())
	})

	s.start(ctx)
	m.log.Info().Str("account", acc.Name).Msg("sessions: session starting")
	return nil
}

// Stop shuts one session down and waits for it to finish.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	close(s.stop)
	<-s.done
	return nil
}

// StopAll shuts every session down.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		close(s.stop)
	}
	for _, s := range sessions {
		<-s.done
	}
}

// Remove stops a session, deletes its account row and discards its on-disk
// session credentials.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	if err := m.Stop(id); err != nil && !errors.Is(err, ErrUnknownSession) {
		return err
	}
	if err := m.accounts.Delete(ctx, id); err != nil {
		return err
	}

	sessionFile := filepath.Join(m.dataDir, fmt.Sprintf("session_%s.db", id))
	if err := os.Remove(sessionFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// SubmitCode feeds a login code to a session awaiting one.
func (m *Manager) SubmitCode(id uuid.UUID, code string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.SubmitCode(code)
}

// SubmitPassword feeds a 2FA password to a session awaiting one.
func (m *Manager) SubmitPassword(id uuid.UUID, password string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.SubmitPassword(password)
}

// Statuses returns a snapshot of every running session.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, Status{
			AccountID: id,
			Name:      s.Account.Name,
			State:     s.State(),
			LastError: s.LastError(),
		})
	}
	return out
}

// SetMonitoredChats hot-swaps the monitored chat set of a running session.
func (m *Manager) SetMonitoredChats(id uuid.UUID, chats []int64) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.SetMonitoredChats(chats)
	return nil
}

// Download streams an event's attachment through the owning session's
// transport into w. This is the media pipeline's only path to the network;
// it runs under the session's rate limiter and the long transfer timeout.
func (m *Manager) Download(ctx context.Context, accountID uuid.UUID, ev *telegram.Event, w io.Writer, progress telegram.ProgressFunc) (int64, error) {
	s, err := m.session(accountID)
	if err != nil {
		return 0, err
	}
	if ev.Msg == nil || ev.Msg.Media == nil {
		return 0, fmt.Errorf("event %d/%d carries no attachment", ev.ChatID, ev.MessageID)
	}

	var written int64
	err = s.Call(ctx, TransferTimeout, func(ctx context.Context, client *gotgproto.Client) error {
		n, err := telegram.DownloadMedia(ctx, client.API(), ev.Msg.Media, ev.FileSize, w, progress)
		written = n
		return err
	})
	return written, err
}

// Fetch re-reads one message through the owning session's transport. Used by
// download recovery to rebuild expired file references.
func (m *Manager) Fetch(ctx context.Context, accountID uuid.UUID, chatID int64, messageID int) (*telegram.Event, error) {
	s, err := m.session(accountID)
	if err != nil {
		return nil, err
	}

	var ev *telegram.Event
	err = s.Call(ctx, DefaultCallTimeout, func(ctx context.Context, client *gotgproto.Client) error {
		fetched, err := telegram.FetchMessage(ctx, client, chatID, messageID)
		ev = fetched
		return err
	})
	return ev, err
}

func (m *Manager) session(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

func (m *Manager) publish(id uuid.UUID, state State, lastError string) {
	if err := m.accounts.PublishStatus(context.Background(), id, state.String(), lastError); err != nil {
		m.log.Warn().Err(err).Str("account_id", id.String()).Msg("sessions: publish status failed")
	}
}
