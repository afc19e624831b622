package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

// servingSession returns a session whose supervisor loop is running against a
// stub client, without going through the connect cycle.
func servingSession(t *testing.T, factory telegram.ClientFactory) *Session {
	t.Helper()
	acc := models.Account{ID: uuid.New(), Name: "test"}
	router := NewRouter(&fakeRuleSource{}, &fakeForwarder{}, &fakeIntake{}, &fakeLinkSink{}, logger.Nop())
	s := newSession(acc, 0, "", "", factory, router, logger.Nop())
	s.limiter = telegram.NewRateLimiter(1000, 100)
	return s
}

func TestSession_SlowCallDoesNotBlockOthers(t *testing.T) {
	s := servingSession(t, nil)
	s.client = &gotgproto.Client{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(s.done)
		s.serve(ctx)
	}()

	release := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- s.Call(context.Background(), 5*time.Second, func(context.Context, *gotgproto.Client) error {
			<-release
			return nil
		})
	}()

	// the quick call completes while the long one is still in flight
	err := s.Call(context.Background(), 2*time.Second, func(context.Context, *gotgproto.Client) error {
		return nil
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-slowDone)
}

func TestSession_ConcurrentCallsAllComplete(t *testing.T) {
	s := servingSession(t, nil)
	s.client = &gotgproto.Client{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(s.done)
		s.serve(ctx)
	}()

	var completed atomic.Int32
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			errs <- s.Call(context.Background(), 2*time.Second, func(context.Context, *gotgproto.Client) error {
				time.Sleep(20 * time.Millisecond)
				completed.Add(1)
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	assert.EqualValues(t, 8, completed.Load())
}

func TestSession_TransportLossTriggersReconnect(t *testing.T) {
	var attempts atomic.Int32
	factory := func(int, string, *models.Account, string, gotgproto.AuthConversator) (*gotgproto.Client, error) {
		attempts.Add(1)
		return nil, errors.New("rpc error code 401: AUTH_KEY_UNREGISTERED")
	}
	s := servingSession(t, factory)

	// drive the machine to the state a live session holds
	require.NoError(t, s.fsm.Fire(TriggerConnect))
	require.NoError(t, s.fsm.Fire(TriggerAuthorized))
	s.client = &gotgproto.Client{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(s.done)
		s.serve(ctx)
	}()

	s.lost <- errors.New("connection reset")

	// reconnect runs once, fails on the revoked key, and the session winds
	// down instead of reporting connected forever
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after failed reconnect")
	}
	assert.EqualValues(t, 1, attempts.Load())
	assert.Equal(t, StateIdle, s.State())
	assert.Contains(t, s.LastError(), "AUTH_KEY_UNREGISTERED")
}

func TestSession_TransportLossIsIgnoredWhileStopped(t *testing.T) {
	s := servingSession(t, nil)

	// idle machine cannot lose a transport it never had
	assert.False(t, s.fsm.CanFire(TriggerTransportLost))
}
