// Package session owns the lifecycle of N independent Telegram sessions and
// routes their inbound events without letting one session's work starve
// another's event reception.
package session

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// State is a session lifecycle state.
type State string

// Session states. The two auth states are driven by explicit external calls
// (request code, submit code, submit password).
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateAwaitingCode State = "awaiting_code"
	StateAwaiting2FA  State = "awaiting_2fa"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateErrored      State = "errored"
)

// String returns the string form of the state.
func (s State) String() string { return string(s) }

// Trigger is a session lifecycle transition cause.
type Trigger string

// Session triggers.
const (
	TriggerConnect          Trigger = "connect"
	TriggerCodeRequired     Trigger = "code_required"
	TriggerPasswordRequired Trigger = "password_required"
	TriggerAuthorized       Trigger = "authorized"
	TriggerAuthFailed       Trigger = "auth_failed"
	TriggerStop             Trigger = "stop"
	TriggerTransportLost    Trigger = "transport_lost"
	TriggerFatal            Trigger = "fatal"
)

// TransitionCallback observes state transitions.
type TransitionCallback func(from, to State, trigger Trigger)

// Machine is the per-session lifecycle FSM. Any auth failure returns to Idle
// and the caller clears partial auth state; transient connect errors retry a
// bounded number of times before Fatal moves the session to Errored.
type Machine struct {
	sm          *stateless.StateMachine
	callbacksMu sync.RWMutex
	callbacks   []TransitionCallback
}

// NewMachine creates a session state machine starting in Idle.
func NewMachine() *Machine {
	m := &Machine{}
	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerConnect, StateConnecting)

	sm.Configure(StateConnecting).
		Permit(TriggerCodeRequired, StateAwaitingCode).
		Permit(TriggerAuthorized, StateConnected).
		Permit(TriggerAuthFailed, StateIdle).
		Permit(TriggerFatal, StateErrored).
		Permit(TriggerStop, StateDisconnected)

	sm.Configure(StateAwaitingCode).
		Permit(TriggerPasswordRequired, StateAwaiting2FA).
		Permit(TriggerAuthorized, StateConnected).
		Permit(TriggerAuthFailed, StateIdle).
		Permit(TriggerStop, StateDisconnected)

	sm.Configure(StateAwaiting2FA).
		Permit(TriggerAuthorized, StateConnected).
		Permit(TriggerAuthFailed, StateIdle).
		Permit(TriggerStop, StateDisconnected)

	sm.Configure(StateConnected).
		Permit(TriggerStop, StateDisconnected).
		Permit(TriggerTransportLost, StateConnecting).
		Permit(TriggerFatal, StateErrored)

	sm.Configure(StateDisconnected).
		Permit(TriggerConnect, StateConnecting)

	sm.Configure(StateErrored).
		Permit(TriggerConnect, StateConnecting)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)
		for _, cb := range callbacks {
			cb(from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// Fire triggers a transition.
func (m *Machine) Fire(trigger Trigger) error {
	return m.sm.Fire(trigger)
}

// CanFire reports whether the trigger is valid from the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	ok, err := m.sm.CanFire(trigger)
	return err == nil && ok
}

// State returns the current state.
func (m *Machine) State() State {
	return m.sm.MustState().(State)
}

// OnTransition registers an observer.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}
