package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/celestix/gotgproto"
)

// Auth errors are surfaced immediately to the caller with a specific reason
// and never retried automatically.
var (
	ErrNotAwaitingCode     = errors.New("session is not awaiting a login code")
	ErrNotAwaitingPassword = errors.New("session is not awaiting a 2FA password")
	ErrAuthTimeout         = errors.New("timed out waiting for auth input")
)

// defaultAuthTimeout bounds how long a login flow waits for external input.
const defaultAuthTimeout = 5 * time.Minute

// AuthBridge implements the client's auth conversation by bridging it to the
// session manager's explicit request-code / submit-code / submit-password
// calls. The client blocks inside AskCode or AskPassword on the session's own
// goroutine; external callers feed the channels.
type AuthBridge struct {
	phone   string
	timeout time.Duration

	codes     chan string
	passwords chan string

	onCodeRequired     func()
	onPasswordRequired func()
}

// NewAuthBridge creates an auth bridge for a phone login.
func NewAuthBridge(phone string, onCodeRequired, onPasswordRequired func()) *AuthBridge {
	return &AuthBridge{
		phone:              phone,
		timeout:            defaultAuthTimeout,
		codes:              make(chan string),
		passwords:          make(chan string),
		onCodeRequired:     onCodeRequired,
		onPasswordRequired: onPasswordRequired,
	}
}

// AskPhoneNumber returns the configured phone without prompting.
func (b *AuthBridge) AskPhoneNumber() (string, error) {
	return b.phone, nil
}

// AskCode blocks on the session goroutine until SubmitCode is called.
func (b *AuthBridge) AskCode() (string, error) {
	if b.onCodeRequired != nil {
		b.onCodeRequired()
	}
	select {
	case code := <-b.codes:
		return code, nil
	case <-time.After(b.timeout):
		return "", fmt.Errorf("login code: %w", ErrAuthTimeout)
	}
}

// AskPassword blocks on the session goroutine until SubmitPassword is called.
func (b *AuthBridge) AskPassword() (string, error) {
	if b.onPasswordRequired != nil {
		b.onPasswordRequired()
	}
	select {
	case password := <-b.passwords:
		return password, nil
	case <-time.After(b.timeout):
		return "", fmt.Errorf("2fa password: %w", ErrAuthTimeout)
	}
}

// AuthStatus receives intermediate auth progress from the client.
func (b *AuthBridge) AuthStatus(status gotgproto.AuthStatus) {}

// SubmitCode hands a login code to the blocked AskCode call.
func (b *AuthBridge) SubmitCode(code string) error {
	select {
	case b.codes <- code:
		return nil
	default:
		return ErrNotAwaitingCode
	}
}

// SubmitPassword hands a 2FA password to the blocked AskPassword call.
func (b *AuthBridge) SubmitPassword(password string) error {
	select {
	case b.passwords <- password:
		return nil
	default:
		return ErrNotAwaitingPassword
	}
}
