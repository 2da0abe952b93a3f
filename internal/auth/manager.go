// Package auth owns login progress and the authenticated/unauthenticated
// gate for every other endpoint. The session state is process-wide and
// mutated only here; other components read snapshots.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"telestream/internal/config"
	"telestream/internal/telegram"
)

// State identifies the position in the login handshake.
type State int

const (
	StateUnconfigured State = iota
	StateConnecting
	StateAwaitingCode
	StateAwaitingPassword
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConfigured is returned while no API credentials are stored.
	ErrNotConfigured = errors.New("api credentials not configured")
	// ErrSequence is returned when a verification step is invoked out of
	// order, e.g. verifying a code before requesting one.
	ErrSequence = errors.New("phone number or code hash missing, request a code first")
	// ErrNoPasswordPending is returned when VerifyPassword is called
	// without a prior password-needed sign-in result.
	ErrNoPasswordPending = errors.New("no two-factor password expected")
)

// session is the process-wide authentication state. twoFactorRequired set
// implies a prior successful code verification with authenticated still
// false.
type session struct {
	authenticated     bool
	pendingPhone      string
	pendingCodeHash   string
	twoFactorRequired bool
}

// Snapshot is the read-only view handed to other components.
type Snapshot struct {
	State         State
	Authenticated bool
	NeedsPassword bool
	Configured    bool
}

// Result carries the outcome of a verification step.
type Result struct {
	NeedsPassword bool
	SessionToken  string
	User          telegram.User
}

// Manager drives the login state machine over the backend client. All
// methods are safe for concurrent use; the connect path is single-flight so
// racing callers share one physical connection attempt.
type Manager struct {
	client  telegram.Client
	store   config.Store
	logger  *slog.Logger
	connect singleflight.Group

	mu      sync.Mutex
	session session
}

// NewManager constructs a Manager around the backend client and config
// store.
func NewManager(client telegram.Client, store config.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, store: store, logger: logger}
}

// Snapshot returns the current authentication state.
func (m *Manager) Snapshot() Snapshot {
	configured := m.store.Snapshot().Configured()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:         m.stateLocked(configured),
		Authenticated: m.session.authenticated,
		NeedsPassword: m.session.twoFactorRequired,
		Configured:    configured,
	}
}

func (m *Manager) stateLocked(configured bool) State {
	switch {
	case !configured:
		return StateUnconfigured
	case m.session.authenticated:
		return StateAuthenticated
	case m.session.twoFactorRequired:
		return StateAwaitingPassword
	case m.session.pendingCodeHash != "":
		return StateAwaitingCode
	default:
		return StateConnecting
	}
}

// Setup persists API credentials, moving the machine out of Unconfigured.
func (m *Manager) Setup(apiID int, apiHash string) error {
	if apiID == 0 || strings.TrimSpace(apiHash) == "" {
		return fmt.Errorf("missing api credentials")
	}
	_, err := m.store.Update(func(settings *config.Settings) {
		settings.APIID = apiID
		settings.APIHash = strings.TrimSpace(apiHash)
	})
	if err != nil {
		return fmt.Errorf("persist api credentials: %w", err)
	}
	m.logger.Info("api credentials saved")
	return nil
}

// EnsureConnected idempotently establishes (or reuses) the backend
// connection and refreshes the authenticated flag from the remote
// authorization status. Concurrent callers share a single connect attempt.
func (m *Manager) EnsureConnected(ctx context.Context) (Snapshot, error) {
	if !m.store.Snapshot().Configured() {
		return m.Snapshot(), ErrNotConfigured
	}
	_, err, _ := m.connect.Do("connect", func() (any, error) {
		if err := m.client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect telegram: %w", err)
		}
		authorized, err := m.client.Authorized(ctx)
		if err != nil {
			return nil, fmt.Errorf("query authorization: %w", err)
		}
		m.mu.Lock()
		m.session.authenticated = authorized
		m.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return m.Snapshot(), err
	}
	return m.Snapshot(), nil
}

// RequestCode forces a fresh connection and asks the provider to deliver a
// verification code. A leading + is stripped for provider compatibility. A
// backend AUTH_RESTART tears the connection down and surfaces as a
// retryable resend condition.
func (m *Manager) RequestCode(ctx context.Context, phoneNumber string) (telegram.SentCode, error) {
	phone := strings.TrimSpace(phoneNumber)
	if phone == "" {
		return telegram.SentCode{}, fmt.Errorf("phone number required")
	}
	phone = strings.TrimPrefix(phone, "+")
	if !m.store.Snapshot().Configured() {
		return telegram.SentCode{}, ErrNotConfigured
	}

	if err := m.client.Reconnect(ctx); err != nil {
		return telegram.SentCode{}, fmt.Errorf("connect telegram: %w", err)
	}
	sent, err := m.client.SendCode(ctx, phone)
	if err != nil {
		if errors.Is(err, telegram.ErrAuthRestart) {
			_ = m.client.Close(ctx)
			return telegram.SentCode{}, fmt.Errorf("please try sending the code again: %w", err)
		}
		return telegram.SentCode{}, err
	}

	m.mu.Lock()
	m.session.pendingPhone = phone
	m.session.pendingCodeHash = sent.PhoneCodeHash
	m.session.twoFactorRequired = false
	m.mu.Unlock()

	if _, err := m.store.Update(func(settings *config.Settings) {
		settings.PhoneNumber = phone
	}); err != nil {
		m.logger.Warn("failed to persist phone number", "error", err)
	}

	m.logger.Info("verification code sent", "timeout", sent.Timeout)
	return sent, nil
}

// VerifyCode validates the one-time code. When the account has two-factor
// auth enabled the result reports NeedsPassword without error and the
// machine moves to AwaitingPassword.
func (m *Manager) VerifyCode(ctx context.Context, code string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{}, fmt.Errorf("verification code required")
	}

	m.mu.Lock()
	phone := m.session.pendingPhone
	codeHash := m.session.pendingCodeHash
	m.mu.Unlock()
	if phone == "" || codeHash == "" {
		return Result{}, ErrSequence
	}

	user, err := m.client.SignIn(ctx, phone, codeHash, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, telegram.ErrPasswordNeeded) {
			m.mu.Lock()
			m.session.twoFactorRequired = true
			m.session.authenticated = false
			m.mu.Unlock()
			if _, err := m.store.Update(func(settings *config.Settings) {
				settings.Auth.TwoFactorEnabled = true
			}); err != nil {
				m.logger.Warn("failed to persist two-factor flag", "error", err)
			}
			return Result{NeedsPassword: true}, nil
		}
		return Result{}, err
	}

	m.mu.Lock()
	m.session.authenticated = true
	m.session.twoFactorRequired = false
	m.session.pendingPhone = ""
	m.session.pendingCodeHash = ""
	m.mu.Unlock()

	m.logger.Info("signed in", "user_id", user.ID)
	return Result{SessionToken: m.store.Snapshot().StringSession, User: user}, nil
}

// VerifyPassword completes two-factor authentication. Valid only after a
// sign-in attempt reported NeedsPassword.
func (m *Manager) VerifyPassword(ctx context.Context, password string) (Result, error) {
	if password == "" {
		return Result{}, fmt.Errorf("password required")
	}

	m.mu.Lock()
	pending := m.session.twoFactorRequired
	m.mu.Unlock()
	if !pending {
		return Result{}, ErrNoPasswordPending
	}

	user, err := m.client.CheckPassword(ctx, password)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	m.session.authenticated = true
	m.session.twoFactorRequired = false
	m.session.pendingPhone = ""
	m.session.pendingCodeHash = ""
	m.mu.Unlock()

	m.logger.Info("two-factor authentication completed", "user_id", user.ID)
	return Result{SessionToken: m.store.Snapshot().StringSession, User: user}, nil
}
