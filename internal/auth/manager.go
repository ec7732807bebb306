package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"

	"github.com/joshp123/melcloud/internal/store"
)

// Credentials are the account username and password sent on login.
type Credentials struct {
	Username string
	Password string
}

// LoginFunc performs one login exchange and returns the issued token.
//
// It should return *Error when the upstream rejects the credentials or the
// response carries no token.
type LoginFunc func(ctx context.Context, creds Credentials) (*oauth2.Token, error)

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Manager owns one account's session token.
//
// Concurrent callers that find the token stale queue on a single refresh
// section; the first performs the login and the rest re-check and reuse it.
type Manager struct {
	provider string
	creds    Credentials
	login    LoginFunc
	store    store.Store
	logger   Logger

	// refresh is the token critical section. It is held across the login
	// exchange and always acquired before mu.
	refresh *semaphore.Weighted

	mu    sync.Mutex
	token *oauth2.Token
}

func NewManager(ctx context.Context, provider string, creds Credentials, login LoginFunc, st store.Store, logger Logger) (*Manager, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if login == nil {
		return nil, fmt.Errorf("login func is required")
	}
	if st == nil {
		st = store.NewMemory()
	}
	if logger == nil {
		logger = noopLogger{}
	}

	m := &Manager{
		provider: provider,
		creds:    creds,
		login:    login,
		store:    st,
		logger:   logger,
		refresh:  semaphore.NewWeighted(1),
	}
	if err := m.loadInitialState(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// AccessToken returns a token that is valid now, logging in first if needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := m.current(); ok {
		return token, nil
	}

	if err := m.refresh.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.refresh.Release(1)

	if token, ok := m.current(); ok {
		return token, nil
	}

	tokenValid.WithLabelValues(m.provider).Set(0)
	token, err := m.login(ctx, m.creds)
	if err != nil {
		loginFailure.WithLabelValues(m.provider).Inc()
		return "", err
	}
	if token == nil || token.AccessToken == "" {
		loginFailure.WithLabelValues(m.provider).Inc()
		return "", &Error{Provider: m.provider, Reason: "login response carried no token"}
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	loginSuccess.WithLabelValues(m.provider).Inc()
	tokenValid.WithLabelValues(m.provider).Set(1)
	m.logger.Info("logged in", "provider", m.provider, "expiry", token.Expiry)
	m.persist(ctx, token)

	return token.AccessToken, nil
}

// Invalidate drops the cached token if it is still the given one. Callers
// that saw the upstream reject a token use this so only one re-login follows.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken == token {
		m.token = nil
		tokenValid.WithLabelValues(m.provider).Set(0)
	}
}

// Logout forgets the token locally and in durable state.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.refresh.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.refresh.Release(1)

	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
	tokenValid.WithLabelValues(m.provider).Set(0)

	if err := m.store.Delete(ctx, store.KeyToken); err != nil {
		return fmt.Errorf("delete token state: %w", err)
	}
	return nil
}

// Expiry reports the current token's expiry and whether it is valid now.
func (m *Manager) Expiry() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return time.Time{}, false
	}
	return m.token.Expiry, m.token.Valid()
}

func (m *Manager) current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.Valid() {
		return m.token.AccessToken, true
	}
	return "", false
}

func (m *Manager) persist(ctx context.Context, token *oauth2.Token) {
	state := State{
		SchemaVersion: SchemaVersion,
		Username:      m.creds.Username,
		Token:         token.AccessToken,
		Expiry:        token.Expiry,
	}
	if err := store.SaveJSON(context.WithoutCancel(ctx), m.store, store.KeyToken, state); err != nil {
		tokenPersistFailure.WithLabelValues(m.provider).Inc()
		m.logger.Warn("persist token failed", "provider", m.provider, "error", err)
	}
}

func (m *Manager) loadInitialState(ctx context.Context) error {
	data, err := m.store.Load(ctx, store.KeyToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load token state: %w", err)
	}

	state, err := DecodeState(data)
	if err != nil {
		m.logger.Warn("ignoring persisted token", "provider", m.provider, "error", err)
		return nil
	}
	if state.Username != m.creds.Username {
		m.logger.Warn("ignoring persisted token for another account", "provider", m.provider)
		return nil
	}

	token := &oauth2.Token{AccessToken: state.Token, Expiry: state.Expiry}
	if !token.Valid() {
		return nil
	}
	m.token = token
	tokenValid.WithLabelValues(m.provider).Set(1)
	return nil
}
