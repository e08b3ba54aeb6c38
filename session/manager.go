// Package session owns the signed-in state of the client: the access/refresh
// token pair, the user profile, and the single in-flight token refresh.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/jrsteele09/imhotep-client/internal/metrics"
	"github.com/jrsteele09/imhotep-client/internal/redact"
	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

type Manager struct {
	store     storage.Store
	refresher Refresher
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// persist serialises every write of the session keys. Taken before mu.
	persist sync.Mutex

	mu     sync.RWMutex
	tokens Tokens
	user   *User
	epoch  uint64 // bumped by Login and Logout so a late refresh cannot resurrect a session

	inflight singleflight.Group
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func New(store storage.Store, refresher Refresher, options ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "session").Logger()
	return m
}

// Hydrate loads a previously persisted session. A half-written token pair is
// ignored, as is a user record that no longer decodes.
func (m *Manager) Hydrate(ctx context.Context) error {
	access, err := m.read(ctx, storage.KeyAccessToken)
	if err != nil {
		return errors.Wrapf(err, "[session Hydrate] read access token")
	}
	refresh, err := m.read(ctx, storage.KeyRefreshToken)
	if err != nil {
		return errors.Wrapf(err, "[session Hydrate] read refresh token")
	}
	rawUser, err := m.read(ctx, storage.KeyUser)
	if err != nil {
		return errors.Wrapf(err, "[session Hydrate] read user")
	}

	tokens := Tokens{Access: access, Refresh: refresh}
	if !tokens.complete() {
		if access != "" || refresh != "" {
			m.logger.Warn().Msg("discarding incomplete stored token pair")
		}
		return nil
	}

	var user *User
	if rawUser != "" {
		var u User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			m.logger.Warn().Err(err).Msg("stored user does not decode, ignoring it")
		} else {
			user = &u
		}
	}

	m.mu.Lock()
	m.tokens = tokens
	m.user = user
	m.mu.Unlock()

	m.logger.Debug().Bool("user", user != nil).Str("access", redact.Token(access)).Msg("session hydrated")
	return nil
}

// Login installs a freshly issued session. Nothing changes in memory unless
// every key was persisted.
func (m *Manager) Login(ctx context.Context, tokens Tokens, user *User) error {
	if !tokens.complete() {
		return fmt.Errorf("[session Login] both tokens are required: %w", errors.ErrInvalidSession)
	}
	if user == nil {
		return fmt.Errorf("[session Login] user is required: %w", errors.ErrInvalidSession)
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return errors.Wrapf(err, "[session Login] encode user")
	}

	m.persist.Lock()
	defer m.persist.Unlock()

	writes := []struct{ key, value string }{
		{storage.KeyAccessToken, tokens.Access},
		{storage.KeyRefreshToken, tokens.Refresh},
		{storage.KeyUser, string(rawUser)},
	}
	for i, w := range writes {
		if err := m.store.Set(ctx, w.key, w.value); err != nil {
			for _, done := range writes[:i] {
				if delErr := m.store.Delete(ctx, done.key); delErr != nil {
					m.logger.Err(delErr).Str("key", done.key).Msg("rollback after failed login write")
				}
			}
			return errors.Wrapf(err, "[session Login] persist %s", w.key)
		}
	}

	u := *user
	m.mu.Lock()
	m.tokens = tokens
	m.user = &u
	m.epoch++
	m.mu.Unlock()

	m.logger.Info().Int64("user_id", u.ID).Msg("signed in")
	return nil
}

// Logout always clears the in-memory session, then removes the persisted
// keys. Storage errors are returned but do not restore anything.
func (m *Manager) Logout(ctx context.Context) error {
	m.persist.Lock()
	defer m.persist.Unlock()

	m.mu.Lock()
	m.clear()
	m.mu.Unlock()
	return m.deleteKeys(ctx)
}

// logoutIfCurrent signs out unless a Login or Logout happened after epoch
// was read. It reports whether it signed out.
func (m *Manager) logoutIfCurrent(ctx context.Context, epoch uint64) bool {
	m.persist.Lock()
	defer m.persist.Unlock()

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	m.clear()
	m.mu.Unlock()

	_ = m.deleteKeys(ctx) // logged by deleteKeys
	return true
}

// clear must be called with mu held.
func (m *Manager) clear() {
	m.tokens = Tokens{}
	m.user = nil
	m.epoch++
}

func (m *Manager) deleteKeys(ctx context.Context) error {
	var errs []error
	for _, key := range storage.SessionKeys {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("[session Logout] delete %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Err(err).Msg("signed out with storage errors")
		return err
	}
	m.logger.Info().Msg("signed out")
	return nil
}

// UpdateUser replaces the profile, leaving the tokens alone.
func (m *Manager) UpdateUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("[session UpdateUser] user is required: %w", errors.ErrInvalidSession)
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return errors.Wrapf(err, "[session UpdateUser] encode user")
	}

	m.persist.Lock()
	defer m.persist.Unlock()
	if !m.IsAuthenticated() {
		return fmt.Errorf("[session UpdateUser]: %w", errors.ErrNotAuthenticated)
	}
	if err := m.store.Set(ctx, storage.KeyUser, string(rawUser)); err != nil {
		return errors.Wrapf(err, "[session UpdateUser] persist user")
	}

	u := *user
	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()
	return nil
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers share one network call and its outcome. A failure signs
// the user out before the error is returned, unless a Login or Logout
// happened while the refresh was running.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	return m.refreshShared(ctx, "")
}

// RefreshStaleToken is RefreshAccessToken for a caller that was rejected
// while presenting stale. If the session already holds a different access
// token, that token is returned without another round trip. A caller that
// joins a refresh returning stale itself starts one more.
func (m *Manager) RefreshStaleToken(ctx context.Context, stale string) (string, error) {
	return m.refreshShared(ctx, stale)
}

func (m *Manager) refreshShared(ctx context.Context, stale string) (string, error) {
	token, err := m.joinRefresh(ctx, stale)
	if err != nil || stale == "" || token != stale {
		return token, err
	}
	// The flight this caller joined produced the token it was rejected with.
	return m.joinRefresh(ctx, stale)
}

func (m *Manager) joinRefresh(ctx context.Context, stale string) (string, error) {
	ch := m.inflight.DoChan(refreshKey, func() (any, error) {
		// Detached so one caller giving up does not fail everyone waiting.
		return m.refresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RefreshJoined()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	current := m.tokens
	epoch := m.epoch
	m.mu.RUnlock()

	if stale != "" && current.Access != "" && current.Access != stale {
		return current.Access, nil
	}

	refreshToken := current.Refresh
	if refreshToken == "" {
		stored, err := m.read(ctx, storage.KeyRefreshToken)
		if err != nil {
			m.logger.Err(err).Msg("reading stored refresh token")
		}
		refreshToken = stored
	}
	if refreshToken == "" {
		m.logoutIfCurrent(ctx, epoch)
		return "", fmt.Errorf("[session Refresh] %w: %w", errors.ErrRefreshFailed, errors.ErrNoRefreshToken)
	}

	m.metrics.RefreshRequested()
	result, err := m.refresher.Refresh(ctx, refreshToken)
	if err == nil && result.Access == "" {
		err = fmt.Errorf("response carried no access token")
	}
	if err != nil {
		m.logger.Err(err).Str("refresh", redact.Token(refreshToken)).Msg("token refresh failed")
		m.metrics.RefreshFailed()
		if !m.logoutIfCurrent(ctx, epoch) {
			m.logger.Debug().Msg("session changed while refreshing, keeping it")
		}
		return "", fmt.Errorf("[session Refresh] %w: %w", errors.ErrRefreshFailed, err)
	}

	next := Tokens{Access: result.Access, Refresh: refreshToken}
	if result.Refresh != "" {
		next.Refresh = result.Refresh
	}

	m.persist.Lock()
	defer m.persist.Unlock()

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return "", fmt.Errorf("[session Refresh] session changed while refreshing: %w", errors.ErrRefreshFailed)
	}
	m.tokens = next
	m.mu.Unlock()

	if err := m.store.Set(ctx, storage.KeyAccessToken, next.Access); err != nil {
		m.logger.Err(err).Msg("persisting refreshed access token")
	}
	if result.Refresh != "" {
		if err := m.store.Set(ctx, storage.KeyRefreshToken, next.Refresh); err != nil {
			m.logger.Err(err).Msg("persisting rotated refresh token")
		}
	}

	m.logger.Debug().Str("access", redact.Token(next.Access)).Bool("rotated", result.Refresh != "").Msg("access token refreshed")
	return next.Access, nil
}

// read maps a missing key to the empty string.
func (m *Manager) read(ctx context.Context, key string) (string, error) {
	v, err := m.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.Access
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.Refresh
}

// User returns a copy of the profile, or nil when signed out.
func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// AccessTokenExpiry reports the exp claim of the current access token when
// it is a JWT. The signature is not checked.
func (m *Manager) AccessTokenExpiry() (time.Time, bool) {
	return tokenExpiry(m.AccessToken())
}

// TokenSource exposes the current access token to oauth2-aware code. It does
// not refresh; a 401 still goes through the api client.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return tokenSource{m: m}
}

type tokenSource struct {
	m *Manager
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	m := ts.m
	m.mu.RLock()
	tokens := m.tokens
	m.mu.RUnlock()
	if tokens.Access == "" {
		return nil, fmt.Errorf("[session TokenSource]: %w", errors.ErrNotAuthenticated)
	}
	tok := &oauth2.Token{
		AccessToken:  tokens.Access,
		TokenType:    "Bearer",
		RefreshToken: tokens.Refresh,
	}
	if exp, ok := tokenExpiry(tokens.Access); ok {
		tok.Expiry = exp
	}
	return tok, nil
}
