// Package session owns the authenticated principal, the bearer token
// lifecycle, and the user settings blob. The manager is the token provider
// for both the HTTP client and the realtime channel, persists its state in
// the local store, and clears itself on the client's unauthorized broadcast.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/localstore"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

const (
	keyPrincipal   = "session/principal"
	keyCredentials = "session/credentials"
	keySettings    = "session/settings"

	// refreshLead is how long before expiry the scheduled refresh runs.
	refreshLead = time.Minute
	// refreshFloor is the minimum delay before a scheduled refresh.
	refreshFloor = 5 * time.Second
	// refreshRetry is the delay before retrying a failed scheduled refresh.
	refreshRetry = 30 * time.Second
)

// Config holds manager dependencies.
type Config struct {
	// Client is the API client. Required. The manager installs itself as the
	// client's token provider.
	Client *client.Client
	// Store persists the session across restarts. Nil disables persistence.
	Store *localstore.Store
	// AutoRefresh schedules a token refresh shortly before expiry.
	AutoRefresh bool
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Manager owns session state.
type Manager struct {
	client      *client.Client
	store       *localstore.Store
	autoRefresh bool
	log         *logging.Logger
	notifier    base.Notifier

	mu           sync.RWMutex
	principal    *Principal
	creds        *Credentials
	settings     Settings
	refreshTimer *time.Timer
	closed       bool

	refreshWait chan struct{}
	refreshErr  error

	offUnauthorized func()
}

// NewManager creates the manager, restores any persisted session, and wires
// itself to the client.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("session: Client is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("session")
	}

	m := &Manager{
		client:      cfg.Client,
		store:       cfg.Store,
		autoRefresh: cfg.AutoRefresh,
		log:         log,
	}
	m.restore()

	m.offUnauthorized = cfg.Client.OnUnauthorized(func() {
		m.log.Info("session cleared by unauthorized response")
		m.clear()
	})
	cfg.Client.SetTokenProvider(m)
	return m, nil
}

// =============================================================================
// Token provider + snapshots
// =============================================================================

// AccessToken implements client.TokenProvider and the realtime token source.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.AccessToken
}

// Authenticated reports whether a session is present.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds != nil
}

// Principal returns the signed-in user.
func (m *Manager) Principal() (Principal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.principal == nil {
		return Principal{}, false
	}
	return *m.principal, true
}

// Credentials returns a copy of the current token pair.
func (m *Manager) Credentials() (Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return Credentials{}, false
	}
	return *m.creds, true
}

// Settings returns a copy of the synchronized settings blob.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.clone()
}

// OnChange registers fn to run after every session state change.
func (m *Manager) OnChange(fn func()) func() {
	return m.notifier.Watch(fn)
}

// =============================================================================
// Auth operations
// =============================================================================

// Login signs in. Inputs are validated locally before any network call.
func (m *Manager) Login(ctx context.Context, email, password string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !validEmail(email) {
		return Principal{}, client.ValidationError("email", "enter a valid email address")
	}
	if !validPassword(password) {
		return Principal{}, client.ValidationError("password", "password must be 8-72 characters with a letter and a number")
	}

	var resp authResponse
	err := m.client.Post(ctx, "/auth/login", credentialsRequest{Email: email, Password: password}, &resp)
	metrics.RecordStoreAction("session", "login", err)
	if err != nil {
		return Principal{}, err
	}
	m.applyAuth(resp)
	m.log.WithField("user", resp.User.ID).Info("signed in")
	return resp.User, nil
}

// Register creates an account and signs in.
func (m *Manager) Register(ctx context.Context, email, password, name string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if !validEmail(email) {
		return Principal{}, client.ValidationError("email", "enter a valid email address")
	}
	if !validPassword(password) {
		return Principal{}, client.ValidationError("password", "password must be 8-72 characters with a letter and a number")
	}
	if name == "" {
		return Principal{}, client.ValidationError("name", "name is required")
	}

	var resp authResponse
	err := m.client.Post(ctx, "/auth/register", registerRequest{Email: email, Password: password, Name: name}, &resp)
	metrics.RecordStoreAction("session", "register", err)
	if err != nil {
		return Principal{}, err
	}
	m.applyAuth(resp)
	m.log.WithField("user", resp.User.ID).Info("account created")
	return resp.User, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent calls share
// a single request and its result.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshWait != nil {
		wait := m.refreshWait
		m.mu.Unlock()
		select {
		case <-wait:
			m.mu.Lock()
			err := m.refreshErr
			m.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.creds == nil || m.creds.RefreshToken == "" {
		m.mu.Unlock()
		return client.NewAPIError(client.CodeUnauthorized, "no session to refresh", 0)
	}
	refreshToken := m.creds.RefreshToken
	wait := make(chan struct{})
	m.refreshWait = wait
	m.mu.Unlock()

	var resp authResponse
	err := m.client.Post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &resp)
	metrics.RecordStoreAction("session", "refresh", err)
	if err == nil {
		m.applyAuth(resp)
	}

	m.mu.Lock()
	m.refreshErr = err
	m.refreshWait = nil
	close(wait)
	m.mu.Unlock()

	if err != nil {
		m.log.WithError(err).Warn("token refresh failed")
	}
	return err
}

// Logout tells the server best-effort, then clears local and persisted state.
func (m *Manager) Logout(ctx context.Context) error {
	if m.Authenticated() {
		if err := m.client.Post(ctx, "/auth/logout", nil, nil); err != nil {
			m.log.WithError(err).Debug("server logout failed")
		}
		metrics.RecordStoreAction("session", "logout", nil)
	}
	m.clear()
	return nil
}

// Close stops the refresh timer and detaches from the client. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	off := m.offUnauthorized
	m.offUnauthorized = nil
	m.mu.Unlock()

	if off != nil {
		off()
	}
}

// =============================================================================
// Realtime folds
// =============================================================================

// Bind subscribes the session's realtime events. The returned function
// unsubscribes both.
func (m *Manager) Bind(ch *realtime.Channel) func() {
	offUser := ch.On(realtime.EventUserUpdated, m.handleUserUpdated)
	offSettings := ch.On(realtime.EventSettingsSync, m.handleSettingsSync)
	return func() {
		offUser()
		offSettings()
	}
}

func (m *Manager) handleUserUpdated(payload json.RawMessage) {
	var upd userUpdatedPayload
	if err := json.Unmarshal(payload, &upd); err != nil {
		m.log.WithError(err).Debug("dropping malformed user-updated payload")
		return
	}

	m.mu.Lock()
	if m.principal == nil || (upd.ID != "" && upd.ID != m.principal.ID) {
		m.mu.Unlock()
		return
	}
	if upd.Email != "" {
		m.principal.Email = upd.Email
	}
	if upd.Name != "" {
		m.principal.Name = upd.Name
	}
	m.mu.Unlock()

	m.persist()
	m.notifier.Notify()
}

func (m *Manager) handleSettingsSync(payload json.RawMessage) {
	var settings Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		m.log.WithError(err).Debug("dropping malformed settings-sync payload")
		return
	}

	m.mu.Lock()
	if m.creds == nil {
		m.mu.Unlock()
		return
	}
	m.settings = settings
	m.mu.Unlock()

	m.persist()
	m.notifier.Notify()
}

// =============================================================================
// Internals
// =============================================================================

// applyAuth installs a fresh token pair. Refresh responses may omit the user
// and the rotated refresh token; existing values are kept in that case.
func (m *Manager) applyAuth(resp authResponse) {
	creds := Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    tokenExpiry(resp.AccessToken),
	}

	m.mu.Lock()
	if creds.RefreshToken == "" && m.creds != nil {
		creds.RefreshToken = m.creds.RefreshToken
	}
	if resp.User.ID != "" {
		user := resp.User
		m.principal = &user
	}
	m.creds = &creds
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	m.persist()
	m.notifier.Notify()
}

// clear drops the session, the timer, and the persisted copy.
func (m *Manager) clear() {
	m.mu.Lock()
	hadSession := m.creds != nil || m.principal != nil
	m.principal = nil
	m.creds = nil
	m.settings = nil
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.mu.Unlock()

	m.wipePersisted()
	if hadSession {
		m.notifier.Notify()
	}
}

// scheduleRefreshLocked arms the auto-refresh timer for refreshLead before
// expiry. Callers must hold m.mu.
func (m *Manager) scheduleRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if !m.autoRefresh || m.closed || m.creds == nil || m.creds.ExpiresAt.IsZero() {
		return
	}
	delay := time.Until(m.creds.ExpiresAt) - refreshLead
	if delay < refreshFloor {
		delay = refreshFloor
	}
	m.refreshTimer = time.AfterFunc(delay, m.autoRefreshFire)
}

func (m *Manager) autoRefreshFire() {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}

	if err := m.Refresh(context.Background()); err != nil {
		m.mu.Lock()
		// Retry while a refresh token is still on hand; a 401 already
		// cleared the session through the unauthorized broadcast.
		if !m.closed && m.creds != nil {
			if m.refreshTimer != nil {
				m.refreshTimer.Stop()
			}
			m.refreshTimer = time.AfterFunc(refreshRetry, m.autoRefreshFire)
		}
		m.mu.Unlock()
	}
}

// restore loads the persisted session. Expired credentials are discarded
// along with the rest of the persisted state.
func (m *Manager) restore() {
	if m.store == nil {
		return
	}

	raw, err := m.store.Get(keyCredentials)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			m.log.WithError(err).Warn("restore credentials failed")
		}
		return
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		m.log.WithError(err).Warn("discarding unreadable persisted credentials")
		m.wipePersisted()
		return
	}
	if creds.Expired() {
		m.log.Info("discarding expired persisted session")
		m.wipePersisted()
		return
	}

	var principal *Principal
	if raw, err := m.store.Get(keyPrincipal); err == nil {
		var p Principal
		if json.Unmarshal(raw, &p) == nil {
			principal = &p
		}
	}
	var settings Settings
	if raw, err := m.store.Get(keySettings); err == nil {
		_ = json.Unmarshal(raw, &settings)
	}

	m.mu.Lock()
	m.creds = &creds
	m.principal = principal
	m.settings = settings
	m.scheduleRefreshLocked()
	m.mu.Unlock()
	m.log.Info("session restored")
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	principal := m.principal
	creds := m.creds
	settings := m.settings
	m.mu.RUnlock()

	put := func(key string, v any) {
		data, err := json.Marshal(v)
		if err == nil {
			err = m.store.Put(key, data)
		}
		if err != nil {
			m.log.WithError(err).WithField("key", key).Warn("persist session state failed")
		}
	}
	if creds != nil {
		put(keyCredentials, creds)
	}
	if principal != nil {
		put(keyPrincipal, principal)
	}
	if settings != nil {
		put(keySettings, settings)
	}
}

func (m *Manager) wipePersisted() {
	if m.store == nil {
		return
	}
	for _, key := range []string{keyCredentials, keyPrincipal, keySettings} {
		if err := m.store.Delete(key); err != nil {
			m.log.WithError(err).WithField("key", key).Warn("wipe session state failed")
		}
	}
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
