// Package crisis handles crisis support: alert dispatch, alert history, the
// resource directory and emergency contacts. Alert dispatch is never served
// from cache and failures are surfaced immediately; this is the one store
// where stale success would be harmful.
package crisis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

// Level grades how acute an alert is.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

func validLevel(l Level) bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Alert is one dispatched crisis alert.
type Alert struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Handled   bool      `json:"handled"`
	CreatedAt time.Time `json:"createdAt"`
}

// Resource is one entry of the support resource directory.
type Resource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Phone        string `json:"phone,omitempty"`
	URL          string `json:"url,omitempty"`
	Category     string `json:"category,omitempty"`
	Available247 bool   `json:"available247"`
}

// EmergencyContact is a personal contact reachable in a crisis.
type EmergencyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone"`
}

// NotifyFunc surfaces an urgent notification to the user.
type NotifyFunc func(title, message string)

// Deps holds store dependencies.
type Deps struct {
	// Client is the API client. Required.
	Client *client.Client
	// Channel is used for best-effort crisis-alert emits. Optional.
	Channel *realtime.Channel
	// Notify surfaces support availability as an urgent notification.
	// Optional.
	Notify NotifyFunc
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store keeps the alert history plus the lazily loaded resource directory
// and emergency contacts.
type Store struct {
	client  *client.Client
	channel *realtime.Channel
	notify  NotifyFunc
	log     *logging.Logger

	mu        sync.RWMutex
	alerts    []Alert
	resources []Resource
	contacts  []EmergencyContact
	status    base.Status

	resourceGuard base.FetchGuard
	contactGuard  base.FetchGuard
	notifier      base.Notifier
}

// New creates the store.
func New(deps Deps) (*Store, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("crisis: Client is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("crisis")
	}
	return &Store{
		client:  deps.Client,
		channel: deps.Channel,
		notify:  deps.Notify,
		log:     log,
	}, nil
}

// =============================================================================
// Alert dispatch
// =============================================================================

type alertRequest struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Alert dispatches a crisis alert and prepends the server record to the
// history. The alert is also emitted on the realtime channel best-effort so
// other devices see it without waiting for a poll.
func (s *Store) Alert(ctx context.Context, level Level, message string) (Alert, error) {
	if !validLevel(level) {
		return Alert{}, client.ValidationError("level", "level must be low, medium, high or critical")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Alert{}, client.ValidationError("message", "message is required")
	}

	s.mu.Lock()
	s.status.Submitting = true
	s.mu.Unlock()
	s.notifier.Notify()

	var created Alert
	err := s.client.Post(ctx, "/crisis/alert", alertRequest{Level: level, Message: message}, &created)
	metrics.RecordStoreAction("crisis", "alert", err)

	s.mu.Lock()
	if err == nil {
		s.upsertAlertLocked(created)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Error("crisis alert dispatch failed")
		return Alert{}, err
	}
	s.emitAlert(created)
	return created, nil
}

// Alerts fetches the alert history. Crisis data is always fetched fresh.
func (s *Store) Alerts(ctx context.Context) ([]Alert, error) {
	s.mu.Lock()
	s.status.Loading = true
	s.mu.Unlock()
	s.notifier.Notify()

	var alerts []Alert
	err := s.client.Get(ctx, "/crisis/alerts", nil, &alerts)
	metrics.RecordStoreAction("crisis", "alerts", err)

	s.mu.Lock()
	if err == nil {
		s.alerts = alerts
	}
	s.status.FinishFetch(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("fetch crisis alerts failed")
		return nil, err
	}
	return s.History(), nil
}

// History returns the locally known alerts, newest first.
func (s *Store) History() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Status returns the request flags.
func (s *Store) Status() base.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Watch registers fn to run after every store change.
func (s *Store) Watch(fn func()) func() {
	return s.notifier.Watch(fn)
}

// =============================================================================
// Directory
// =============================================================================

// Resources returns the support resource directory, fetched once and then
// served from memory. Refreshing requires Reset.
func (s *Store) Resources(ctx context.Context) ([]Resource, error) {
	err := s.resourceGuard.Do(ctx, func(ctx context.Context) error {
		var resources []Resource
		err := s.client.Get(ctx, "/crisis/resources", nil, &resources)
		metrics.RecordStoreAction("crisis", "resources", err)
		if err != nil {
			s.log.WithError(err).Warn("fetch crisis resources failed")
			return err
		}
		s.mu.Lock()
		s.resources = resources
		s.mu.Unlock()
		s.notifier.Notify()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, len(s.resources))
	copy(out, s.resources)
	return out, nil
}

// EmergencyContacts returns the user's emergency contacts, fetched once and
// then served from memory.
func (s *Store) EmergencyContacts(ctx context.Context) ([]EmergencyContact, error) {
	err := s.contactGuard.Do(ctx, func(ctx context.Context) error {
		var contacts []EmergencyContact
		err := s.client.Get(ctx, "/crisis/emergency-contacts", nil, &contacts)
		metrics.RecordStoreAction("crisis", "contacts", err)
		if err != nil {
			s.log.WithError(err).Warn("fetch emergency contacts failed")
			return err
		}
		s.mu.Lock()
		s.contacts = contacts
		s.mu.Unlock()
		s.notifier.Notify()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmergencyContact, len(s.contacts))
	copy(out, s.contacts)
	return out, nil
}

// =============================================================================
// Realtime + lifecycle
// =============================================================================

// supportPayload announces that live crisis support came online.
type supportPayload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bind subscribes the crisis folds and the unauthorized reset. The returned
// function detaches everything.
func (s *Store) Bind(ch *realtime.Channel) func() {
	offAlert := ch.On(realtime.EventCrisisAlert, s.handleAlertPush)
	offSupport := ch.On(realtime.EventCrisisSupportAvailable, s.handleSupportAvailable)
	offUnauth := s.client.OnUnauthorized(s.Reset)
	return func() {
		offAlert()
		offSupport()
		offUnauth()
	}
}

// Reset restores zero state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.alerts = nil
	s.resources = nil
	s.contacts = nil
	s.status = base.Status{}
	s.mu.Unlock()
	s.resourceGuard.Reset()
	s.contactGuard.Reset()
	s.notifier.Notify()
}

func (s *Store) handleAlertPush(payload json.RawMessage) {
	var alert Alert
	if err := json.Unmarshal(payload, &alert); err != nil || alert.ID == "" {
		s.log.Debug("dropping malformed crisis-alert payload")
		return
	}
	s.mu.Lock()
	s.upsertAlertLocked(alert)
	s.mu.Unlock()
	s.notifier.Notify()
}

// handleSupportAvailable surfaces live support as an urgent notification.
func (s *Store) handleSupportAvailable(payload json.RawMessage) {
	if s.notify == nil {
		return
	}
	var p supportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Debug("dropping malformed crisis-support-available payload")
		return
	}
	if p.Title == "" {
		p.Title = "Crisis support available"
	}
	if p.Message == "" {
		p.Message = "A counselor is available to talk right now."
	}
	s.notify(p.Title, p.Message)
}

func (s *Store) emitAlert(alert Alert) {
	if s.channel == nil {
		return
	}
	if err := s.channel.Emit(realtime.EventCrisisAlert, alert); err != nil {
		s.log.WithError(err).Debug("crisis-alert emit skipped")
	}
}

func (s *Store) upsertAlertLocked(alert Alert) {
	for i, existing := range s.alerts {
		if existing.ID == alert.ID {
			s.alerts[i] = alert
			return
		}
	}
	s.alerts = append([]Alert{alert}, s.alerts...)
}
