// Package notify is the in-app notification store: uuid-keyed items with
// unread tracking, duplicate suppression, auto-hide timers and an optional
// platform alerter for high priority items.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

// Priority orders how prominently a notification is surfaced.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func normalizePriority(p Priority) Priority {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityNormal
}

// Kinds used by the built-in producers. Kind is free-form; these are the
// values the SDK itself emits.
const (
	KindInfo      = "info"
	KindInsight   = "insight"
	KindReminder  = "reminder"
	KindMilestone = "milestone"
	KindCrisis    = "crisis"
)

// Notification is one in-app notification. AutoHide of zero means the item
// stays until read or removed.
type Notification struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Priority  Priority      `json:"priority"`
	Read      bool          `json:"read"`
	AutoHide  time.Duration `json:"autoHide,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Input is the payload for Add.
type Input struct {
	Kind     string
	Title    string
	Message  string
	Priority Priority
	AutoHide time.Duration
}

// Alerter bridges notifications to a platform facility (system tray, push,
// terminal bell). Implementations are called for high and urgent items only.
type Alerter interface {
	Alert(n Notification) error
}

// Deps holds store dependencies. All fields are optional.
type Deps struct {
	// Alerter receives high and urgent notifications.
	Alerter Alerter
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store keeps notifications newest first with an incrementally maintained
// unread counter.
type Store struct {
	alerter Alerter
	log     *logging.Logger

	mu      sync.Mutex
	items   []Notification
	unread  int
	enabled bool
	closed  bool
	timers  map[string]*time.Timer

	notifier base.Notifier
}

// New creates an enabled store.
func New(deps Deps) *Store {
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("notify")
	}
	return &Store{
		alerter: deps.Alerter,
		log:     log,
		enabled: true,
		timers:  make(map[string]*time.Timer),
	}
}

// =============================================================================
// Snapshots
// =============================================================================

// Notifications returns a copy, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Unread returns the number of unread notifications.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Enabled reports whether Add currently accepts notifications.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && !s.closed
}

// Watch registers fn to run after every store change.
func (s *Store) Watch(fn func()) func() {
	return s.notifier.Watch(fn)
}

// =============================================================================
// Mutations
// =============================================================================

// Add creates a notification and returns its id. An unread item with the
// same (Kind, Title, Message) suppresses the add and returns the existing id
// with added == false. A disabled or closed store returns ("", false).
func (s *Store) Add(in Input) (id string, added bool) {
	s.mu.Lock()
	if s.closed || !s.enabled {
		s.mu.Unlock()
		return "", false
	}
	for _, existing := range s.items {
		if !existing.Read && existing.Kind == in.Kind && existing.Title == in.Title && existing.Message == in.Message {
			s.mu.Unlock()
			return existing.ID, false
		}
	}

	n := Notification{
		ID:        uuid.NewString(),
		Kind:      in.Kind,
		Title:     in.Title,
		Message:   in.Message,
		Priority:  normalizePriority(in.Priority),
		AutoHide:  in.AutoHide,
		CreatedAt: time.Now(),
	}
	s.items = append([]Notification{n}, s.items...)
	s.unread++
	if n.AutoHide > 0 {
		nid := n.ID
		s.timers[nid] = time.AfterFunc(n.AutoHide, func() { s.Remove(nid) })
	}
	alerter := s.alerter
	s.mu.Unlock()
	s.notifier.Notify()
	metrics.RecordStoreAction("notify", "add", nil)

	if alerter != nil && (n.Priority == PriorityHigh || n.Priority == PriorityUrgent) {
		if err := alerter.Alert(n); err != nil {
			s.log.WithError(err).Warn("platform alert failed")
		}
	}
	return n.ID, true
}

// MarkRead marks one notification read.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	changed := false
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Read {
			s.items[i].Read = true
			s.unread--
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notifier.Notify()
	}
}

// MarkAllRead marks everything read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	changed := s.unread > 0
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()
	if changed {
		s.notifier.Notify()
	}
}

// Remove deletes one notification and stops its auto-hide timer.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	removed := false
	kept := s.items[:0]
	for _, n := range s.items {
		if n.ID == id {
			removed = true
			if !n.Read {
				s.unread--
			}
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if removed {
		s.notifier.Notify()
	}
}

// ClearAll drops every notification and stops all timers.
func (s *Store) ClearAll() {
	s.mu.Lock()
	changed := len(s.items) > 0
	s.stopTimersLocked()
	s.items = nil
	s.unread = 0
	s.mu.Unlock()
	if changed {
		s.notifier.Notify()
	}
}

// SetEnabled toggles whether Add accepts new notifications. Disabling keeps
// what is already there.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.notifier.Notify()
}

// Close stops all timers and makes the store permanently inert. Safe to call
// twice.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimersLocked()
	s.mu.Unlock()
}

func (s *Store) stopTimersLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// =============================================================================
// Realtime mapping
// =============================================================================

// wireNotification is the server push shape for the notification event.
type wireNotification struct {
	Kind            string   `json:"kind"`
	Title           string   `json:"title"`
	Message         string   `json:"message"`
	Priority        Priority `json:"priority"`
	AutoHideSeconds int      `json:"autoHideSeconds"`
}

type insightPayload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

type reminderPayload struct {
	HabitID string `json:"habitId"`
	Name    string `json:"name"`
}

type milestonePayload struct {
	Name string `json:"name,omitempty"`
	Days int    `json:"days"`
}

// Bind maps server pushes into notifications. The returned function detaches
// every subscription.
func (s *Store) Bind(ch *realtime.Channel) func() {
	offs := []func(){
		ch.On(realtime.EventNotification, s.handleNotification),
		ch.On(realtime.EventWellnessInsight, s.handleInsight),
		ch.On(realtime.EventHabitReminder, s.handleReminder),
		ch.On(realtime.EventStreakMilestone, s.handleMilestone),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (s *Store) handleNotification(payload json.RawMessage) {
	var p wireNotification
	if err := json.Unmarshal(payload, &p); err != nil || (p.Title == "" && p.Message == "") {
		s.log.Debug("dropping malformed notification payload")
		return
	}
	if p.Kind == "" {
		p.Kind = KindInfo
	}
	s.Add(Input{
		Kind:     p.Kind,
		Title:    p.Title,
		Message:  p.Message,
		Priority: p.Priority,
		AutoHide: time.Duration(p.AutoHideSeconds) * time.Second,
	})
}

func (s *Store) handleInsight(payload json.RawMessage) {
	var p insightPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Message == "" {
		s.log.Debug("dropping malformed wellness-insight payload")
		return
	}
	if p.Title == "" {
		p.Title = "Wellness insight"
	}
	s.Add(Input{Kind: KindInsight, Title: p.Title, Message: p.Message, Priority: PriorityNormal})
}

func (s *Store) handleReminder(payload json.RawMessage) {
	var p reminderPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Name == "" {
		s.log.Debug("dropping malformed habit-reminder payload")
		return
	}
	s.Add(Input{
		Kind:     KindReminder,
		Title:    "Habit reminder",
		Message:  fmt.Sprintf("Don't forget: %s", p.Name),
		Priority: PriorityNormal,
	})
}

func (s *Store) handleMilestone(payload json.RawMessage) {
	var p milestonePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Days <= 0 {
		s.log.Debug("dropping malformed streak-milestone payload")
		return
	}
	message := fmt.Sprintf("%d day streak", p.Days)
	if p.Name != "" {
		message = fmt.Sprintf("%d day streak on %s", p.Days, p.Name)
	}
	s.Add(Input{Kind: KindMilestone, Title: "Streak milestone!", Message: message, Priority: PriorityHigh})
}
