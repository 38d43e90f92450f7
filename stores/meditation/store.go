// Package meditation tracks meditation sessions: start/complete/abandon, the
// per-second countdown runner that auto-completes a session at zero, server
// stats, and the guided content catalog.
package meditation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

// Type is the meditation practice kind.
type Type string

const (
	TypeBreathing      Type = "breathing"
	TypeMindfulness    Type = "mindfulness"
	TypeLovingKindness Type = "loving-kindness"
	TypeBodyScan       Type = "body-scan"
)

func validType(t Type) bool {
	switch t {
	case TypeBreathing, TypeMindfulness, TypeLovingKindness, TypeBodyScan:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Experience is the post-session self report, each dimension 1..5.
type Experience struct {
	Difficulty    int `json:"difficulty"`
	Enjoyment     int `json:"enjoyment"`
	Effectiveness int `json:"effectiveness"`
}

// Session is one meditation session. Durations are seconds.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Type            Type          `json:"type"`
	Status          SessionStatus `json:"status"`
	PlannedDuration int           `json:"plannedDuration"`
	ActualDuration  int           `json:"actualDuration"`
	StartedAt       time.Time     `json:"startedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	Experience      *Experience   `json:"experience,omitempty"`
}

// Stats is the server-computed meditation summary.
type Stats struct {
	TotalSessions int    `json:"totalSessions"`
	TotalMinutes  int    `json:"totalMinutes"`
	WeeklyMinutes int    `json:"weeklyMinutes"`
	CurrentStreak int    `json:"currentStreak"`
	LongestStreak int    `json:"longestStreak"`
	FavoriteType  string `json:"favoriteType,omitempty"`
}

// GuidedContent is one item of the guided meditation catalog.
type GuidedContent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        Type   `json:"type"`
	Duration    int    `json:"duration"`
	MediaURL    string `json:"mediaUrl"`
	Description string `json:"description,omitempty"`
}

// Deps holds store dependencies.
type Deps struct {
	// Client is the API client. Required.
	Client *client.Client
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store holds meditation sessions ordered newest first, plus the countdown
// for the active session.
type Store struct {
	client *client.Client
	log    *logging.Logger

	mu       sync.RWMutex
	sessions []Session
	active   *countdown
	status   base.Status

	guard    base.FetchGuard
	seq      base.Sequencer
	notifier base.Notifier

	// tick is the countdown resolution; one planned second elapses per tick.
	tick time.Duration
}

// New creates the store.
func New(deps Deps) (*Store, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("meditation: Client is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("meditation")
	}
	return &Store{client: deps.Client, log: log, tick: time.Second}, nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Sessions returns a copy of the sessions, newest first.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// CompletedDays returns the distinct "YYYY-MM-DD" dates having at least one
// completed session, for the streak analytics.
func (s *Store) CompletedDays() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, sess := range s.sessions {
		if sess.Status != StatusCompleted {
			continue
		}
		day := sess.StartedAt.Format("2006-01-02")
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	return out
}

// Status returns the request flags.
func (s *Store) Status() base.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Countdown reports the active session's countdown, if one is running.
func (s *Store) Countdown() (sessionID string, remaining int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return "", 0, false
	}
	return s.active.sessionID, s.active.remaining, true
}

// Watch registers fn to run after every store change.
func (s *Store) Watch(fn func()) func() {
	return s.notifier.Watch(fn)
}

// =============================================================================
// Fetching
// =============================================================================

// EnsureLoaded fetches the session list once per epoch.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	return s.guard.Do(ctx, s.fetch)
}

// Refresh forces a fetch.
func (s *Store) Refresh(ctx context.Context) error {
	s.guard.Reset()
	return s.guard.Do(ctx, s.fetch)
}

func (s *Store) fetch(ctx context.Context) error {
	seq := s.seq.Next()

	s.mu.Lock()
	s.status.Loading = true
	s.mu.Unlock()
	s.notifier.Notify()

	var sessions []Session
	err := s.client.Get(ctx, "/meditation", nil, &sessions)
	metrics.RecordStoreAction("meditation", "fetch", err)

	s.mu.Lock()
	if s.seq.Stale(seq) {
		s.mu.Unlock()
		return err
	}
	if err == nil {
		s.sessions = sessions
	}
	s.status.FinishFetch(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("fetch meditation sessions failed")
	}
	return err
}

// Stats fetches the server-side meditation summary.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := s.client.Get(ctx, "/meditation/stats", nil, &out)
	metrics.RecordStoreAction("meditation", "stats", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch meditation stats failed")
	}
	return out, err
}

// GuidedContent fetches the guided meditation catalog. The endpoint is
// cache-friendly; the client's GET cache applies.
func (s *Store) GuidedContent(ctx context.Context) ([]GuidedContent, error) {
	var out []GuidedContent
	err := s.client.Get(ctx, "/meditation/guided-content", nil, &out)
	metrics.RecordStoreAction("meditation", "guided_content", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch guided content failed")
	}
	return out, err
}

// =============================================================================
// Session lifecycle
// =============================================================================

type startRequest struct {
	Type            Type `json:"type"`
	PlannedDuration int  `json:"plannedDuration"`
}

type completeRequest struct {
	Duration   int         `json:"duration"`
	Experience *Experience `json:"experience,omitempty"`
}

type abandonRequest struct {
	Status         SessionStatus `json:"status"`
	ActualDuration int           `json:"actualDuration"`
}

// Start begins a session and its countdown. Starting while another countdown
// runs stops the old one.
func (s *Store) Start(ctx context.Context, typ Type, plannedSeconds int) (Session, error) {
	if !validType(typ) {
		return Session{}, client.ValidationError("type", "unknown meditation type "+strconv.Quote(string(typ)))
	}
	if plannedSeconds <= 0 {
		return Session{}, client.ValidationError("plannedDuration", "planned duration must be positive")
	}

	s.beginSubmit()
	var created Session
	err := s.client.Post(ctx, "/meditation", startRequest{Type: typ, PlannedDuration: plannedSeconds}, &created)
	metrics.RecordStoreAction("meditation", "start", err)

	s.mu.Lock()
	if err == nil {
		s.upsertLocked(created)
		s.startCountdownLocked(created)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("start meditation failed")
		return Session{}, err
	}
	return created, nil
}

// Complete finishes a session with the given actual duration and optional
// experience report. It stops the countdown for that session.
func (s *Store) Complete(ctx context.Context, id string, actualSeconds int, exp *Experience) (Session, error) {
	if exp != nil {
		if err := validateExperience(*exp); err != nil {
			return Session{}, err
		}
	}

	s.mu.Lock()
	s.haltCountdownLocked(id)
	s.mu.Unlock()

	s.beginSubmit()
	var updated Session
	err := s.client.Post(ctx, "/meditation/"+id+"/complete", completeRequest{Duration: actualSeconds, Experience: exp}, &updated)
	metrics.RecordStoreAction("meditation", "complete", err)

	s.mu.Lock()
	if err == nil {
		s.upsertLocked(updated)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("complete meditation failed")
		return Session{}, err
	}
	return updated, nil
}

// Abandon marks a session abandoned with the elapsed duration and stops its
// countdown.
func (s *Store) Abandon(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	elapsed := s.elapsedLocked(id)
	s.haltCountdownLocked(id)
	s.mu.Unlock()

	s.beginSubmit()
	var updated Session
	err := s.client.Put(ctx, "/meditation/"+id, abandonRequest{Status: StatusAbandoned, ActualDuration: elapsed}, &updated)
	metrics.RecordStoreAction("meditation", "abandon", err)

	s.mu.Lock()
	if err == nil {
		s.upsertLocked(updated)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("abandon meditation failed")
		return Session{}, err
	}
	return updated, nil
}

// =============================================================================
// Realtime + lifecycle
// =============================================================================

// Bind attaches the unauthorized reset. The channel carries no
// meditation-specific events; the parameter keeps the store wiring uniform.
func (s *Store) Bind(_ *realtime.Channel) func() {
	return s.client.OnUnauthorized(s.Reset)
}

// Reset restores zero state and stops any countdown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.sessions = nil
	s.status = base.Status{}
	s.haltCountdownLocked("")
	s.mu.Unlock()
	s.guard.Reset()
	s.notifier.Notify()
}

// Close stops the countdown runner. Safe to call twice.
func (s *Store) Close() {
	s.mu.Lock()
	s.haltCountdownLocked("")
	s.mu.Unlock()
}

// =============================================================================
// Countdown runner
// =============================================================================

// countdown decrements once per tick. The runner goroutine never holds the
// store lock across a tick wait, so snapshot reads stay cheap.
type countdown struct {
	sessionID string
	planned   int
	remaining int
	stop      chan struct{}
	once      sync.Once
}

// halt closes the stop channel once and reports whether this call won.
func (cd *countdown) halt() bool {
	won := false
	cd.once.Do(func() {
		close(cd.stop)
		won = true
	})
	return won
}

func (s *Store) startCountdownLocked(sess Session) {
	s.haltCountdownLocked("")
	cd := &countdown{
		sessionID: sess.ID,
		planned:   sess.PlannedDuration,
		remaining: sess.PlannedDuration,
		stop:      make(chan struct{}),
	}
	s.active = cd
	go s.runCountdown(cd)
}

// haltCountdownLocked stops the active countdown when id matches (empty id
// matches any). Callers must hold s.mu.
func (s *Store) haltCountdownLocked(id string) {
	if s.active == nil {
		return
	}
	if id != "" && s.active.sessionID != id {
		return
	}
	cd := s.active
	s.active = nil
	cd.halt()
}

// elapsedLocked estimates how long the session ran, preferring the countdown
// position over wall-clock math.
func (s *Store) elapsedLocked(id string) int {
	if s.active != nil && s.active.sessionID == id {
		return s.active.planned - s.active.remaining
	}
	for _, sess := range s.sessions {
		if sess.ID == id && !sess.StartedAt.IsZero() {
			elapsed := int(time.Since(sess.StartedAt) / time.Second)
			if elapsed < 0 {
				elapsed = 0
			}
			if elapsed > sess.PlannedDuration {
				elapsed = sess.PlannedDuration
			}
			return elapsed
		}
	}
	return 0
}

func (s *Store) runCountdown(cd *countdown) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.active != cd {
				s.mu.Unlock()
				return
			}
			cd.remaining--
			remaining := cd.remaining
			if remaining <= 0 {
				s.active = nil
			}
			s.mu.Unlock()
			s.notifier.Notify()

			if remaining <= 0 {
				// Natural completion: actual equals planned, exactly once.
				if cd.halt() {
					if _, err := s.Complete(context.Background(), cd.sessionID, cd.planned, nil); err != nil {
						s.log.WithError(err).Warn("countdown auto-complete failed")
					}
				}
				return
			}
		}
	}
}

// =============================================================================
// Internals
// =============================================================================

func validateExperience(exp Experience) error {
	checks := []struct {
		field string
		value int
	}{
		{"difficulty", exp.Difficulty},
		{"enjoyment", exp.Enjoyment},
		{"effectiveness", exp.Effectiveness},
	}
	for _, c := range checks {
		if c.value < 1 || c.value > 5 {
			return client.ValidationError(c.field, c.field+" must be between 1 and 5")
		}
	}
	return nil
}

func (s *Store) beginSubmit() {
	s.mu.Lock()
	s.status.Submitting = true
	s.mu.Unlock()
	s.notifier.Notify()
}

func (s *Store) upsertLocked(sess Session) {
	for i, existing := range s.sessions {
		if existing.ID == sess.ID {
			s.sessions[i] = sess
			return
		}
	}
	s.sessions = append([]Session{sess}, s.sessions...)
}
