// Package analytics fetches the server-computed dashboard, wellness report
// and per-category analytics. The last dashboard snapshot is kept per
// timeframe so switching ranges renders instantly while a refresh runs.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/base"
)

// Timeframe is the analytics range.
type Timeframe string

const (
	TimeframeWeek    Timeframe = "week"
	TimeframeMonth   Timeframe = "month"
	TimeframeQuarter Timeframe = "quarter"
	TimeframeYear    Timeframe = "year"
)

func validTimeframe(tf Timeframe) bool {
	switch tf {
	case TimeframeWeek, TimeframeMonth, TimeframeQuarter, TimeframeYear:
		return true
	}
	return false
}

// Categories the server breaks analytics down by.
const (
	CategoryMood       = "mood"
	CategoryMeditation = "meditation"
	CategoryHabits     = "habits"
)

func validCategory(name string) bool {
	switch name {
	case CategoryMood, CategoryMeditation, CategoryHabits:
		return true
	}
	return false
}

// Dashboard is the server's aggregate view for one timeframe. WellnessScore
// is nil when the server did not compute one; the wellness package then
// derives a client-side composite.
type Dashboard struct {
	WellnessScore       *float64  `json:"wellnessScore,omitempty"`
	MoodTrend           string    `json:"moodTrend"`
	MoodAverage         float64   `json:"moodAverage"`
	MeditationMinutes   int       `json:"meditationMinutes"`
	HabitCompletionRate float64   `json:"habitCompletionRate"`
	Timeframe           Timeframe `json:"timeframe"`
}

// Report is the narrative wellness report.
type Report struct {
	Timeframe       Timeframe `json:"timeframe"`
	Summary         string    `json:"summary"`
	Highlights      []string  `json:"highlights,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	WellnessScore   *float64  `json:"wellnessScore,omitempty"`
}

// Deps holds store dependencies.
type Deps struct {
	// Client is the API client. Required.
	Client *client.Client
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store caches analytics snapshots per timeframe.
type Store struct {
	client *client.Client
	log    *logging.Logger

	mu         sync.RWMutex
	current    Timeframe
	dashboards map[Timeframe]Dashboard
	categories map[string]json.RawMessage
	status     base.Status

	guard    base.FetchGuard
	seq      base.Sequencer
	notifier base.Notifier
}

// New creates the store. The initial timeframe is week.
func New(deps Deps) (*Store, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("analytics: Client is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("analytics")
	}
	return &Store{
		client:     deps.Client,
		log:        log,
		current:    TimeframeWeek,
		dashboards: make(map[Timeframe]Dashboard),
		categories: make(map[string]json.RawMessage),
	}, nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Timeframe returns the currently selected range.
func (s *Store) Timeframe() Timeframe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Dashboard returns the snapshot for the current timeframe.
func (s *Store) Dashboard() (Dashboard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dashboards[s.current]
	return d, ok
}

// Snapshot returns the kept dashboard for any timeframe.
func (s *Store) Snapshot(tf Timeframe) (Dashboard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dashboards[tf]
	return d, ok
}

// CategorySnapshot returns the raw payload last fetched for a category and
// timeframe.
func (s *Store) CategorySnapshot(name string, tf Timeframe) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.categories[categoryKey(name, tf)]
	return raw, ok
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
// Fetching
// =============================================================================

// EnsureLoaded fetches the current timeframe's dashboard once per epoch.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		return s.fetch(ctx, s.Timeframe())
	})
}

// Refresh switches to the timeframe and forces a dashboard fetch.
func (s *Store) Refresh(ctx context.Context, tf Timeframe) error {
	if tf == "" {
		tf = TimeframeWeek
	}
	if !validTimeframe(tf) {
		return client.ValidationError("timeframe", "timeframe must be week, month, quarter or year")
	}

	s.mu.Lock()
	s.current = tf
	s.mu.Unlock()

	s.guard.Reset()
	return s.guard.Do(ctx, func(ctx context.Context) error {
		return s.fetch(ctx, tf)
	})
}

func (s *Store) fetch(ctx context.Context, tf Timeframe) error {
	seq := s.seq.Next()

	s.mu.Lock()
	s.status.Loading = true
	s.mu.Unlock()
	s.notifier.Notify()

	var dash Dashboard
	err := s.client.Get(ctx, "/analytics/dashboard", url.Values{"timeframe": {string(tf)}}, &dash)
	metrics.RecordStoreAction("analytics", "fetch", err)

	s.mu.Lock()
	if s.seq.Stale(seq) {
		s.mu.Unlock()
		return err
	}
	if err == nil {
		if dash.Timeframe == "" {
			dash.Timeframe = tf
		}
		s.dashboards[tf] = dash
	}
	s.status.FinishFetch(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("fetch analytics dashboard failed")
	}
	return err
}

// WellnessReport fetches the narrative report for a timeframe.
func (s *Store) WellnessReport(ctx context.Context, tf Timeframe) (Report, error) {
	if tf == "" {
		tf = TimeframeWeek
	}
	if !validTimeframe(tf) {
		return Report{}, client.ValidationError("timeframe", "timeframe must be week, month, quarter or year")
	}

	var out Report
	err := s.client.Get(ctx, "/analytics/wellness-report", url.Values{"timeframe": {string(tf)}}, &out)
	metrics.RecordStoreAction("analytics", "wellness_report", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch wellness report failed")
		return Report{}, err
	}
	if out.Timeframe == "" {
		out.Timeframe = tf
	}
	return out, nil
}

// Category fetches the raw analytics payload for mood, meditation or habits
// and keeps it as the category snapshot.
func (s *Store) Category(ctx context.Context, name string, tf Timeframe) (json.RawMessage, error) {
	if !validCategory(name) {
		return nil, client.ValidationError("category", "category must be mood, meditation or habits")
	}
	if tf == "" {
		tf = TimeframeWeek
	}
	if !validTimeframe(tf) {
		return nil, client.ValidationError("timeframe", "timeframe must be week, month, quarter or year")
	}

	var raw json.RawMessage
	err := s.client.Get(ctx, "/analytics/"+name, url.Values{"timeframe": {string(tf)}}, &raw)
	metrics.RecordStoreAction("analytics", "category", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch category analytics failed")
		return nil, err
	}

	s.mu.Lock()
	s.categories[categoryKey(name, tf)] = raw
	s.mu.Unlock()
	s.notifier.Notify()
	return raw, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Bind attaches the unauthorized reset. Analytics carries no realtime events
// of its own; the parameter keeps the store wiring uniform.
func (s *Store) Bind(_ *realtime.Channel) func() {
	return s.client.OnUnauthorized(s.Reset)
}

// Reset restores zero state and the default timeframe.
func (s *Store) Reset() {
	s.mu.Lock()
	s.current = TimeframeWeek
	s.dashboards = make(map[Timeframe]Dashboard)
	s.categories = make(map[string]json.RawMessage)
	s.status = base.Status{}
	s.mu.Unlock()
	s.guard.Reset()
	s.notifier.Notify()
}

func categoryKey(name string, tf Timeframe) string {
	return name + "|" + string(tf)
}
