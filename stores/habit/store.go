// Package habit tracks habits and their daily completions: CRUD, idempotent
// per-day completion with optimistic streak stats, schedule matching, and the
// cron-driven reminder scheduler.
package habit

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

// dateLayout is the calendar-day key for completions.
const dateLayout = "2006-01-02"

// FrequencyKind says how often a habit is due.
type FrequencyKind string

const (
	FrequencyDaily   FrequencyKind = "daily"
	FrequencyWeekly  FrequencyKind = "weekly"
	FrequencyMonthly FrequencyKind = "monthly"
)

func validFrequencyKind(k FrequencyKind) bool {
	switch k {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Frequency is a habit's schedule. Days is only meaningful for weekly habits.
type Frequency struct {
	Kind FrequencyKind  `json:"kind"`
	Days []time.Weekday `json:"days,omitempty"`
}

// Stats is the server-computed habit summary. The store advances it
// optimistically on completion; the next fetch reconciles and the server wins.
type Stats struct {
	CurrentStreak    int     `json:"currentStreak"`
	LongestStreak    int     `json:"longestStreak"`
	TotalCompletions int     `json:"totalCompletions"`
	CompletionRate   float64 `json:"completionRate"`
}

// Habit is one tracked habit.
type Habit struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Frequency    Frequency `json:"frequency"`
	TargetPerDay int       `json:"targetPerDay"`
	Stats        Stats     `json:"stats"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Completion records one habit done on one calendar day. At most one
// completion exists per (habit, day); re-completing replaces it.
type Completion struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habitId"`
	Date        string    `json:"date"`
	Value       int       `json:"value"`
	CompletedAt time.Time `json:"completedAt"`
}

// Input is the create/update payload.
type Input struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Frequency    Frequency `json:"frequency"`
	TargetPerDay int       `json:"targetPerDay"`
}

// Summary is the cross-habit roll-up from /habits/stats/summary.
type Summary struct {
	ActiveHabits   int     `json:"activeHabits"`
	CompletedToday int     `json:"completedToday"`
	BestStreak     int     `json:"bestStreak"`
	OverallRate    float64 `json:"overallRate"`
}

// Deps holds store dependencies.
type Deps struct {
	// Client is the API client. Required.
	Client *client.Client
	// Channel is used for best-effort habit-completed emits. Optional.
	Channel *realtime.Channel
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Store holds habits and the locally known completions per calendar day.
type Store struct {
	client  *client.Client
	channel *realtime.Channel
	log     *logging.Logger

	mu        sync.RWMutex
	habits    []Habit
	completed map[string]map[string]Completion
	status    base.Status

	guard    base.FetchGuard
	seq      base.Sequencer
	notifier base.Notifier

	now func() time.Time
}

// New creates the store.
func New(deps Deps) (*Store, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("habit: Client is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewDefault("habit")
	}
	return &Store{
		client:    deps.Client,
		channel:   deps.Channel,
		log:       log,
		completed: make(map[string]map[string]Completion),
		now:       time.Now,
	}, nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Habits returns a copy of the habit list.
func (s *Store) Habits() []Habit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Habit, len(s.habits))
	copy(out, s.habits)
	return out
}

// Habit returns one habit by id.
func (s *Store) Habit(id string) (Habit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.habits {
		if h.ID == id {
			return h, true
		}
	}
	return Habit{}, false
}

// Status returns the request flags.
func (s *Store) Status() base.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Completion returns the locally known completion for a habit on a
// "YYYY-MM-DD" day.
func (s *Store) Completion(id, date string) (Completion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comp, ok := s.completed[id][date]
	return comp, ok
}

// CompletedToday reports whether the habit has a completion for today.
func (s *Store) CompletedToday(id string) bool {
	today := s.now().Format(dateLayout)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[id][today]
	return ok
}

// CompletionRates returns each habit's completion rate, for the wellness
// score composite.
func (s *Store) CompletionRates() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, 0, len(s.habits))
	for _, h := range s.habits {
		out = append(out, h.Stats.CompletionRate)
	}
	return out
}

// Watch registers fn to run after every store change.
func (s *Store) Watch(fn func()) func() {
	return s.notifier.Watch(fn)
}

// =============================================================================
// Schedule matching
// =============================================================================

// DueOn reports whether the habit is scheduled for the given day. Daily and
// monthly habits are due every day (monthly deliberately errs toward showing
// the habit); weekly habits are due on their weekday set, or every day when
// the set is empty.
func DueOn(h Habit, at time.Time) bool {
	switch h.Frequency.Kind {
	case FrequencyWeekly:
		if len(h.Frequency.Days) == 0 {
			return true
		}
		weekday := at.Weekday()
		for _, d := range h.Frequency.Days {
			if d == weekday {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// DueToday returns the habits scheduled for today.
func (s *Store) DueToday() []Habit {
	at := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Habit
	for _, h := range s.habits {
		if DueOn(h, at) {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// Fetching
// =============================================================================

// EnsureLoaded fetches the habit list once per epoch.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	return s.guard.Do(ctx, s.fetch)
}

// Refresh forces a fetch. Server stats replace any optimistic advances.
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

	var habits []Habit
	err := s.client.Get(ctx, "/habits", nil, &habits)
	metrics.RecordStoreAction("habit", "fetch", err)

	s.mu.Lock()
	if s.seq.Stale(seq) {
		s.mu.Unlock()
		return err
	}
	if err == nil {
		s.habits = habits
	}
	s.status.FinishFetch(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("fetch habits failed")
	}
	return err
}

// Completions fetches the server's completion history for one habit and folds
// it into the local per-day map.
func (s *Store) Completions(ctx context.Context, id string) ([]Completion, error) {
	var out []Completion
	err := s.client.Get(ctx, "/habits/"+id+"/completions", nil, &out)
	metrics.RecordStoreAction("habit", "completions", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch habit completions failed")
		return nil, err
	}

	s.mu.Lock()
	for _, comp := range out {
		if comp.HabitID == "" || comp.Date == "" {
			continue
		}
		s.setCompletionLocked(comp)
	}
	s.mu.Unlock()
	s.notifier.Notify()
	return out, nil
}

// StatsSummary fetches the cross-habit roll-up.
func (s *Store) StatsSummary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.client.Get(ctx, "/habits/stats/summary", nil, &out)
	metrics.RecordStoreAction("habit", "stats_summary", err)
	if err != nil {
		s.log.WithError(err).Warn("fetch habit summary failed")
	}
	return out, err
}

// =============================================================================
// Mutations
// =============================================================================

// Create adds a habit. TargetPerDay defaults to 1.
func (s *Store) Create(ctx context.Context, in Input) (Habit, error) {
	if in.TargetPerDay == 0 {
		in.TargetPerDay = 1
	}
	if err := validateInput(in); err != nil {
		return Habit{}, err
	}

	s.beginSubmit()
	var created Habit
	err := s.client.Post(ctx, "/habits", in, &created)
	metrics.RecordStoreAction("habit", "create", err)

	s.mu.Lock()
	if err == nil {
		s.habits = append([]Habit{created}, s.habits...)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("create habit failed")
		return Habit{}, err
	}
	return created, nil
}

// Update edits a habit in place.
func (s *Store) Update(ctx context.Context, id string, in Input) (Habit, error) {
	if in.TargetPerDay == 0 {
		in.TargetPerDay = 1
	}
	if err := validateInput(in); err != nil {
		return Habit{}, err
	}

	s.beginSubmit()
	var updated Habit
	err := s.client.Put(ctx, "/habits/"+id, in, &updated)
	metrics.RecordStoreAction("habit", "update", err)

	s.mu.Lock()
	if err == nil {
		for i := range s.habits {
			if s.habits[i].ID == updated.ID {
				s.habits[i] = updated
				break
			}
		}
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("update habit failed")
		return Habit{}, err
	}
	return updated, nil
}

// Delete removes a habit and its local completions.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.beginSubmit()
	err := s.client.Delete(ctx, "/habits/"+id)
	metrics.RecordStoreAction("habit", "delete", err)

	s.mu.Lock()
	if err == nil {
		kept := s.habits[:0]
		for _, h := range s.habits {
			if h.ID != id {
				kept = append(kept, h)
			}
		}
		s.habits = kept
		delete(s.completed, id)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("delete habit failed")
	}
	return err
}

type completeRequest struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

type incompleteRequest struct {
	Date string `json:"date"`
}

// Complete records today's completion for a habit. Completing a day that
// already has a completion replaces it; stats advance only on the first
// completion of the day and the next fetch reconciles them.
func (s *Store) Complete(ctx context.Context, id string, value int) (Completion, error) {
	if value <= 0 {
		return Completion{}, client.ValidationError("value", "completion value must be positive")
	}
	date := s.now().Format(dateLayout)

	s.beginSubmit()
	var comp Completion
	err := s.client.Post(ctx, "/habits/"+id+"/complete", completeRequest{Date: date, Value: value}, &comp)
	metrics.RecordStoreAction("habit", "complete", err)

	s.mu.Lock()
	if err == nil {
		if comp.HabitID == "" {
			comp.HabitID = id
		}
		if comp.Date == "" {
			comp.Date = date
		}
		s.applyCompletionLocked(comp)
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("complete habit failed")
		return Completion{}, err
	}
	s.emitCompleted(comp)
	return comp, nil
}

// Incomplete reverses today's completion. The optimistic stat advance is
// rolled back when today's completion was known locally.
func (s *Store) Incomplete(ctx context.Context, id string) error {
	date := s.now().Format(dateLayout)

	s.beginSubmit()
	err := s.client.Post(ctx, "/habits/"+id+"/incomplete", incompleteRequest{Date: date}, nil)
	metrics.RecordStoreAction("habit", "incomplete", err)

	s.mu.Lock()
	if err == nil {
		if _, had := s.completed[id][date]; had {
			delete(s.completed[id], date)
			s.rollbackStatsLocked(id)
		}
	}
	s.status.FinishSubmit(err)
	s.mu.Unlock()
	s.notifier.Notify()

	if err != nil {
		s.log.WithError(err).Warn("incomplete habit failed")
	}
	return err
}

// =============================================================================
// Realtime + lifecycle
// =============================================================================

// Bind subscribes the habit-completed fold and the unauthorized reset. The
// returned function detaches both.
func (s *Store) Bind(ch *realtime.Channel) func() {
	offEvent := ch.On(realtime.EventHabitCompleted, s.handleHabitCompleted)
	offUnauth := s.client.OnUnauthorized(s.Reset)
	return func() {
		offEvent()
		offUnauth()
	}
}

// Reset restores zero state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.habits = nil
	s.completed = make(map[string]map[string]Completion)
	s.status = base.Status{}
	s.mu.Unlock()
	s.guard.Reset()
	s.notifier.Notify()
}

// handleHabitCompleted folds a completion pushed for another device. The
// same idempotence rule applies: a known (habit, day) is replaced without a
// second stat advance.
func (s *Store) handleHabitCompleted(payload json.RawMessage) {
	var comp Completion
	if err := json.Unmarshal(payload, &comp); err != nil || comp.HabitID == "" || comp.Date == "" {
		s.log.Debug("dropping malformed habit-completed payload")
		return
	}
	s.mu.Lock()
	s.applyCompletionLocked(comp)
	s.mu.Unlock()
	s.notifier.Notify()
}

func (s *Store) emitCompleted(comp Completion) {
	if s.channel == nil {
		return
	}
	if err := s.channel.Emit(realtime.EventHabitCompleted, comp); err != nil {
		s.log.WithError(err).Debug("habit-completed emit skipped")
	}
}

// =============================================================================
// Internals
// =============================================================================

func validateInput(in Input) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return client.ValidationError("name", "name is required")
	}
	if len(name) > 120 {
		return client.ValidationError("name", "name must be 120 characters or fewer")
	}
	if !validFrequencyKind(in.Frequency.Kind) {
		return client.ValidationError("frequency", "frequency kind must be daily, weekly or monthly")
	}
	if in.Frequency.Kind == FrequencyWeekly && len(in.Frequency.Days) == 0 {
		return client.ValidationError("frequency", "weekly habits need at least one day")
	}
	for _, d := range in.Frequency.Days {
		if d < time.Sunday || d > time.Saturday {
			return client.ValidationError("frequency", "days must be valid weekdays")
		}
	}
	if in.TargetPerDay < 1 {
		return client.ValidationError("targetPerDay", "target per day must be at least 1")
	}
	return nil
}

func (s *Store) beginSubmit() {
	s.mu.Lock()
	s.status.Submitting = true
	s.mu.Unlock()
	s.notifier.Notify()
}

// applyCompletionLocked stores a completion; the first completion of a
// (habit, day) advances stats, replacements do not.
func (s *Store) applyCompletionLocked(comp Completion) {
	_, had := s.completed[comp.HabitID][comp.Date]
	s.setCompletionLocked(comp)
	if !had {
		s.advanceStatsLocked(comp.HabitID)
	}
}

func (s *Store) setCompletionLocked(comp Completion) {
	byDate := s.completed[comp.HabitID]
	if byDate == nil {
		byDate = make(map[string]Completion)
		s.completed[comp.HabitID] = byDate
	}
	byDate[comp.Date] = comp
}

func (s *Store) advanceStatsLocked(id string) {
	for i := range s.habits {
		if s.habits[i].ID != id {
			continue
		}
		st := &s.habits[i].Stats
		st.CurrentStreak++
		st.TotalCompletions++
		if st.CurrentStreak > st.LongestStreak {
			st.LongestStreak = st.CurrentStreak
		}
		return
	}
}

func (s *Store) rollbackStatsLocked(id string) {
	for i := range s.habits {
		if s.habits[i].ID != id {
			continue
		}
		st := &s.habits[i].Stats
		if st.CurrentStreak > 0 {
			st.CurrentStreak--
		}
		if st.TotalCompletions > 0 {
			st.TotalCompletions--
		}
		return
	}
}
