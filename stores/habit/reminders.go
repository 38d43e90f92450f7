package habit

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MindWell-Health/wellness_client/internal/logging"
)

// defaultReminderSchedule fires daily at 09:00 local time.
const defaultReminderSchedule = "0 9 * * *"

// AnnounceFunc receives one habit that is due and not yet completed.
type AnnounceFunc func(Habit)

// ReminderConfig configures the reminder scheduler.
type ReminderConfig struct {
	// Store supplies the due/completed views. Required.
	Store *Store
	// Announce is called once per firing for every due, uncompleted habit.
	// Required.
	Announce AnnounceFunc
	// Schedule is a standard five-field cron expression. Defaults to daily
	// at 09:00.
	Schedule string
	// Location is the timezone the schedule runs in. Defaults to time.Local.
	Location *time.Location
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Reminders announces due habits on a cron schedule. Habits already
// completed today are skipped.
type Reminders struct {
	store    *Store
	announce AnnounceFunc
	log      *logging.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewReminders validates the schedule and builds the scheduler. Start arms it.
func NewReminders(cfg ReminderConfig) (*Reminders, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("habit: reminder Store is required")
	}
	if cfg.Announce == nil {
		return nil, fmt.Errorf("habit: reminder Announce is required")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultReminderSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("habit: invalid reminder schedule %q: %w", schedule, err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("habit.reminders")
	}

	r := &Reminders{
		store:    cfg.Store,
		announce: cfg.Announce,
		log:      log,
		cron:     cron.New(cron.WithLocation(loc)),
	}
	if _, err := r.cron.AddFunc(schedule, r.fire); err != nil {
		return nil, fmt.Errorf("habit: schedule reminder: %w", err)
	}
	return r, nil
}

// Start begins firing on the schedule. Calling it twice is a no-op, as is
// starting after Stop.
func (r *Reminders) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.cron.Start()
}

// Stop halts the schedule. Safe to call twice and before Start.
func (r *Reminders) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.cron.Stop()
}

// fire announces every habit due today without a completion yet.
func (r *Reminders) fire() {
	announced := 0
	for _, h := range r.store.DueToday() {
		if r.store.CompletedToday(h.ID) {
			continue
		}
		r.announce(h)
		announced++
	}
	r.log.WithField("announced", announced).Debug("habit reminders fired")
}
