package habit

import (
	"testing"
	"time"
)

func reminderStore() *Store {
	return &Store{
		completed: make(map[string]map[string]Completion),
		now:       func() time.Time { return tuesday },
		habits: []Habit{
			{ID: "water", Name: "Drink water", Frequency: Frequency{Kind: FrequencyDaily}},
			{ID: "gym", Name: "Gym", Frequency: Frequency{Kind: FrequencyWeekly, Days: []time.Weekday{time.Tuesday}}},
			{ID: "run", Name: "Run", Frequency: Frequency{Kind: FrequencyWeekly, Days: []time.Weekday{time.Friday}}},
		},
	}
}

func TestNewRemindersValidates(t *testing.T) {
	s := reminderStore()
	announce := func(Habit) {}

	if _, err := NewReminders(ReminderConfig{Announce: announce}); err == nil {
		t.Error("NewReminders without Store succeeded")
	}
	if _, err := NewReminders(ReminderConfig{Store: s}); err == nil {
		t.Error("NewReminders without Announce succeeded")
	}
	if _, err := NewReminders(ReminderConfig{Store: s, Announce: announce, Schedule: "not a cron line"}); err == nil {
		t.Error("NewReminders with a bad schedule succeeded")
	}
	if _, err := NewReminders(ReminderConfig{Store: s, Announce: announce}); err != nil {
		t.Errorf("NewReminders with the default schedule: %v", err)
	}
}

func TestRemindersFireSkipsCompletedAndOffSchedule(t *testing.T) {
	s := reminderStore()
	// Gym is already done today.
	s.setCompletionLocked(Completion{ID: "c1", HabitID: "gym", Date: tuesday.Format(dateLayout), Value: 1})

	var announced []string
	r, err := NewReminders(ReminderConfig{
		Store:    s,
		Announce: func(h Habit) { announced = append(announced, h.ID) },
	})
	if err != nil {
		t.Fatalf("NewReminders: %v", err)
	}

	r.fire()

	// water is due and open; gym is done; run is Friday-only.
	if len(announced) != 1 || announced[0] != "water" {
		t.Errorf("announced = %v, want [water]", announced)
	}
}

func TestRemindersFireAgainWhenStillOpen(t *testing.T) {
	s := reminderStore()
	var count int
	r, err := NewReminders(ReminderConfig{
		Store:    s,
		Announce: func(Habit) { count++ },
	})
	if err != nil {
		t.Fatalf("NewReminders: %v", err)
	}

	r.fire()
	r.fire()
	// water + gym due on Tuesday, announced on both firings.
	if count != 4 {
		t.Errorf("announcements = %d, want 4", count)
	}
}

func TestRemindersStartStopIdempotent(t *testing.T) {
	s := reminderStore()
	r, err := NewReminders(ReminderConfig{Store: s, Announce: func(Habit) {}, Schedule: "0 9 * * *"})
	if err != nil {
		t.Fatalf("NewReminders: %v", err)
	}

	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
	// Start after Stop stays stopped.
	r.Start()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		t.Error("scheduler restarted after Stop")
	}
}
