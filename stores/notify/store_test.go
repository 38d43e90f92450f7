package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within 2s")
}

type fakeAlerter struct {
	mu   sync.Mutex
	seen []Notification
	err  error
}

func (f *fakeAlerter) Alert(n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, n)
	return f.err
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func basicInput(title string) Input {
	return Input{Kind: KindInfo, Title: title, Message: "hello", Priority: PriorityNormal}
}

func TestAddPrependsAndCounts(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	id1, added := s.Add(basicInput("first"))
	if !added || id1 == "" {
		t.Fatalf("Add = (%q, %v), want a fresh id", id1, added)
	}
	id2, added := s.Add(basicInput("second"))
	if !added || id2 == id1 {
		t.Fatalf("second Add = (%q, %v), want a distinct id", id2, added)
	}

	items := s.Notifications()
	if len(items) != 2 || items[0].Title != "second" {
		t.Errorf("items = %+v, want newest first", items)
	}
	if items[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
	if got := s.Unread(); got != 2 {
		t.Errorf("Unread = %d, want 2", got)
	}
}

func TestAddDedupsUnreadOnly(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	in := basicInput("dup")
	id1, _ := s.Add(in)
	id2, added := s.Add(in)
	if added {
		t.Error("duplicate unread notification was added")
	}
	if id2 != id1 {
		t.Errorf("dedup returned id %q, want the existing %q", id2, id1)
	}
	if got := len(s.Notifications()); got != 1 {
		t.Errorf("items = %d, want 1", got)
	}

	// Once read, the same content may arrive again.
	s.MarkRead(id1)
	id3, added := s.Add(in)
	if !added || id3 == id1 {
		t.Errorf("Add after read = (%q, %v), want a fresh item", id3, added)
	}
}

func TestUnreadCounterStaysExact(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	id1, _ := s.Add(basicInput("a"))
	id2, _ := s.Add(basicInput("b"))
	s.Add(basicInput("c"))

	s.MarkRead(id1)
	s.MarkRead(id1) // second mark is a no-op
	if got := s.Unread(); got != 2 {
		t.Fatalf("Unread after MarkRead = %d, want 2", got)
	}

	s.Remove(id2) // removing an unread item decrements
	if got := s.Unread(); got != 1 {
		t.Fatalf("Unread after Remove = %d, want 1", got)
	}

	s.MarkAllRead()
	if got := s.Unread(); got != 0 {
		t.Fatalf("Unread after MarkAllRead = %d, want 0", got)
	}

	s.ClearAll()
	if got := len(s.Notifications()); got != 0 {
		t.Errorf("items after ClearAll = %d, want 0", got)
	}
}

func TestDisabledStoreDropsAdds(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	s.Add(basicInput("kept"))
	s.SetEnabled(false)

	id, added := s.Add(basicInput("dropped"))
	if added || id != "" {
		t.Errorf("Add while disabled = (%q, %v), want (\"\", false)", id, added)
	}
	if got := len(s.Notifications()); got != 1 {
		t.Errorf("disabling dropped existing items: %d, want 1", got)
	}

	s.SetEnabled(true)
	if _, added := s.Add(basicInput("after")); !added {
		t.Error("Add after re-enable failed")
	}
}

func TestAutoHideRemoves(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	in := basicInput("fleeting")
	in.AutoHide = 15 * time.Millisecond
	s.Add(in)

	waitUntil(t, func() bool { return len(s.Notifications()) == 0 })
	if got := s.Unread(); got != 0 {
		t.Errorf("Unread after auto-hide = %d, want 0", got)
	}
}

func TestRemoveStopsAutoHideTimer(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	in := basicInput("stopped")
	in.AutoHide = 30 * time.Millisecond
	id, _ := s.Add(in)
	s.Remove(id)

	s.mu.Lock()
	pending := len(s.timers)
	s.mu.Unlock()
	if pending != 0 {
		t.Errorf("timers pending = %d, want 0 after Remove", pending)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(s.Notifications()); got != 0 {
		t.Errorf("items = %d, want 0", got)
	}
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	s := New(Deps{})
	in := basicInput("pending")
	in.AutoHide = time.Hour
	s.Add(in)

	s.Close()
	s.Close()

	if s.Enabled() {
		t.Error("store still enabled after Close")
	}
	if id, added := s.Add(basicInput("late")); added || id != "" {
		t.Errorf("Add after Close = (%q, %v), want (\"\", false)", id, added)
	}
	s.mu.Lock()
	pending := len(s.timers)
	s.mu.Unlock()
	if pending != 0 {
		t.Errorf("timers pending = %d, want 0 after Close", pending)
	}
}

func TestAlerterGetsHighAndUrgentOnly(t *testing.T) {
	alerter := &fakeAlerter{}
	s := New(Deps{Alerter: alerter})
	t.Cleanup(s.Close)

	for i, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent} {
		in := basicInput("p" + string(rune('0'+i)))
		in.Priority = p
		s.Add(in)
	}

	if got := alerter.count(); got != 2 {
		t.Errorf("alerts = %d, want 2 (high + urgent)", got)
	}
	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	if alerter.seen[0].Priority != PriorityHigh || alerter.seen[1].Priority != PriorityUrgent {
		t.Errorf("alert priorities = %v, want [high urgent]", []Priority{alerter.seen[0].Priority, alerter.seen[1].Priority})
	}
}

func TestAlerterErrorIsSwallowed(t *testing.T) {
	alerter := &fakeAlerter{err: errors.New("no tray available")}
	s := New(Deps{Alerter: alerter})
	t.Cleanup(s.Close)

	in := basicInput("urgent thing")
	in.Priority = PriorityUrgent
	if _, added := s.Add(in); !added {
		t.Error("Add failed because the alerter errored")
	}
}

func TestUnknownPriorityNormalizes(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	in := basicInput("odd")
	in.Priority = Priority("shouty")
	s.Add(in)
	if got := s.Notifications()[0].Priority; got != PriorityNormal {
		t.Errorf("priority = %q, want normalized to normal", got)
	}
}

func TestWireMappings(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	s.handleNotification(json.RawMessage(`{"kind":"info","title":"Server says","message":"hi","priority":"low","autoHideSeconds":2}`))
	s.handleInsight(json.RawMessage(`{"message":"Your mood improves after meditation."}`))
	s.handleReminder(json.RawMessage(`{"habitId":"h1","name":"Evening walk"}`))
	s.handleMilestone(json.RawMessage(`{"name":"Meditation","days":7}`))

	items := s.Notifications()
	if len(items) != 4 {
		t.Fatalf("items = %d, want 4", len(items))
	}
	// Newest first: milestone, reminder, insight, notification.
	if items[0].Kind != KindMilestone || items[0].Message != "7 day streak on Meditation" {
		t.Errorf("milestone = %+v", items[0])
	}
	if items[0].Priority != PriorityHigh {
		t.Errorf("milestone priority = %q, want high", items[0].Priority)
	}
	if items[1].Kind != KindReminder || items[1].Message != "Don't forget: Evening walk" {
		t.Errorf("reminder = %+v", items[1])
	}
	if items[2].Kind != KindInsight || items[2].Title != "Wellness insight" {
		t.Errorf("insight = %+v", items[2])
	}
	if items[3].AutoHide != 2*time.Second {
		t.Errorf("notification AutoHide = %v, want 2s", items[3].AutoHide)
	}
}

func TestWireMappingsDropJunk(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	s.handleNotification(json.RawMessage(`{broken`))
	s.handleNotification(json.RawMessage(`{"title":"","message":""}`))
	s.handleInsight(json.RawMessage(`{"message":""}`))
	s.handleReminder(json.RawMessage(`{"habitId":"h1"}`))
	s.handleMilestone(json.RawMessage(`{"days":0}`))

	if got := len(s.Notifications()); got != 0 {
		t.Errorf("items = %d, want junk payloads dropped", got)
	}
}

func TestWatchNotifies(t *testing.T) {
	s := New(Deps{})
	t.Cleanup(s.Close)

	var calls int
	off := s.Watch(func() { calls++ })
	defer off()

	s.Add(basicInput("a"))
	if calls == 0 {
		t.Error("watcher not notified on Add")
	}
}
