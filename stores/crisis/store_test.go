package crisis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MindWell-Health/wellness_client/client"
)

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func newTestStore(t *testing.T, deps Deps, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cl, err := client.New(client.Config{BaseURL: server.URL, CacheTTL: -1})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	deps.Client = cl
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAlertValidation(t *testing.T) {
	var hits atomic.Int32
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeData(w, nil)
	})

	ctx := context.Background()
	if _, err := s.Alert(ctx, Level("panic"), "need help"); err == nil {
		t.Error("Alert with unknown level succeeded")
	}
	if _, err := s.Alert(ctx, LevelHigh, "   "); err == nil {
		t.Error("Alert with blank message succeeded")
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("server hits = %d, want 0 for local validation", got)
	}
}

func TestAlertDispatchPrepends(t *testing.T) {
	var gotBody alertRequest
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/crisis/alert" {
			json.NewDecoder(r.Body).Decode(&gotBody)
			writeData(w, Alert{ID: "a1", UserID: "u1", Level: gotBody.Level, Message: gotBody.Message, CreatedAt: time.Now()})
			return
		}
		http.NotFound(w, r)
	})

	created, err := s.Alert(context.Background(), LevelCritical, "  I need to talk to someone  ")
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if gotBody.Level != LevelCritical {
		t.Errorf("sent level = %q, want critical", gotBody.Level)
	}
	if gotBody.Message != "I need to talk to someone" {
		t.Errorf("sent message = %q, want it trimmed", gotBody.Message)
	}
	if created.ID != "a1" {
		t.Errorf("alert id = %q, want the server record", created.ID)
	}

	history := s.History()
	if len(history) != 1 || history[0].ID != "a1" {
		t.Errorf("history = %+v, want the dispatched alert", history)
	}
}

func TestAlertFailureSurfacesError(t *testing.T) {
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"alert service down"}`, http.StatusInternalServerError)
	})

	_, err := s.Alert(context.Background(), LevelHigh, "please call")
	if err == nil {
		t.Fatal("Alert against failing server succeeded")
	}
	if len(s.History()) != 0 {
		t.Error("failed alert was recorded in history")
	}
	if s.Status().LastError == nil {
		t.Error("LastError not set after failed dispatch")
	}
}

func TestAlertsFetchesFreshEachCall(t *testing.T) {
	var fetches atomic.Int32
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crisis/alerts" {
			n := fetches.Add(1)
			writeData(w, []Alert{{ID: "a1", Level: LevelLow, Message: "check-in", Handled: n > 1}})
			return
		}
		http.NotFound(w, r)
	})

	ctx := context.Background()
	if _, err := s.Alerts(ctx); err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	second, err := s.Alerts(ctx)
	if err != nil {
		t.Fatalf("second Alerts: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want a fresh fetch per call", got)
	}
	if !second[0].Handled {
		t.Error("second fetch did not replace the history")
	}
}

func TestResourcesFetchOnce(t *testing.T) {
	var fetches atomic.Int32
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crisis/resources" {
			fetches.Add(1)
			writeData(w, []Resource{{ID: "r1", Name: "24/7 Helpline", Phone: "988", Available247: true}})
			return
		}
		http.NotFound(w, r)
	})

	ctx := context.Background()
	first, err := s.Resources(ctx)
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	second, err := s.Resources(ctx)
	if err != nil {
		t.Fatalf("second Resources: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if len(first) != 1 || len(second) != 1 || second[0].Name != "24/7 Helpline" {
		t.Errorf("resources = %+v / %+v, want the directory from memory", first, second)
	}

	// Reset forces a refetch.
	s.Reset()
	if _, err := s.Resources(ctx); err != nil {
		t.Fatalf("Resources after Reset: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches after Reset = %d, want 2", got)
	}
}

func TestEmergencyContactsFetchOnce(t *testing.T) {
	var fetches atomic.Int32
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crisis/emergency-contacts" {
			fetches.Add(1)
			writeData(w, []EmergencyContact{{ID: "e1", Name: "Sam", Relationship: "sibling", Phone: "+1 555 0100"}})
			return
		}
		http.NotFound(w, r)
	})

	ctx := context.Background()
	contacts, err := s.EmergencyContacts(ctx)
	if err != nil {
		t.Fatalf("EmergencyContacts: %v", err)
	}
	if _, err := s.EmergencyContacts(ctx); err != nil {
		t.Fatalf("second EmergencyContacts: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if len(contacts) != 1 || contacts[0].Name != "Sam" {
		t.Errorf("contacts = %+v, want the fetched list", contacts)
	}
}

func TestSupportAvailableNotifies(t *testing.T) {
	type note struct{ title, message string }
	var notes []note
	s := newTestStore(t, Deps{
		Notify: func(title, message string) { notes = append(notes, note{title, message}) },
	}, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	s.handleSupportAvailable(json.RawMessage(`{"title":"Counselor online","message":"Dana is available now."}`))
	s.handleSupportAvailable(json.RawMessage(`{}`))
	s.handleSupportAvailable(json.RawMessage(`{broken`))

	if len(notes) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notes))
	}
	if notes[0].title != "Counselor online" || notes[0].message != "Dana is available now." {
		t.Errorf("first note = %+v, want the payload values", notes[0])
	}
	if notes[1].title != "Crisis support available" {
		t.Errorf("second note title = %q, want the default", notes[1].title)
	}
	if notes[1].message == "" {
		t.Error("second note has no default message")
	}
}

func TestSupportAvailableWithoutNotifyIsNoOp(t *testing.T) {
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	// No Notify wired; must not panic.
	s.handleSupportAvailable(json.RawMessage(`{"message":"hi"}`))
}

func TestAlertPushFoldsIntoHistory(t *testing.T) {
	s := newTestStore(t, Deps{}, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	push := Alert{ID: "a7", Level: LevelMedium, Message: "from the other device"}
	payload, _ := json.Marshal(push)
	s.handleAlertPush(payload)
	s.handleAlertPush(payload)
	s.handleAlertPush(json.RawMessage(`{"id":""}`))

	history := s.History()
	if len(history) != 1 || history[0].ID != "a7" {
		t.Errorf("history = %+v, want the folded alert once", history)
	}
}
