package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MindWell-Health/wellness_client/session"
	"github.com/MindWell-Health/wellness_client/stores/crisis"
	"github.com/MindWell-Health/wellness_client/stores/habit"
	"github.com/MindWell-Health/wellness_client/stores/meditation"
	"github.com/MindWell-Health/wellness_client/stores/mood"
)

const dateLayout = "2006-01-02"

// account is a registered user plus the credential hash the mock checks.
type account struct {
	Principal    session.Principal
	PasswordHash []byte
}

// memStore is the mock server's thread-safe in-memory persistence layer. It
// serves the same wire types the SDK decodes, so the two sides cannot drift.
type memStore struct {
	mu sync.RWMutex

	accounts map[string]account // user ID -> account
	byEmail  map[string]string  // lower-cased email -> user ID
	sessions map[string]string  // refresh token hash -> user ID

	moods       map[string][]mood.Entry                  // user ID -> entries, newest first
	meditations map[string][]meditation.Session          // user ID -> sessions, newest first
	habits      map[string][]habit.Habit                 // user ID -> habits, oldest first
	completions map[string]map[string][]habit.Completion // user ID -> habit ID -> completions
	alerts      map[string][]crisis.Alert                // user ID -> alerts, newest first

	resources []crisis.Resource
	contacts  []crisis.EmergencyContact
	guided    []meditation.GuidedContent
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    make(map[string]account),
		byEmail:     make(map[string]string),
		sessions:    make(map[string]string),
		moods:       make(map[string][]mood.Entry),
		meditations: make(map[string][]meditation.Session),
		habits:      make(map[string][]habit.Habit),
		completions: make(map[string]map[string][]habit.Completion),
		alerts:      make(map[string][]crisis.Alert),
		resources:   seedResources(),
		contacts:    seedContacts(),
		guided:      seedGuidedContent(),
	}
}

// =============================================================================
// Accounts & sessions
// =============================================================================

func (m *memStore) createAccount(email, name string, hash []byte) (session.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(email)
	if _, taken := m.byEmail[key]; taken {
		return session.Principal{}, fmt.Errorf("email %s already registered", email)
	}

	p := session.Principal{
		ID:       uuid.NewString(),
		Email:    email,
		Name:     name,
		JoinedAt: time.Now().UTC(),
	}
	m.accounts[p.ID] = account{Principal: p, PasswordHash: hash}
	m.byEmail[key] = p.ID
	return p, nil
}

func (m *memStore) accountByEmail(email string) (account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return account{}, false
	}
	acct, ok := m.accounts[id]
	return acct, ok
}

func (m *memStore) accountByID(id string) (account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	return acct, ok
}

func (m *memStore) putSession(tokenHash, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = userID
}

// takeSession consumes a refresh session, returning its owner. Consumption
// makes each refresh token single-use so rotation cannot be replayed.
func (m *memStore) takeSession(tokenHash string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.sessions[tokenHash]
	if ok {
		delete(m.sessions, tokenHash)
	}
	return userID, ok
}

func (m *memStore) dropUserSessions(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for hash, owner := range m.sessions {
		if owner == userID {
			delete(m.sessions, hash)
		}
	}
}

// =============================================================================
// Mood entries
// =============================================================================

func (m *memStore) listMoods(userID string) []mood.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMoods(m.moods[userID])
}

func (m *memStore) addMood(userID string, e mood.Entry) mood.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = uuid.NewString()
	e.UserID = userID
	e.CreatedAt = time.Now().UTC()
	m.moods[userID] = append([]mood.Entry{e}, m.moods[userID]...)
	return cloneMood(e)
}

func (m *memStore) deleteMood(userID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.moods[userID]
	for i, e := range entries {
		if e.ID == id {
			m.moods[userID] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// =============================================================================
// Meditation sessions
// =============================================================================

func (m *memStore) listMeditations(userID string) []meditation.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMeditations(m.meditations[userID])
}

func (m *memStore) addMeditation(userID string, s meditation.Session) meditation.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = uuid.NewString()
	s.UserID = userID
	s.StartedAt = time.Now().UTC()
	m.meditations[userID] = append([]meditation.Session{s}, m.meditations[userID]...)
	return cloneMeditation(s)
}

func (m *memStore) getMeditation(userID, id string) (meditation.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.meditations[userID] {
		if s.ID == id {
			return cloneMeditation(s), true
		}
	}
	return meditation.Session{}, false
}

func (m *memStore) updateMeditation(userID string, s meditation.Session) (meditation.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.meditations[userID]
	for i, existing := range sessions {
		if existing.ID == s.ID {
			s.UserID = existing.UserID
			s.StartedAt = existing.StartedAt
			sessions[i] = s
			return cloneMeditation(s), true
		}
	}
	return meditation.Session{}, false
}

func (m *memStore) guidedContent() []meditation.GuidedContent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]meditation.GuidedContent(nil), m.guided...)
}

// =============================================================================
// Habits
// =============================================================================

func (m *memStore) listHabits(userID string) []habit.Habit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneHabits(m.habits[userID])
}

func (m *memStore) addHabit(userID string, h habit.Habit) habit.Habit {
	m.mu.Lock()
	defer m.mu.Unlock()

	h.ID = uuid.NewString()
	h.CreatedAt = time.Now().UTC()
	m.habits[userID] = append(m.habits[userID], h)
	return cloneHabit(h)
}

func (m *memStore) getHabit(userID, id string) (habit.Habit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.habits[userID] {
		if h.ID == id {
			return cloneHabit(h), true
		}
	}
	return habit.Habit{}, false
}

func (m *memStore) updateHabit(userID string, h habit.Habit) (habit.Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	habits := m.habits[userID]
	for i, existing := range habits {
		if existing.ID == h.ID {
			h.CreatedAt = existing.CreatedAt
			h.Stats = existing.Stats
			habits[i] = h
			return cloneHabit(h), true
		}
	}
	return habit.Habit{}, false
}

func (m *memStore) deleteHabit(userID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	habits := m.habits[userID]
	for i, h := range habits {
		if h.ID == id {
			m.habits[userID] = append(habits[:i:i], habits[i+1:]...)
			if byHabit := m.completions[userID]; byHabit != nil {
				delete(byHabit, id)
			}
			return true
		}
	}
	return false
}

func (m *memStore) habitCompletions(userID, habitID string) []habit.Completion {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byHabit := m.completions[userID]
	if byHabit == nil {
		return nil
	}
	return append([]habit.Completion(nil), byHabit[habitID]...)
}

// setCompletion records one completion, replacing any earlier completion of
// the same day, then recomputes the habit's stats. It returns the stored
// completion and the refreshed habit.
func (m *memStore) setCompletion(userID string, c habit.Completion) (habit.Completion, habit.Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.habitIndexLocked(userID, c.HabitID)
	if idx < 0 {
		return habit.Completion{}, habit.Habit{}, false
	}

	c.ID = uuid.NewString()
	c.CompletedAt = time.Now().UTC()

	byHabit := m.completions[userID]
	if byHabit == nil {
		byHabit = make(map[string][]habit.Completion)
		m.completions[userID] = byHabit
	}
	list := byHabit[c.HabitID]
	replaced := false
	for i, existing := range list {
		if existing.Date == c.Date {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, c)
	}
	byHabit[c.HabitID] = list

	h := &m.habits[userID][idx]
	h.Stats = computeHabitStats(list)
	return c, cloneHabit(*h), true
}

// clearCompletion removes the completion for one day and recomputes stats.
func (m *memStore) clearCompletion(userID, habitID, date string) (habit.Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.habitIndexLocked(userID, habitID)
	if idx < 0 {
		return habit.Habit{}, false
	}

	byHabit := m.completions[userID]
	list := byHabit[habitID]
	for i, existing := range list {
		if existing.Date == date {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	byHabit[habitID] = list

	h := &m.habits[userID][idx]
	h.Stats = computeHabitStats(list)
	return cloneHabit(*h), true
}

func (m *memStore) habitIndexLocked(userID, habitID string) int {
	for i, h := range m.habits[userID] {
		if h.ID == habitID {
			return i
		}
	}
	return -1
}

// =============================================================================
// Crisis
// =============================================================================

func (m *memStore) addAlert(userID string, a crisis.Alert) crisis.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = uuid.NewString()
	a.UserID = userID
	a.CreatedAt = time.Now().UTC()
	m.alerts[userID] = append([]crisis.Alert{a}, m.alerts[userID]...)
	return a
}

func (m *memStore) listAlerts(userID string) []crisis.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crisis.Alert(nil), m.alerts[userID]...)
}

func (m *memStore) crisisResources() []crisis.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crisis.Resource(nil), m.resources...)
}

func (m *memStore) emergencyContacts() []crisis.EmergencyContact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crisis.EmergencyContact(nil), m.contacts...)
}

// =============================================================================
// Derived stats
// =============================================================================

// computeHabitStats derives streaks and totals from the raw completion list.
func computeHabitStats(completions []habit.Completion) habit.Stats {
	stats := habit.Stats{TotalCompletions: len(completions)}
	if len(completions) == 0 {
		return stats
	}

	days := make(map[string]bool, len(completions))
	for _, c := range completions {
		days[c.Date] = true
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	stats.CurrentStreak = walkBackStreak(days, today)
	stats.LongestStreak = longestDayRun(days)

	recent := 0
	cutoff := today.AddDate(0, 0, -30)
	for d := range days {
		if day, err := time.Parse(dateLayout, d); err == nil && !day.Before(cutoff) {
			recent++
		}
	}
	stats.CompletionRate = float64(recent) / 30
	if stats.CompletionRate > 1 {
		stats.CompletionRate = 1
	}
	return stats
}

// walkBackStreak counts consecutive marked days ending at today, granting
// today a grace day when it is not yet marked.
func walkBackStreak(days map[string]bool, today time.Time) int {
	cursor := today
	if !days[cursor.Format(dateLayout)] {
		cursor = cursor.AddDate(0, 0, -1)
	}
	streak := 0
	for days[cursor.Format(dateLayout)] {
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak
}

// longestDayRun finds the longest run of consecutive marked days.
func longestDayRun(days map[string]bool) int {
	sorted := make([]string, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	longest, run := 0, 0
	var prev time.Time
	for _, d := range sorted {
		day, err := time.Parse(dateLayout, d)
		if err != nil {
			continue
		}
		if run > 0 && day.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = day
	}
	return longest
}

// =============================================================================
// Clone helpers
// =============================================================================

func cloneMood(e mood.Entry) mood.Entry {
	e.Factors = append([]string(nil), e.Factors...)
	return e
}

func cloneMoods(entries []mood.Entry) []mood.Entry {
	out := make([]mood.Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneMood(e)
	}
	return out
}

func cloneMeditation(s meditation.Session) meditation.Session {
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		s.CompletedAt = &at
	}
	if s.Experience != nil {
		exp := *s.Experience
		s.Experience = &exp
	}
	return s
}

func cloneMeditations(sessions []meditation.Session) []meditation.Session {
	out := make([]meditation.Session, len(sessions))
	for i, s := range sessions {
		out[i] = cloneMeditation(s)
	}
	return out
}

func cloneHabit(h habit.Habit) habit.Habit {
	h.Frequency.Days = append([]time.Weekday(nil), h.Frequency.Days...)
	return h
}

func cloneHabits(habits []habit.Habit) []habit.Habit {
	out := make([]habit.Habit, len(habits))
	for i, h := range habits {
		out[i] = cloneHabit(h)
	}
	return out
}

// =============================================================================
// Seed data
// =============================================================================

func seedResources() []crisis.Resource {
	return []crisis.Resource{
		{
			ID:           "res-lifeline",
			Name:         "988 Suicide & Crisis Lifeline",
			Description:  "Free, confidential support for people in distress.",
			Phone:        "988",
			Category:     "hotline",
			Available247: true,
		},
		{
			ID:           "res-textline",
			Name:         "Crisis Text Line",
			Description:  "Text HOME to 741741 to reach a volunteer crisis counselor.",
			Phone:        "741741",
			Category:     "text",
			Available247: true,
		},
		{
			ID:           "res-samhsa",
			Name:         "SAMHSA National Helpline",
			Description:  "Treatment referral and information service for mental health and substance use.",
			Phone:        "1-800-662-4357",
			Category:     "hotline",
			Available247: true,
		},
		{
			ID:           "res-iasp",
			Name:         "Find a Crisis Center",
			Description:  "Directory of crisis centers outside the United States.",
			URL:          "https://www.iasp.info/resources/Crisis_Centres/",
			Category:     "directory",
			Available247: false,
		},
	}
}

func seedContacts() []crisis.EmergencyContact {
	return []crisis.EmergencyContact{
		{ID: "contact-1", Name: "Jamie Rivera", Relationship: "partner", Phone: "+1-555-0134"},
		{ID: "contact-2", Name: "Dr. Okafor", Relationship: "therapist", Phone: "+1-555-0188"},
	}
}

func seedGuidedContent() []meditation.GuidedContent {
	return []meditation.GuidedContent{
		{
			ID:          "guided-box-breathing",
			Title:       "Box Breathing",
			Type:        meditation.TypeBreathing,
			Duration:    5,
			MediaURL:    "/media/guided/box-breathing.mp3",
			Description: "Four counts in, four held, four out. A reset for the nervous system.",
		},
		{
			ID:          "guided-body-scan",
			Title:       "Evening Body Scan",
			Type:        meditation.TypeBodyScan,
			Duration:    15,
			MediaURL:    "/media/guided/body-scan.mp3",
			Description: "A slow scan from head to toe to release the day's tension.",
		},
		{
			ID:          "guided-loving-kindness",
			Title:       "Loving-Kindness Practice",
			Type:        meditation.TypeLovingKindness,
			Duration:    10,
			MediaURL:    "/media/guided/loving-kindness.mp3",
			Description: "Directed goodwill, starting with yourself and widening out.",
		},
		{
			ID:          "guided-open-awareness",
			Title:       "Open Awareness",
			Type:        meditation.TypeMindfulness,
			Duration:    20,
			MediaURL:    "/media/guided/open-awareness.mp3",
			Description: "Resting attention on whatever arises, without chasing it.",
		},
	}
}
