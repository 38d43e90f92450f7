package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/session"
	"github.com/MindWell-Health/wellness_client/stores/analytics"
	"github.com/MindWell-Health/wellness_client/stores/crisis"
	"github.com/MindWell-Health/wellness_client/stores/habit"
	"github.com/MindWell-Health/wellness_client/stores/meditation"
	"github.com/MindWell-Health/wellness_client/stores/mood"
	"github.com/MindWell-Health/wellness_client/wellness"
)

// streakMilestones are the streak lengths that trigger a realtime
// streak-milestone push.
var streakMilestones = map[int]bool{7: true, 30: true, 100: true}

// authResult is the data payload of every /auth endpoint.
type authResult struct {
	User         session.Principal `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

// mintTokens issues an access and refresh token pair and records the refresh
// session so it can be rotated exactly once.
func mintTokens(store *memStore, userID string) (access, refresh string, err error) {
	access, err = generateToken(userID, accessTokenTTL, false)
	if err != nil {
		return "", "", err
	}
	refresh, err = generateToken(userID, refreshTokenTTL, true)
	if err != nil {
		return "", "", err
	}
	store.putSession(hashToken(refresh), userID)
	return access, refresh, nil
}

// =============================================================================
// Health
// =============================================================================

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{
			"status":    "healthy",
			"service":   "mockwell",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// =============================================================================
// Auth
// =============================================================================

func registerHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" || req.Name == "" {
			jsonError(w, "email, password, and name are required", http.StatusBadRequest)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			jsonError(w, "failed to hash password", http.StatusInternalServerError)
			return
		}

		principal, err := store.createAccount(req.Email, req.Name, hash)
		if err != nil {
			jsonError(w, "an account with this email already exists", http.StatusConflict)
			return
		}

		access, refresh, err := mintTokens(store, principal.ID)
		if err != nil {
			jsonError(w, "failed to generate tokens", http.StatusInternalServerError)
			return
		}
		writeData(w, authResult{User: principal, AccessToken: access, RefreshToken: refresh})
	}
}

func loginHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}

		acct, ok := store.accountByEmail(req.Email)
		if !ok || bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(req.Password)) != nil {
			jsonError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}

		access, refresh, err := mintTokens(store, acct.Principal.ID)
		if err != nil {
			jsonError(w, "failed to generate tokens", http.StatusInternalServerError)
			return
		}
		writeData(w, authResult{User: acct.Principal, AccessToken: access, RefreshToken: refresh})
	}
}

func refreshHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}

		claims, err := parseToken(req.RefreshToken)
		if err != nil || !claims.Refresh {
			jsonError(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		userID, ok := store.takeSession(hashToken(req.RefreshToken))
		if !ok || userID != claims.UserID {
			jsonError(w, "refresh token already used or revoked", http.StatusUnauthorized)
			return
		}

		acct, ok := store.accountByID(userID)
		if !ok {
			jsonError(w, "user not found", http.StatusUnauthorized)
			return
		}

		access, refresh, err := mintTokens(store, userID)
		if err != nil {
			jsonError(w, "failed to generate tokens", http.StatusInternalServerError)
			return
		}
		writeData(w, authResult{User: acct.Principal, AccessToken: access, RefreshToken: refresh})
	}
}

func logoutHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.dropUserSessions(requestUser(r))
		writeData(w, map[string]string{"status": "logged out"})
	}
}

// =============================================================================
// Mood
// =============================================================================

func listMoodsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.listMoods(requestUser(r)))
	}
}

func createMoodHandler(store *memStore, hub *wsHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Score   int      `json:"score"`
			Factors []string `json:"factors"`
			Note    string   `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Score < 1 || req.Score > 10 {
			jsonError(w, "score must be between 1 and 10", http.StatusBadRequest)
			return
		}

		userID := requestUser(r)
		entry := store.addMood(userID, mood.Entry{
			Score:   req.Score,
			Factors: req.Factors,
			Note:    req.Note,
		})
		hub.push(userID, realtime.EventMoodUpdate, entry)
		writeData(w, entry)
	}
}

func deleteMoodHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !store.deleteMood(requestUser(r), mux.Vars(r)["id"]) {
			jsonError(w, "mood entry not found", http.StatusNotFound)
			return
		}
		writeData(w, map[string]bool{"deleted": true})
	}
}

func moodInsightsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := store.listMoods(requestUser(r))

		scores := make([]float64, len(entries))
		counts := make(map[string]int)
		for i, e := range entries {
			scores[i] = float64(e.Score)
			for _, f := range e.Factors {
				counts[f]++
			}
		}

		writeData(w, mood.Insights{
			AverageScore:  meanOf(scores),
			Trend:         string(wellness.MoodTrend(scores, wellness.DefaultTrendWindow)),
			CommonFactors: topFactors(counts, 3),
			EntryCount:    len(entries),
		})
	}
}

func topFactors(counts map[string]int, n int) []string {
	factors := make([]string, 0, len(counts))
	for f := range counts {
		factors = append(factors, f)
	}
	sort.Slice(factors, func(i, j int) bool {
		if counts[factors[i]] != counts[factors[j]] {
			return counts[factors[i]] > counts[factors[j]]
		}
		return factors[i] < factors[j]
	})
	if len(factors) > n {
		factors = factors[:n]
	}
	return factors
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// =============================================================================
// Meditation
// =============================================================================

func listMeditationsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.listMeditations(requestUser(r)))
	}
}

func startMeditationHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type            meditation.Type `json:"type"`
			PlannedDuration int             `json:"plannedDuration"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		switch req.Type {
		case meditation.TypeBreathing, meditation.TypeMindfulness,
			meditation.TypeLovingKindness, meditation.TypeBodyScan:
		default:
			jsonError(w, "unknown meditation type", http.StatusBadRequest)
			return
		}
		if req.PlannedDuration <= 0 {
			jsonError(w, "planned duration must be positive", http.StatusBadRequest)
			return
		}

		created := store.addMeditation(requestUser(r), meditation.Session{
			Type:            req.Type,
			Status:          meditation.StatusActive,
			PlannedDuration: req.PlannedDuration,
		})
		writeData(w, created)
	}
}

func updateMeditationHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status         meditation.SessionStatus `json:"status"`
			ActualDuration int                      `json:"actualDuration"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}

		userID := requestUser(r)
		existing, ok := store.getMeditation(userID, mux.Vars(r)["id"])
		if !ok {
			jsonError(w, "meditation session not found", http.StatusNotFound)
			return
		}

		if req.Status != "" {
			existing.Status = req.Status
		}
		existing.ActualDuration = req.ActualDuration
		updated, _ := store.updateMeditation(userID, existing)
		writeData(w, updated)
	}
}

func completeMeditationHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Duration   int                    `json:"duration"`
			Experience *meditation.Experience `json:"experience"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}

		userID := requestUser(r)
		existing, ok := store.getMeditation(userID, mux.Vars(r)["id"])
		if !ok {
			jsonError(w, "meditation session not found", http.StatusNotFound)
			return
		}

		now := time.Now().UTC()
		existing.Status = meditation.StatusCompleted
		existing.ActualDuration = req.Duration
		existing.CompletedAt = &now
		existing.Experience = req.Experience
		updated, _ := store.updateMeditation(userID, existing)
		writeData(w, updated)
	}
}

func meditationStatsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := store.listMeditations(requestUser(r))

		var stats meditation.Stats
		days := make(map[string]bool)
		typeCounts := make(map[meditation.Type]int)
		weekAgo := time.Now().UTC().AddDate(0, 0, -7)
		for _, s := range sessions {
			if s.Status != meditation.StatusCompleted || s.CompletedAt == nil {
				continue
			}
			stats.TotalSessions++
			stats.TotalMinutes += s.ActualDuration / 60
			if s.CompletedAt.After(weekAgo) {
				stats.WeeklyMinutes += s.ActualDuration / 60
			}
			days[s.CompletedAt.Format(dateLayout)] = true
			typeCounts[s.Type]++
		}

		stats.CurrentStreak = walkBackStreak(days, time.Now().UTC().Truncate(24*time.Hour))
		stats.LongestStreak = longestDayRun(days)

		best := 0
		for typ, n := range typeCounts {
			if n > best {
				best = n
				stats.FavoriteType = string(typ)
			}
		}
		writeData(w, stats)
	}
}

func guidedContentHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.guidedContent())
	}
}

// =============================================================================
// Habits
// =============================================================================

func listHabitsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.listHabits(requestUser(r)))
	}
}

func decodeHabitInput(w http.ResponseWriter, r *http.Request) (habit.Input, bool) {
	var req habit.Input
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return habit.Input{}, false
	}
	if strings.TrimSpace(req.Name) == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return habit.Input{}, false
	}
	switch req.Frequency.Kind {
	case habit.FrequencyDaily, habit.FrequencyWeekly, habit.FrequencyMonthly:
	default:
		jsonError(w, "unknown frequency kind", http.StatusBadRequest)
		return habit.Input{}, false
	}
	if req.TargetPerDay <= 0 {
		req.TargetPerDay = 1
	}
	return req, true
}

func createHabitHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeHabitInput(w, r)
		if !ok {
			return
		}
		created := store.addHabit(requestUser(r), habit.Habit{
			Name:         req.Name,
			Description:  req.Description,
			Frequency:    req.Frequency,
			TargetPerDay: req.TargetPerDay,
		})
		writeData(w, created)
	}
}

func updateHabitHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeHabitInput(w, r)
		if !ok {
			return
		}
		updated, found := store.updateHabit(requestUser(r), habit.Habit{
			ID:           mux.Vars(r)["id"],
			Name:         req.Name,
			Description:  req.Description,
			Frequency:    req.Frequency,
			TargetPerDay: req.TargetPerDay,
		})
		if !found {
			jsonError(w, "habit not found", http.StatusNotFound)
			return
		}
		writeData(w, updated)
	}
}

func deleteHabitHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !store.deleteHabit(requestUser(r), mux.Vars(r)["id"]) {
			jsonError(w, "habit not found", http.StatusNotFound)
			return
		}
		writeData(w, map[string]bool{"deleted": true})
	}
}

func completeHabitHandler(store *memStore, hub *wsHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Date  string `json:"date"`
			Value int    `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Date == "" {
			req.Date = time.Now().UTC().Format(dateLayout)
		}
		if _, err := time.Parse(dateLayout, req.Date); err != nil {
			jsonError(w, "date must be formatted YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if req.Value <= 0 {
			req.Value = 1
		}

		userID := requestUser(r)
		completion, updated, ok := store.setCompletion(userID, habit.Completion{
			HabitID: mux.Vars(r)["id"],
			Date:    req.Date,
			Value:   req.Value,
		})
		if !ok {
			jsonError(w, "habit not found", http.StatusNotFound)
			return
		}

		hub.push(userID, realtime.EventHabitCompleted, completion)
		if streakMilestones[updated.Stats.CurrentStreak] {
			hub.push(userID, realtime.EventStreakMilestone, map[string]any{
				"name": updated.Name,
				"days": updated.Stats.CurrentStreak,
			})
		}
		writeData(w, completion)
	}
}

func incompleteHabitHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Date string `json:"date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Date == "" {
			req.Date = time.Now().UTC().Format(dateLayout)
		}

		updated, ok := store.clearCompletion(requestUser(r), mux.Vars(r)["id"], req.Date)
		if !ok {
			jsonError(w, "habit not found", http.StatusNotFound)
			return
		}
		writeData(w, updated)
	}
}

func habitCompletionsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requestUser(r)
		habitID := mux.Vars(r)["id"]
		if _, ok := store.getHabit(userID, habitID); !ok {
			jsonError(w, "habit not found", http.StatusNotFound)
			return
		}
		writeData(w, store.habitCompletions(userID, habitID))
	}
}

func habitSummaryHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requestUser(r)
		habits := store.listHabits(userID)
		today := time.Now().UTC().Format(dateLayout)

		var summary habit.Summary
		summary.ActiveHabits = len(habits)
		var rateSum float64
		for _, h := range habits {
			if h.Stats.LongestStreak > summary.BestStreak {
				summary.BestStreak = h.Stats.LongestStreak
			}
			rateSum += h.Stats.CompletionRate
			for _, c := range store.habitCompletions(userID, h.ID) {
				if c.Date == today {
					summary.CompletedToday++
					break
				}
			}
		}
		if len(habits) > 0 {
			summary.OverallRate = rateSum / float64(len(habits))
		}
		writeData(w, summary)
	}
}

// =============================================================================
// Crisis
// =============================================================================

func crisisAlertHandler(store *memStore, hub *wsHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Level   crisis.Level `json:"level"`
			Message string       `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request", http.StatusBadRequest)
			return
		}
		switch req.Level {
		case crisis.LevelLow, crisis.LevelMedium, crisis.LevelHigh, crisis.LevelCritical:
		default:
			jsonError(w, "unknown alert level", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			jsonError(w, "message is required", http.StatusBadRequest)
			return
		}

		userID := requestUser(r)
		alert := store.addAlert(userID, crisis.Alert{Level: req.Level, Message: req.Message})

		// The mock stands in for an instantly responding counselor so the
		// whole client flow can be exercised offline.
		hub.push(userID, realtime.EventCrisisAlert, alert)
		hub.push(userID, realtime.EventCrisisSupportAvailable, map[string]string{
			"title":   "Crisis support available",
			"message": "A counselor has seen your alert and is available now.",
		})
		writeData(w, alert)
	}
}

func crisisAlertsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.listAlerts(requestUser(r)))
	}
}

func crisisResourcesHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.crisisResources())
	}
}

func emergencyContactsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, store.emergencyContacts())
	}
}

// =============================================================================
// Analytics
// =============================================================================

func parseTimeframe(r *http.Request) (analytics.Timeframe, bool) {
	tf := analytics.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		return analytics.TimeframeWeek, true
	}
	switch tf {
	case analytics.TimeframeWeek, analytics.TimeframeMonth,
		analytics.TimeframeQuarter, analytics.TimeframeYear:
		return tf, true
	}
	return "", false
}

func timeframeDays(tf analytics.Timeframe) int {
	switch tf {
	case analytics.TimeframeMonth:
		return 30
	case analytics.TimeframeQuarter:
		return 90
	case analytics.TimeframeYear:
		return 365
	default:
		return 7
	}
}

// windowData gathers one user's raw numbers inside the timeframe window.
type windowData struct {
	moodScores    []float64
	weeklyMinutes int
	habitRates    []float64
	habitCount    int
	sessionCount  int
	totalMinutes  int
}

func collectWindow(store *memStore, userID string, tf analytics.Timeframe) windowData {
	var data windowData
	cutoff := time.Now().UTC().AddDate(0, 0, -timeframeDays(tf))
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)

	for _, e := range store.listMoods(userID) {
		if e.CreatedAt.After(cutoff) {
			data.moodScores = append(data.moodScores, float64(e.Score))
		}
	}
	for _, s := range store.listMeditations(userID) {
		if s.Status != meditation.StatusCompleted || s.CompletedAt == nil {
			continue
		}
		if s.CompletedAt.After(cutoff) {
			data.sessionCount++
			data.totalMinutes += s.ActualDuration / 60
		}
		if s.CompletedAt.After(weekAgo) {
			data.weeklyMinutes += s.ActualDuration / 60
		}
	}
	for _, h := range store.listHabits(userID) {
		data.habitRates = append(data.habitRates, h.Stats.CompletionRate)
	}
	data.habitCount = len(data.habitRates)
	return data
}

func dashboardHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf, ok := parseTimeframe(r)
		if !ok {
			jsonError(w, "invalid timeframe", http.StatusBadRequest)
			return
		}

		data := collectWindow(store, requestUser(r), tf)
		weekly := data.weeklyMinutes
		score := wellness.Score(wellness.ScoreInput{
			MoodScores:              data.moodScores,
			WeeklyMeditationMinutes: &weekly,
			HabitRates:              data.habitRates,
		})

		writeData(w, analytics.Dashboard{
			WellnessScore:       &score,
			MoodTrend:           string(wellness.MoodTrend(data.moodScores, wellness.DefaultTrendWindow)),
			MoodAverage:         meanOf(data.moodScores),
			MeditationMinutes:   data.totalMinutes,
			HabitCompletionRate: meanOf(data.habitRates),
			Timeframe:           tf,
		})
	}
}

func wellnessReportHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf, ok := parseTimeframe(r)
		if !ok {
			jsonError(w, "invalid timeframe", http.StatusBadRequest)
			return
		}

		data := collectWindow(store, requestUser(r), tf)
		weekly := data.weeklyMinutes
		score := wellness.Score(wellness.ScoreInput{
			MoodScores:              data.moodScores,
			WeeklyMeditationMinutes: &weekly,
			HabitRates:              data.habitRates,
		})

		insights := wellness.Evaluate(wellness.Metrics{
			MoodAverage:             meanOf(data.moodScores),
			MoodCount:               len(data.moodScores),
			WeeklyMeditationMinutes: data.weeklyMinutes,
			HabitCompletionRate:     meanOf(data.habitRates),
			HabitCount:              data.habitCount,
		})
		highlights := make([]string, 0, len(insights))
		for _, in := range insights {
			highlights = append(highlights, in.Message)
		}

		writeData(w, analytics.Report{
			Timeframe:  tf,
			Summary:    reportSummary(tf, data),
			Highlights: highlights,
			Recommendations: []string{
				"Log your mood once a day to sharpen trend detection.",
				"Short daily meditation beats occasional long sessions.",
			},
			WellnessScore: &score,
		})
	}
}

func reportSummary(tf analytics.Timeframe, data windowData) string {
	switch {
	case len(data.moodScores) == 0 && data.sessionCount == 0:
		return "Not enough activity this " + string(tf) + " to summarize yet."
	case data.sessionCount == 0:
		return "Mood logging is on track; no meditation recorded this " + string(tf) + "."
	default:
		return "Steady progress across mood and meditation this " + string(tf) + "."
	}
}

func moodAnalyticsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf, ok := parseTimeframe(r)
		if !ok {
			jsonError(w, "invalid timeframe", http.StatusBadRequest)
			return
		}
		data := collectWindow(store, requestUser(r), tf)
		writeData(w, map[string]any{
			"timeframe":    tf,
			"averageScore": meanOf(data.moodScores),
			"entryCount":   len(data.moodScores),
			"trend":        string(wellness.MoodTrend(data.moodScores, wellness.DefaultTrendWindow)),
		})
	}
}

func meditationAnalyticsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf, ok := parseTimeframe(r)
		if !ok {
			jsonError(w, "invalid timeframe", http.StatusBadRequest)
			return
		}
		data := collectWindow(store, requestUser(r), tf)
		writeData(w, map[string]any{
			"timeframe":     tf,
			"sessions":      data.sessionCount,
			"totalMinutes":  data.totalMinutes,
			"weeklyMinutes": data.weeklyMinutes,
		})
	}
}

func habitAnalyticsHandler(store *memStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf, ok := parseTimeframe(r)
		if !ok {
			jsonError(w, "invalid timeframe", http.StatusBadRequest)
			return
		}

		userID := requestUser(r)
		habits := store.listHabits(userID)
		perHabit := make([]map[string]any, 0, len(habits))
		var rates []float64
		for _, h := range habits {
			perHabit = append(perHabit, map[string]any{
				"id":   h.ID,
				"name": h.Name,
				"rate": h.Stats.CompletionRate,
			})
			rates = append(rates, h.Stats.CompletionRate)
		}
		writeData(w, map[string]any{
			"timeframe":   tf,
			"activeCount": len(habits),
			"overallRate": meanOf(rates),
			"habits":      perHabit,
		})
	}
}
