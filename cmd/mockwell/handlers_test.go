package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/analytics"
	"github.com/MindWell-Health/wellness_client/stores/crisis"
	"github.com/MindWell-Health/wellness_client/stores/habit"
	"github.com/MindWell-Health/wellness_client/stores/meditation"
	"github.com/MindWell-Health/wellness_client/stores/mood"
)

func TestMain(m *testing.M) {
	jwtSecret = []byte("handlers-test-secret")
	os.Exit(m.Run())
}

func newTestEnv() (*memStore, *wsHub, http.Handler) {
	store := newMemStore()
	hub := newWSHub(logging.NewDefault("test"))
	limiter := newRateLimiter(1000, 1000, logging.NewDefault("test"))
	return store, hub, newRouter(store, hub, limiter)
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		buf = bytes.NewReader(raw)
	} else {
		buf = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rr.Body.String())
	}
	if !env.Success {
		t.Fatalf("response failed: %q (status %d)", env.Message, rr.Code)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body %q)", err, rr.Body.String())
	}
	if env.Success {
		t.Fatalf("expected an error envelope, got success")
	}
	return env.Message
}

func registerUser(t *testing.T, router http.Handler, email string) authResult {
	t.Helper()
	rr := doRequest(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "correct horse battery",
		"name":     "Test User",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d (body %q)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var auth authResult
	decodeData(t, rr, &auth)
	return auth
}

// =============================================================================
// Auth
// =============================================================================

func TestRegisterValidatesAndConflicts(t *testing.T) {
	_, _, router := newTestEnv()

	cases := []struct {
		name string
		body map[string]string
	}{
		{name: "missing_email", body: map[string]string{"password": "pw", "name": "n"}},
		{name: "missing_password", body: map[string]string{"email": "a@b.c", "name": "n"}},
		{name: "missing_name", body: map[string]string{"email": "a@b.c", "password": "pw"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPost, "/api/auth/register", "", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}

	rr := doRequest(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "pw12345678", "name": "Alice",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	var auth authResult
	decodeData(t, rr, &auth)
	if auth.User.Email != "alice@example.com" {
		t.Fatalf("email = %q, want alice@example.com", auth.User.Email)
	}
	if auth.AccessToken == "" || auth.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if auth.AccessToken == auth.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}

	rr = doRequest(t, router, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ALICE@example.com", "password": "other", "name": "Impostor",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	_, _, router := newTestEnv()
	registerUser(t, router, "bob@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if msg := errorMessage(t, rr); msg != "invalid email or password" {
		t.Fatalf("message = %q, want invalid email or password", msg)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "correct horse battery",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "carol@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": auth.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d (body %q)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var rotated authResult
	decodeData(t, rr, &rotated)
	if rotated.RefreshToken == auth.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	// The consumed token is gone; replaying it must fail.
	rr = doRequest(t, router, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": auth.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// The rotated token still works.
	rr = doRequest(t, router, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": rotated.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("rotated refresh status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "dave@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/auth/logout", auth.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": auth.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "eve@example.com")

	cases := []struct {
		name  string
		token string
	}{
		{name: "no_token", token: ""},
		{name: "garbage_token", token: "not-a-jwt"},
		{name: "refresh_as_access", token: auth.RefreshToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodGet, "/api/mood", tc.token, nil)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}

	rr := doRequest(t, router, http.MethodGet, "/api/mood", auth.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorized status = %d, want %d", rr.Code, http.StatusOK)
	}
}

// =============================================================================
// Mood
// =============================================================================

func TestMoodLifecycle(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "mood@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/mood", auth.AccessToken, map[string]any{"score": 11})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range score status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/mood", auth.AccessToken, map[string]any{
		"score": 5, "factors": []string{"sleep", "work"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, want %d", rr.Code, http.StatusOK)
	}
	var first mood.Entry
	decodeData(t, rr, &first)
	if first.ID == "" || first.Score != 5 {
		t.Fatalf("entry = %+v, want id set and score 5", first)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/mood", auth.AccessToken, map[string]any{
		"score": 9, "factors": []string{"sleep"}, "note": "good run",
	})
	var second mood.Entry
	decodeData(t, rr, &second)

	rr = doRequest(t, router, http.MethodGet, "/api/mood", auth.AccessToken, nil)
	var entries []mood.Entry
	decodeData(t, rr, &entries)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != second.ID {
		t.Fatalf("entries[0] = %s, want newest entry %s first", entries[0].ID, second.ID)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/mood/insights", auth.AccessToken, nil)
	var insights mood.Insights
	decodeData(t, rr, &insights)
	if insights.AverageScore != 7 {
		t.Fatalf("AverageScore = %v, want 7", insights.AverageScore)
	}
	if insights.EntryCount != 2 {
		t.Fatalf("EntryCount = %d, want 2", insights.EntryCount)
	}
	if insights.Trend != "stable" {
		t.Fatalf("Trend = %q, want stable for two entries", insights.Trend)
	}
	want := []string{"sleep", "work"}
	if len(insights.CommonFactors) != 2 || insights.CommonFactors[0] != want[0] || insights.CommonFactors[1] != want[1] {
		t.Fatalf("CommonFactors = %v, want %v", insights.CommonFactors, want)
	}

	rr = doRequest(t, router, http.MethodDelete, "/api/mood/"+first.ID, auth.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", rr.Code, http.StatusOK)
	}
	rr = doRequest(t, router, http.MethodDelete, "/api/mood/"+first.ID, auth.AccessToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// =============================================================================
// Meditation
// =============================================================================

func TestMeditationStats(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "zen@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/meditation", auth.AccessToken, map[string]any{
		"type": "levitation", "plannedDuration": 600,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown type status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/meditation", auth.AccessToken, map[string]any{
		"type": "breathing", "plannedDuration": 600,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", rr.Code, http.StatusOK)
	}
	var sess meditation.Session
	decodeData(t, rr, &sess)
	if sess.Status != meditation.StatusActive {
		t.Fatalf("status = %q, want %q", sess.Status, meditation.StatusActive)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/meditation/"+sess.ID+"/complete", auth.AccessToken, map[string]any{
		"duration":   600,
		"experience": map[string]int{"difficulty": 2, "enjoyment": 4, "effectiveness": 5},
	})
	var done meditation.Session
	decodeData(t, rr, &done)
	if done.Status != meditation.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("completed session = %+v, want completed with timestamp", done)
	}
	if done.Experience == nil || done.Experience.Enjoyment != 4 {
		t.Fatalf("experience = %+v, want enjoyment 4", done.Experience)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/meditation/stats", auth.AccessToken, nil)
	var stats meditation.Stats
	decodeData(t, rr, &stats)
	if stats.TotalSessions != 1 {
		t.Fatalf("TotalSessions = %d, want 1", stats.TotalSessions)
	}
	if stats.TotalMinutes != 10 || stats.WeeklyMinutes != 10 {
		t.Fatalf("minutes = %d total / %d weekly, want 10/10", stats.TotalMinutes, stats.WeeklyMinutes)
	}
	if stats.CurrentStreak != 1 {
		t.Fatalf("CurrentStreak = %d, want 1", stats.CurrentStreak)
	}
	if stats.FavoriteType != "breathing" {
		t.Fatalf("FavoriteType = %q, want breathing", stats.FavoriteType)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/meditation/guided-content", auth.AccessToken, nil)
	var content []meditation.GuidedContent
	decodeData(t, rr, &content)
	if len(content) == 0 {
		t.Fatal("expected seeded guided content")
	}
}

// =============================================================================
// Habits
// =============================================================================

func TestHabitCompletionStreakAndSummary(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "habit@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/habits", auth.AccessToken, map[string]any{
		"name":      "Evening walk",
		"frequency": map[string]any{"kind": "daily"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, want %d (body %q)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var h habit.Habit
	decodeData(t, rr, &h)
	if h.TargetPerDay != 1 {
		t.Fatalf("TargetPerDay = %d, want defaulted 1", h.TargetPerDay)
	}

	today := time.Now().UTC().Format(dateLayout)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(dateLayout)

	rr = doRequest(t, router, http.MethodPost, "/api/habits/"+h.ID+"/complete", auth.AccessToken, map[string]any{})
	var comp habit.Completion
	decodeData(t, rr, &comp)
	if comp.Date != today {
		t.Fatalf("completion date = %q, want %q", comp.Date, today)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/habits/"+h.ID+"/complete", auth.AccessToken, map[string]any{
		"date": yesterday,
	})
	decodeData(t, rr, &comp)

	rr = doRequest(t, router, http.MethodGet, "/api/habits", auth.AccessToken, nil)
	var habits []habit.Habit
	decodeData(t, rr, &habits)
	if len(habits) != 1 {
		t.Fatalf("len(habits) = %d, want 1", len(habits))
	}
	if got := habits[0].Stats.CurrentStreak; got != 2 {
		t.Fatalf("CurrentStreak = %d, want 2", got)
	}
	if got := habits[0].Stats.TotalCompletions; got != 2 {
		t.Fatalf("TotalCompletions = %d, want 2", got)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/habits/stats/summary", auth.AccessToken, nil)
	var summary habit.Summary
	decodeData(t, rr, &summary)
	if summary.ActiveHabits != 1 || summary.CompletedToday != 1 || summary.BestStreak != 2 {
		t.Fatalf("summary = %+v, want 1 active, 1 today, best 2", summary)
	}

	// Removing today's completion leaves yesterday's; the streak walk then
	// starts at yesterday.
	rr = doRequest(t, router, http.MethodPost, "/api/habits/"+h.ID+"/incomplete", auth.AccessToken, map[string]any{})
	var updated habit.Habit
	decodeData(t, rr, &updated)
	if updated.Stats.CurrentStreak != 1 {
		t.Fatalf("CurrentStreak after incomplete = %d, want 1", updated.Stats.CurrentStreak)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/habits/"+h.ID+"/completions", auth.AccessToken, nil)
	var completions []habit.Completion
	decodeData(t, rr, &completions)
	if len(completions) != 1 {
		t.Fatalf("len(completions) = %d, want 1", len(completions))
	}

	rr = doRequest(t, router, http.MethodPost, "/api/habits/"+h.ID+"/complete", auth.AccessToken, map[string]any{
		"date": "not-a-date",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/habits/missing/complete", auth.AccessToken, map[string]any{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing habit status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// =============================================================================
// Crisis
// =============================================================================

func TestCrisisAlertFlow(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "crisis@example.com")

	rr := doRequest(t, router, http.MethodPost, "/api/crisis/alert", auth.AccessToken, map[string]any{
		"level": "apocalyptic", "message": "help",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad level status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/crisis/alert", auth.AccessToken, map[string]any{
		"level": "high", "message": "   ",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/crisis/alert", auth.AccessToken, map[string]any{
		"level": "high", "message": "I need to talk to someone",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("alert status = %d, want %d", rr.Code, http.StatusOK)
	}
	var alert crisis.Alert
	decodeData(t, rr, &alert)
	if alert.ID == "" || alert.Level != crisis.LevelHigh {
		t.Fatalf("alert = %+v, want id set and level high", alert)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/crisis/alerts", auth.AccessToken, nil)
	var alerts []crisis.Alert
	decodeData(t, rr, &alerts)
	if len(alerts) != 1 || alerts[0].ID != alert.ID {
		t.Fatalf("alerts = %+v, want the dispatched alert", alerts)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/crisis/resources", auth.AccessToken, nil)
	var resources []crisis.Resource
	decodeData(t, rr, &resources)
	if len(resources) == 0 {
		t.Fatal("expected seeded crisis resources")
	}

	rr = doRequest(t, router, http.MethodGet, "/api/crisis/emergency-contacts", auth.AccessToken, nil)
	var contacts []crisis.EmergencyContact
	decodeData(t, rr, &contacts)
	if len(contacts) == 0 {
		t.Fatal("expected seeded emergency contacts")
	}
}

// =============================================================================
// Analytics
// =============================================================================

func TestDashboardAndTimeframeValidation(t *testing.T) {
	_, _, router := newTestEnv()
	auth := registerUser(t, router, "dash@example.com")

	rr := doRequest(t, router, http.MethodGet, "/api/analytics/dashboard?timeframe=decade", auth.AccessToken, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad timeframe status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	doRequest(t, router, http.MethodPost, "/api/mood", auth.AccessToken, map[string]any{"score": 8})
	rr = doRequest(t, router, http.MethodPost, "/api/meditation", auth.AccessToken, map[string]any{
		"type": "mindfulness", "plannedDuration": 900,
	})
	var sess meditation.Session
	decodeData(t, rr, &sess)
	doRequest(t, router, http.MethodPost, "/api/meditation/"+sess.ID+"/complete", auth.AccessToken, map[string]any{
		"duration": 900,
	})

	rr = doRequest(t, router, http.MethodGet, "/api/analytics/dashboard", auth.AccessToken, nil)
	var dash analytics.Dashboard
	decodeData(t, rr, &dash)
	if dash.Timeframe != analytics.TimeframeWeek {
		t.Fatalf("Timeframe = %q, want default week", dash.Timeframe)
	}
	if dash.WellnessScore == nil {
		t.Fatal("expected a computed wellness score")
	}
	if *dash.WellnessScore <= 0 || *dash.WellnessScore > 100 {
		t.Fatalf("WellnessScore = %v, want within (0, 100]", *dash.WellnessScore)
	}
	if dash.MoodAverage != 8 {
		t.Fatalf("MoodAverage = %v, want 8", dash.MoodAverage)
	}
	if dash.MeditationMinutes != 15 {
		t.Fatalf("MeditationMinutes = %d, want 15", dash.MeditationMinutes)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/analytics/wellness-report", auth.AccessToken, nil)
	var report analytics.Report
	decodeData(t, rr, &report)
	if report.Summary == "" || len(report.Recommendations) == 0 {
		t.Fatalf("report = %+v, want summary and recommendations", report)
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestRateLimitExceededReturns429(t *testing.T) {
	store := newMemStore()
	hub := newWSHub(logging.NewDefault("test"))
	limiter := newRateLimiter(1, 1, logging.NewDefault("test"))
	router := newRouter(store, hub, limiter)

	body := map[string]string{"email": "x@y.z", "password": "pw"}
	rr := doRequest(t, router, http.MethodPost, "/api/auth/login", "", body)
	if rr.Code == http.StatusTooManyRequests {
		t.Fatalf("first request already limited")
	}
	rr = doRequest(t, router, http.MethodPost, "/api/auth/login", "", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	_, _, router := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("allowed origin status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q, want the request origin", got)
	}
}

// =============================================================================
// Realtime
// =============================================================================

func dialRealtime(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial realtime: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	payload, _ := json.Marshal(map[string]string{"token": token})
	if err := conn.WriteJSON(realtime.Message{Event: realtime.EventAuthenticate, Payload: payload}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	var reply realtime.Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply.Event != realtime.EventAuthenticated {
		t.Fatalf("handshake reply = %q, want %q", reply.Event, realtime.EventAuthenticated)
	}
	return conn
}

func TestRealtimePushesMoodUpdates(t *testing.T) {
	_, _, router := newTestEnv()
	srv := httptest.NewServer(router)
	defer srv.Close()

	auth := registerUser(t, router, "push@example.com")
	conn := dialRealtime(t, srv, auth.AccessToken)

	rr := doRequest(t, router, http.MethodPost, "/api/mood", auth.AccessToken, map[string]any{"score": 6})
	if rr.Code != http.StatusOK {
		t.Fatalf("create mood status = %d", rr.Code)
	}

	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read pushed frame: %v", err)
	}
	if msg.Event != realtime.EventMoodUpdate {
		t.Fatalf("event = %q, want %q", msg.Event, realtime.EventMoodUpdate)
	}
	var entry mood.Entry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if entry.Score != 6 {
		t.Fatalf("pushed score = %d, want 6", entry.Score)
	}
}

func TestRealtimeRejectsBadHandshake(t *testing.T) {
	_, _, router := newTestEnv()
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial realtime: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	payload, _ := json.Marshal(map[string]string{"token": "bogus"})
	if err := conn.WriteJSON(realtime.Message{Event: realtime.EventAuthenticate, Payload: payload}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	var reply realtime.Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply.Event != realtime.EventAuthError {
		t.Fatalf("reply = %q, want %q", reply.Event, realtime.EventAuthError)
	}
}

func TestRealtimeRelaysBetweenDevices(t *testing.T) {
	_, _, router := newTestEnv()
	srv := httptest.NewServer(router)
	defer srv.Close()

	auth := registerUser(t, router, "devices@example.com")
	phone := dialRealtime(t, srv, auth.AccessToken)
	laptop := dialRealtime(t, srv, auth.AccessToken)

	payload, _ := json.Marshal(map[string]string{"habitId": "h1", "date": "2026-08-23"})
	if err := phone.WriteJSON(realtime.Message{Event: realtime.EventHabitCompleted, Payload: payload}); err != nil {
		t.Fatalf("write domain event: %v", err)
	}

	var msg realtime.Message
	if err := laptop.ReadJSON(&msg); err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}
	if msg.Event != realtime.EventHabitCompleted {
		t.Fatalf("event = %q, want %q", msg.Event, realtime.EventHabitCompleted)
	}
}
