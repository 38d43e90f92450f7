// Command mockwell runs an in-memory MindWell API and realtime server for
// development and integration testing. It speaks the same enveloped REST
// surface and websocket protocol as the production backend, backed by one
// process-lifetime store.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
)

func main() {
	addr := flag.String("addr", ":4000", "listen address")
	secret := flag.String("jwt-secret", "", "JWT signing secret (random when empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	ratePerSecond := flag.Int("rate-limit", 25, "allowed requests per second per client")
	rateBurst := flag.Int("rate-burst", 50, "rate limit burst size")
	flag.Parse()

	if v := os.Getenv("MOCKWELL_ADDR"); v != "" {
		*addr = v
	}
	if v := os.Getenv("MOCKWELL_JWT_SECRET"); v != "" {
		*secret = v
	}
	if v := os.Getenv("MOCKWELL_LOG_LEVEL"); v != "" {
		*logLevel = v
	}

	logging.Configure(logging.Options{Level: *logLevel, JSON: *logJSON})
	log := logging.NewDefault("mockwell")

	if *secret != "" {
		jwtSecret = []byte(*secret)
	} else {
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			log.WithError(err).Error("failed to generate JWT secret")
			os.Exit(1)
		}
		log.Warn("using a random JWT secret; tokens will not survive a restart")
	}

	store := newMemStore()
	hub := newWSHub(log)
	limiter := newRateLimiter(*ratePerSecond, *rateBurst, log)

	done := make(chan struct{})
	limiter.startCleanup(10*time.Minute, done)

	router := newRouter(store, hub, limiter)

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("mockwell listening on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	close(done)
	hub.close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	log.Info("mockwell stopped")
}

// newRouter wires the REST surface, the realtime endpoint, and the metrics
// handler. Websocket upgrades bypass the rate limiter; one long-lived
// connection should not consume the HTTP budget.
func newRouter(store *memStore, hub *wsHub, limiter *rateLimiter) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", healthHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/realtime", hub.handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(limiter.Handler)

	// Public auth endpoints.
	api.HandleFunc("/auth/register", registerHandler(store)).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", loginHandler(store)).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", refreshHandler(store)).Methods(http.MethodPost)

	// Everything below requires a Bearer access token.
	authed := api.NewRoute().Subrouter()
	authed.Use(authMiddleware())

	authed.HandleFunc("/auth/logout", logoutHandler(store)).Methods(http.MethodPost)

	authed.HandleFunc("/mood", listMoodsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/mood", createMoodHandler(store, hub)).Methods(http.MethodPost)
	authed.HandleFunc("/mood/insights", moodInsightsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/mood/{id}", deleteMoodHandler(store)).Methods(http.MethodDelete)

	authed.HandleFunc("/meditation", listMeditationsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/meditation", startMeditationHandler(store)).Methods(http.MethodPost)
	authed.HandleFunc("/meditation/stats", meditationStatsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/meditation/guided-content", guidedContentHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/meditation/{id}", updateMeditationHandler(store)).Methods(http.MethodPut)
	authed.HandleFunc("/meditation/{id}/complete", completeMeditationHandler(store)).Methods(http.MethodPost)

	authed.HandleFunc("/habits", listHabitsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/habits", createHabitHandler(store)).Methods(http.MethodPost)
	authed.HandleFunc("/habits/stats/summary", habitSummaryHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/habits/{id}", updateHabitHandler(store)).Methods(http.MethodPut)
	authed.HandleFunc("/habits/{id}", deleteHabitHandler(store)).Methods(http.MethodDelete)
	authed.HandleFunc("/habits/{id}/complete", completeHabitHandler(store, hub)).Methods(http.MethodPost)
	authed.HandleFunc("/habits/{id}/incomplete", incompleteHabitHandler(store)).Methods(http.MethodPost)
	authed.HandleFunc("/habits/{id}/completions", habitCompletionsHandler(store)).Methods(http.MethodGet)

	authed.HandleFunc("/crisis/alert", crisisAlertHandler(store, hub)).Methods(http.MethodPost)
	authed.HandleFunc("/crisis/alerts", crisisAlertsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/crisis/resources", crisisResourcesHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/crisis/emergency-contacts", emergencyContactsHandler(store)).Methods(http.MethodGet)

	authed.HandleFunc("/analytics/dashboard", dashboardHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/wellness-report", wellnessReportHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/mood", moodAnalyticsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/meditation", meditationAnalyticsHandler(store)).Methods(http.MethodGet)
	authed.HandleFunc("/analytics/habits", habitAnalyticsHandler(store)).Methods(http.MethodGet)

	return router
}
