// Package app assembles the SDK: one client, one realtime channel, the
// session manager and every store, wired once and torn down in reverse.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/MindWell-Health/wellness_client/client"
	"github.com/MindWell-Health/wellness_client/internal/config"
	"github.com/MindWell-Health/wellness_client/internal/localstore"
	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/session"
	"github.com/MindWell-Health/wellness_client/stores/analytics"
	"github.com/MindWell-Health/wellness_client/stores/crisis"
	"github.com/MindWell-Health/wellness_client/stores/habit"
	"github.com/MindWell-Health/wellness_client/stores/meditation"
	"github.com/MindWell-Health/wellness_client/stores/mood"
	"github.com/MindWell-Health/wellness_client/stores/notify"
)

// App owns every SDK component. Fields are exported for direct use by UI
// layers; construction and lifecycle stay in New/Start/Close.
type App struct {
	Client        *client.Client
	Channel       *realtime.Channel
	Session       *session.Manager
	Mood          *mood.Store
	Meditation    *meditation.Store
	Habits        *habit.Store
	Analytics     *analytics.Store
	Crisis        *crisis.Store
	Notifications *notify.Store
	Reminders     *habit.Reminders

	log   *logging.Logger
	store *localstore.Store

	mu      sync.Mutex
	started bool
	closed  bool
	unbinds []func()
}

// New wires the SDK from configuration. Nothing touches the network yet;
// Start does that.
func New(cfg config.Config) (*App, error) {
	logging.Configure(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	log := logging.NewDefault("app")

	cl, err := client.New(client.Config{
		BaseURL:  cfg.APIBaseURL,
		Timeout:  cfg.Timeout,
		CacheTTL: cfg.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build client: %w", err)
	}

	store, err := localstore.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("app: open local store: %w", err)
	}

	sess, err := session.NewManager(session.Config{
		Client:      cl,
		Store:       store,
		AutoRefresh: cfg.AutoRefresh,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: build session: %w", err)
	}

	ch, err := realtime.New(realtime.Config{
		URL:       cfg.RealtimeURL,
		Tokens:    sess,
		Reconnect: cfg.Reconnect,
	})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, fmt.Errorf("app: build channel: %w", err)
	}

	notifications := notify.New(notify.Deps{})

	moodStore, err := mood.New(mood.Deps{Client: cl, Channel: ch})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}
	meditationStore, err := meditation.New(meditation.Deps{Client: cl})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}
	habitStore, err := habit.New(habit.Deps{Client: cl, Channel: ch})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}
	analyticsStore, err := analytics.New(analytics.Deps{Client: cl})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}
	crisisStore, err := crisis.New(crisis.Deps{
		Client:  cl,
		Channel: ch,
		Notify: func(title, message string) {
			notifications.Add(notify.Input{
				Kind:     notify.KindCrisis,
				Title:    title,
				Message:  message,
				Priority: notify.PriorityUrgent,
			})
		},
	})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}

	reminders, err := habit.NewReminders(habit.ReminderConfig{
		Store: habitStore,
		Announce: func(h habit.Habit) {
			notifications.Add(notify.Input{
				Kind:     notify.KindReminder,
				Title:    "Habit reminder",
				Message:  fmt.Sprintf("Don't forget: %s", h.Name),
				Priority: notify.PriorityNormal,
			})
		},
	})
	if err != nil {
		sess.Close()
		store.Close()
		return nil, err
	}

	return &App{
		Client:        cl,
		Channel:       ch,
		Session:       sess,
		Mood:          moodStore,
		Meditation:    meditationStore,
		Habits:        habitStore,
		Analytics:     analyticsStore,
		Crisis:        crisisStore,
		Notifications: notifications,
		Reminders:     reminders,
		log:           log,
		store:         store,
	}, nil
}

// Start binds stores to the channel, arms the reminder scheduler and, when a
// restored session exists, connects the realtime channel. Safe to call once;
// repeat calls are no-ops.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("app: closed")
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	unbinds := []func(){
		a.Session.Bind(a.Channel),
		a.Mood.Bind(a.Channel),
		a.Meditation.Bind(a.Channel),
		a.Habits.Bind(a.Channel),
		a.Analytics.Bind(a.Channel),
		a.Crisis.Bind(a.Channel),
		a.Notifications.Bind(a.Channel),
		a.Session.OnChange(a.sessionChanged),
	}
	a.mu.Lock()
	a.unbinds = unbinds
	a.mu.Unlock()

	a.Reminders.Start()

	if a.Session.Authenticated() {
		a.connectRealtime(ctx)
	}
	return nil
}

// sessionChanged keeps the realtime connection and in-memory data aligned
// with the session: sign-in connects, sign-out disconnects and wipes.
func (a *App) sessionChanged() {
	if a.Session.Authenticated() {
		go a.connectRealtime(context.Background())
		return
	}
	_ = a.Channel.Close()
	a.resetStores()
}

func (a *App) connectRealtime(ctx context.Context) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed || a.Channel.State() != realtime.StateDisconnected {
		return
	}
	if err := a.Channel.Connect(ctx); err != nil {
		a.log.WithError(err).Warn("realtime connect failed; continuing offline")
	}
}

// resetStores drops user data after sign-out. The session wipes itself.
func (a *App) resetStores() {
	a.Mood.Reset()
	a.Meditation.Reset()
	a.Habits.Reset()
	a.Analytics.Reset()
	a.Crisis.Reset()
	a.Notifications.ClearAll()
}

// Close unwinds everything Start set up, in reverse order. Idempotent.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	unbinds := a.unbinds
	a.unbinds = nil
	a.mu.Unlock()

	a.Reminders.Stop()
	for i := len(unbinds) - 1; i >= 0; i-- {
		unbinds[i]()
	}
	_ = a.Channel.Close()
	a.Meditation.Close()
	a.Notifications.Close()
	a.Session.Close()
	return a.store.Close()
}
