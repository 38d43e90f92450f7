package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MindWell-Health/wellness_client/app"
	"github.com/MindWell-Health/wellness_client/internal/config"
	"github.com/MindWell-Health/wellness_client/realtime"
	"github.com/MindWell-Health/wellness_client/stores/analytics"
	"github.com/MindWell-Health/wellness_client/stores/crisis"
	"github.com/MindWell-Health/wellness_client/stores/habit"
	"github.com/MindWell-Health/wellness_client/stores/meditation"
	"github.com/MindWell-Health/wellness_client/stores/mood"
	"github.com/MindWell-Health/wellness_client/wellness"
)

const commandTimeout = time.Minute

func newCLIApp() *cli.App {
	return &cli.App{
		Name:    "wellnessctl",
		Usage:   "MindWell wellness client",
		Version: version,
		Commands: []*cli.Command{
			registerCmd(),
			loginCmd(),
			logoutCmd(),
			whoamiCmd(),
			moodCmd(),
			meditateCmd(),
			habitCmd(),
			dashboardCmd(),
			reportCmd(),
			crisisCmd(),
			watchCmd(),
		},
	}
}

// withApp builds the SDK app from the environment, starts it, runs fn, and
// tears everything down again. Every command is one short-lived app.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Keep command output clean unless the user asked for logs.
	if os.Getenv("MINDWELL_LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Auth commands
// =============================================================================

func registerCmd() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "Account email"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "Account password"},
			&cli.StringFlag{Name: "name", Required: true, Usage: "Display name"},
		},
		Action: func(c *cli.Context) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				p, err := a.Session.Register(ctx, c.String("email"), c.String("password"), c.String("name"))
				if err != nil {
					return err
				}
				fmt.Printf("Welcome, %s. Signed in as %s.\n", p.Name, p.Email)
				return nil
			})
		},
	}
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and persist the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "Account email"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "Account password"},
		},
		Action: func(c *cli.Context) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				p, err := a.Session.Login(ctx, c.String("email"), c.String("password"))
				if err != nil {
					return err
				}
				fmt.Printf("Signed in as %s (%s).\n", p.Name, p.Email)
				return nil
			})
		},
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Sign out and clear the persisted session",
		Action: func(*cli.Context) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("Signed out.")
				return nil
			})
		},
	}
}

func whoamiCmd() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in user",
		Action: func(*cli.Context) error {
			return withApp(func(_ context.Context, a *app.App) error {
				p, ok := a.Session.Principal()
				if !ok {
					return fmt.Errorf("not signed in")
				}
				fmt.Printf("%s <%s> (joined %s)\n", p.Name, p.Email, p.JoinedAt.Format("2006-01-02"))
				return nil
			})
		},
	}
}

// =============================================================================
// Mood commands
// =============================================================================

func moodCmd() *cli.Command {
	return &cli.Command{
		Name:  "mood",
		Usage: "Log and review mood entries",
		Subcommands: []*cli.Command{
			{
				Name:  "log",
				Usage: "Log a mood entry",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "score", Required: true, Usage: "Mood score 1..10"},
					&cli.StringFlag{Name: "factors", Usage: "Comma-separated contributing factors"},
					&cli.StringFlag{Name: "note", Usage: "Free-form note"},
				},
				Action: func(c *cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						entry, err := a.Mood.Create(ctx, mood.Input{
							Score:   c.Int("score"),
							Factors: splitList(c.String("factors")),
							Note:    c.String("note"),
						})
						if err != nil {
							return err
						}
						fmt.Printf("Logged mood %d/10 (%s).\n", entry.Score, entry.ID)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List mood entries, newest first",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						if err := a.Mood.EnsureLoaded(ctx); err != nil {
							return err
						}
						entries := a.Mood.Entries()
						if len(entries) == 0 {
							fmt.Println("No mood entries yet.")
							return nil
						}
						for _, e := range entries {
							line := fmt.Sprintf("%s  %2d/10", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Score)
							if len(e.Factors) > 0 {
								line += "  [" + strings.Join(e.Factors, ", ") + "]"
							}
							if e.Note != "" {
								line += "  " + e.Note
							}
							fmt.Println(line)
						}
						return nil
					})
				},
			},
			{
				Name:  "insights",
				Usage: "Show server-side mood insights",
				Flags: []cli.Flag{timeframeFlag()},
				Action: func(c *cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						insights, err := a.Mood.Insights(ctx, c.String("timeframe"))
						if err != nil {
							return err
						}
						return outputJSON(insights)
					})
				},
			},
		},
	}
}

// =============================================================================
// Meditation commands
// =============================================================================

func meditateCmd() *cli.Command {
	return &cli.Command{
		Name:  "meditate",
		Usage: "Run and review meditation sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a meditation session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Value: "breathing", Usage: "breathing, mindfulness, loving-kindness, or body-scan"},
					&cli.IntFlag{Name: "minutes", Value: 10, Usage: "Planned duration in minutes"},
				},
				Action: func(c *cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						s, err := a.Meditation.Start(ctx, meditation.Type(c.String("type")), c.Int("minutes")*60)
						if err != nil {
							return err
						}
						fmt.Printf("Started %s session %s (%d min planned).\n", s.Type, s.ID, s.PlannedDuration/60)
						return nil
					})
				},
			},
			{
				Name:      "complete",
				Usage:     "Complete a session",
				ArgsUsage: "<session-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "minutes", Required: true, Usage: "Actual duration in minutes"},
					&cli.IntFlag{Name: "difficulty", Usage: "1..5"},
					&cli.IntFlag{Name: "enjoyment", Usage: "1..5"},
					&cli.IntFlag{Name: "effectiveness", Usage: "1..5"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("session id is required")
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						var exp *meditation.Experience
						if c.IsSet("difficulty") || c.IsSet("enjoyment") || c.IsSet("effectiveness") {
							exp = &meditation.Experience{
								Difficulty:    c.Int("difficulty"),
								Enjoyment:     c.Int("enjoyment"),
								Effectiveness: c.Int("effectiveness"),
							}
						}
						s, err := a.Meditation.Complete(ctx, c.Args().First(), c.Int("minutes")*60, exp)
						if err != nil {
							return err
						}
						fmt.Printf("Completed %s session (%d min).\n", s.Type, s.ActualDuration/60)
						return nil
					})
				},
			},
			{
				Name:      "abandon",
				Usage:     "Abandon the running session",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("session id is required")
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						s, err := a.Meditation.Abandon(ctx, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Printf("Abandoned session after %d min.\n", s.ActualDuration/60)
						return nil
					})
				},
			},
			{
				Name:  "stats",
				Usage: "Show meditation statistics",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						stats, err := a.Meditation.Stats(ctx)
						if err != nil {
							return err
						}
						return outputJSON(stats)
					})
				},
			},
			{
				Name:  "content",
				Usage: "List guided meditation content",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						content, err := a.Meditation.GuidedContent(ctx)
						if err != nil {
							return err
						}
						for _, item := range content {
							fmt.Printf("%-24s %-16s %3d min  %s\n", item.Title, item.Type, item.Duration, item.Description)
						}
						return nil
					})
				},
			},
		},
	}
}

// =============================================================================
// Habit commands
// =============================================================================

func habitCmd() *cli.Command {
	return &cli.Command{
		Name:  "habit",
		Usage: "Manage habits and completions",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a habit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Habit name"},
					&cli.StringFlag{Name: "desc", Usage: "Description"},
					&cli.StringFlag{Name: "kind", Value: "daily", Usage: "daily, weekly, or monthly"},
					&cli.StringFlag{Name: "days", Usage: "Weekly only: comma-separated days (mon,wed,fri)"},
					&cli.IntFlag{Name: "target", Value: 1, Usage: "Target completions per day"},
				},
				Action: func(c *cli.Context) error {
					days, err := parseWeekdays(c.String("days"))
					if err != nil {
						return err
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						h, err := a.Habits.Create(ctx, habit.Input{
							Name:        c.String("name"),
							Description: c.String("desc"),
							Frequency: habit.Frequency{
								Kind: habit.FrequencyKind(c.String("kind")),
								Days: days,
							},
							TargetPerDay: c.Int("target"),
						})
						if err != nil {
							return err
						}
						fmt.Printf("Created habit %q (%s).\n", h.Name, h.ID)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List habits with streaks",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						if err := a.Habits.EnsureLoaded(ctx); err != nil {
							return err
						}
						habits := a.Habits.Habits()
						if len(habits) == 0 {
							fmt.Println("No habits yet.")
							return nil
						}
						for _, h := range habits {
							marker := " "
							if a.Habits.CompletedToday(h.ID) {
								marker = "x"
							}
							fmt.Printf("[%s] %-28s streak %3d (best %3d)  %s\n",
								marker, h.Name, h.Stats.CurrentStreak, h.Stats.LongestStreak, h.ID)
						}
						return nil
					})
				},
			},
			{
				Name:      "done",
				Usage:     "Mark a habit complete for today",
				ArgsUsage: "<habit-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "value", Value: 1, Usage: "Completion count"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("habit id is required")
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						if err := a.Habits.EnsureLoaded(ctx); err != nil {
							return err
						}
						completion, err := a.Habits.Complete(ctx, c.Args().First(), c.Int("value"))
						if err != nil {
							return err
						}
						fmt.Printf("Done for %s.\n", completion.Date)
						return nil
					})
				},
			},
			{
				Name:      "undo",
				Usage:     "Remove today's completion",
				ArgsUsage: "<habit-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("habit id is required")
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						if err := a.Habits.EnsureLoaded(ctx); err != nil {
							return err
						}
						if err := a.Habits.Incomplete(ctx, c.Args().First()); err != nil {
							return err
						}
						fmt.Println("Completion removed.")
						return nil
					})
				},
			},
			{
				Name:      "history",
				Usage:     "Show a habit's completion history",
				ArgsUsage: "<habit-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("habit id is required")
					}
					return withApp(func(ctx context.Context, a *app.App) error {
						completions, err := a.Habits.Completions(ctx, c.Args().First())
						if err != nil {
							return err
						}
						for _, comp := range completions {
							fmt.Printf("%s  x%d\n", comp.Date, comp.Value)
						}
						return nil
					})
				},
			},
			{
				Name:  "summary",
				Usage: "Show the cross-habit summary",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						summary, err := a.Habits.StatsSummary(ctx)
						if err != nil {
							return err
						}
						return outputJSON(summary)
					})
				},
			},
		},
	}
}

// =============================================================================
// Analytics commands
// =============================================================================

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show the analytics dashboard",
		Flags: []cli.Flag{timeframeFlag()},
		Action: func(c *cli.Context) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				tf := analytics.Timeframe(c.String("timeframe"))
				if err := a.Analytics.Refresh(ctx, tf); err != nil {
					return err
				}
				dash, ok := a.Analytics.Dashboard()
				if !ok {
					return fmt.Errorf("no dashboard data")
				}
				if dash.WellnessScore == nil {
					if score, ok := derivedScore(ctx, a); ok {
						dash.WellnessScore = &score
					}
				}
				return outputJSON(dash)
			})
		},
	}
}

// derivedScore computes the client-side composite when the server did not
// send a wellness score.
func derivedScore(ctx context.Context, a *app.App) (float64, bool) {
	if err := a.Mood.EnsureLoaded(ctx); err != nil {
		return 0, false
	}
	if err := a.Habits.EnsureLoaded(ctx); err != nil {
		return 0, false
	}
	in := wellness.ScoreInput{
		MoodScores: a.Mood.Scores(),
		HabitRates: a.Habits.CompletionRates(),
	}
	if stats, err := a.Meditation.Stats(ctx); err == nil {
		weekly := stats.WeeklyMinutes
		in.WeeklyMeditationMinutes = &weekly
	}
	return wellness.Score(in), true
}

func reportCmd() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show the narrative wellness report",
		Flags: []cli.Flag{timeframeFlag()},
		Action: func(c *cli.Context) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				report, err := a.Analytics.WellnessReport(ctx, analytics.Timeframe(c.String("timeframe")))
				if err != nil {
					return err
				}
				return outputJSON(report)
			})
		},
	}
}

// =============================================================================
// Crisis commands
// =============================================================================

func crisisCmd() *cli.Command {
	return &cli.Command{
		Name:  "crisis",
		Usage: "Crisis support resources and alerts",
		Subcommands: []*cli.Command{
			{
				Name:  "resources",
				Usage: "List crisis support resources",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						resources, err := a.Crisis.Resources(ctx)
						if err != nil {
							return err
						}
						for _, res := range resources {
							reach := res.Phone
							if reach == "" {
								reach = res.URL
							}
							always := ""
							if res.Available247 {
								always = "  (24/7)"
							}
							fmt.Printf("%-34s %s%s\n", res.Name, reach, always)
						}
						return nil
					})
				},
			},
			{
				Name:  "contacts",
				Usage: "List emergency contacts",
				Action: func(*cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						contacts, err := a.Crisis.EmergencyContacts(ctx)
						if err != nil {
							return err
						}
						for _, contact := range contacts {
							fmt.Printf("%-24s %-12s %s\n", contact.Name, contact.Relationship, contact.Phone)
						}
						return nil
					})
				},
			},
			{
				Name:  "alert",
				Usage: "Dispatch a crisis alert",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "level", Required: true, Usage: "low, medium, high, or critical"},
					&cli.StringFlag{Name: "message", Required: true, Usage: "What is happening"},
				},
				Action: func(c *cli.Context) error {
					return withApp(func(ctx context.Context, a *app.App) error {
						alert, err := a.Crisis.Alert(ctx, crisis.Level(c.String("level")), c.String("message"))
						if err != nil {
							return err
						}
						fmt.Printf("Alert %s dispatched. Help is on the way.\n", alert.ID)
						return nil
					})
				},
			},
		},
	}
}

// =============================================================================
// Watch
// =============================================================================

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream realtime notifications until interrupted",
		Action: func(*cli.Context) error {
			return withApp(func(_ context.Context, a *app.App) error {
				if !a.Session.Authenticated() {
					return fmt.Errorf("not signed in")
				}

				unsubState := a.Channel.OnStateChange(func(st realtime.State) {
					fmt.Printf("-- connection: %s\n", st)
				})
				defer unsubState()

				var mu sync.Mutex
				seen := make(map[string]bool)
				unsub := a.Notifications.Watch(func() {
					mu.Lock()
					defer mu.Unlock()
					for _, n := range a.Notifications.Notifications() {
						if seen[n.ID] {
							continue
						}
						seen[n.ID] = true
						fmt.Printf("[%s] %s/%s  %s: %s\n",
							n.CreatedAt.Local().Format("15:04:05"), n.Kind, n.Priority, n.Title, n.Message)
					}
				})
				defer unsub()

				fmt.Println("Watching for notifications. Ctrl-C to stop.")
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
				fmt.Println()
				return nil
			})
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func timeframeFlag() cli.Flag {
	return &cli.StringFlag{Name: "timeframe", Value: "week", Usage: "week, month, quarter, or year"}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(raw string) ([]time.Weekday, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}
