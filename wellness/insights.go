package wellness

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Insight kinds.
const (
	InsightPositive   = "positive"
	InsightSuggestion = "suggestion"
	InsightConcern    = "concern"
)

// Metrics is the snapshot the insight rules evaluate against.
type Metrics struct {
	MoodAverage             float64
	MoodCount               int
	MeditationStreak        int
	WeeklyMeditationMinutes int
	HabitCompletionRate     float64
	HabitCount              int
}

// Insight is one produced observation.
type Insight struct {
	Name    string
	Kind    string
	Message string
}

// Rule is one entry of the ordered insight table.
type Rule struct {
	Name    string
	Kind    string
	Applies func(Metrics) bool
	Message func(Metrics) string
}

// Rules is an ordered rule table.
type Rules []Rule

// Evaluate runs every rule in order and collects the insights that apply.
func (rs Rules) Evaluate(m Metrics) []Insight {
	var out []Insight
	for _, r := range rs {
		if r.Applies(m) {
			out = append(out, Insight{Name: r.Name, Kind: r.Kind, Message: r.Message(m)})
		}
	}
	return out
}

// Evaluate runs the built-in rule table.
func Evaluate(m Metrics) []Insight {
	return DefaultRules().Evaluate(m)
}

// Thresholds tune when the built-in rules apply. YAML keys match the
// override file read by LoadRules.
type Thresholds struct {
	// LowMood triggers the low-mood concern at or below this average.
	LowMood float64 `yaml:"low_mood"`
	// HighMood triggers the positive mood insight at or above this average.
	HighMood float64 `yaml:"high_mood"`
	// StreakMilestone is the meditation streak worth celebrating.
	StreakMilestone int `yaml:"streak_milestone"`
	// HabitConsistency is the mean completion rate counted as consistent.
	HabitConsistency float64 `yaml:"habit_consistency"`
	// MinWeeklyMeditationMinutes below which the absence nudge fires.
	MinWeeklyMeditationMinutes int `yaml:"min_weekly_meditation_minutes"`
}

// DefaultThresholds returns the built-in tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowMood:                    4.0,
		HighMood:                   7.5,
		StreakMilestone:            7,
		HabitConsistency:           0.8,
		MinWeeklyMeditationMinutes: 1,
	}
}

// DefaultRules returns the built-in table with default thresholds.
func DefaultRules() Rules {
	return RulesWith(DefaultThresholds())
}

// RulesWith builds the built-in table against custom thresholds.
func RulesWith(th Thresholds) Rules {
	return Rules{
		{
			Name: "low-mood",
			Kind: InsightConcern,
			Applies: func(m Metrics) bool {
				return m.MoodCount > 0 && m.MoodAverage <= th.LowMood
			},
			Message: func(Metrics) string {
				return "Your average mood has been low lately. Consider reaching out to someone you trust."
			},
		},
		{
			Name: "high-mood",
			Kind: InsightPositive,
			Applies: func(m Metrics) bool {
				return m.MoodCount > 0 && m.MoodAverage >= th.HighMood
			},
			Message: func(Metrics) string {
				return "Your mood has been consistently good. Keep doing what works for you."
			},
		},
		{
			Name: "streak-milestone",
			Kind: InsightPositive,
			Applies: func(m Metrics) bool {
				return m.MeditationStreak >= th.StreakMilestone
			},
			Message: func(m Metrics) string {
				return fmt.Sprintf("You're on a %d day meditation streak.", m.MeditationStreak)
			},
		},
		{
			Name: "habit-consistency",
			Kind: InsightPositive,
			Applies: func(m Metrics) bool {
				return m.HabitCount > 0 && m.HabitCompletionRate >= th.HabitConsistency
			},
			Message: func(m Metrics) string {
				return fmt.Sprintf("You're completing %.0f%% of your habits. Strong consistency.", m.HabitCompletionRate*100)
			},
		},
		{
			Name: "meditation-absence",
			Kind: InsightSuggestion,
			Applies: func(m Metrics) bool {
				return m.WeeklyMeditationMinutes < th.MinWeeklyMeditationMinutes
			},
			Message: func(Metrics) string {
				return "You haven't meditated this week. Even five minutes makes a difference."
			},
		},
	}
}

// LoadRules reads threshold overrides from YAML and returns the built-in
// table tuned with them. Keys omitted from the document keep their defaults;
// unknown keys are an error. An empty document returns the default table.
func LoadRules(r io.Reader) (Rules, error) {
	th := DefaultThresholds()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&th); err != nil {
		if errors.Is(err, io.EOF) {
			return RulesWith(th), nil
		}
		return nil, fmt.Errorf("wellness: parse rule thresholds: %w", err)
	}
	return RulesWith(th), nil
}
