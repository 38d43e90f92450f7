// Package wellness derives client-side analytics from store snapshots: mood
// trend classification, meditation streaks, the composite wellness score and
// the insight rule table. Everything here is pure; no I/O, no locks.
package wellness

import "time"

const dayLayout = "2006-01-02"

// Trend classifies the direction of recent mood scores.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// DefaultTrendWindow is the number of scores per comparison half.
const DefaultTrendWindow = 5

// trendBand is the |delta| below which the trend counts as stable.
const trendBand = 0.5

// MoodTrend compares the mean of the `window` most recent scores against the
// mean of the `window` before them. Scores are ordered newest first. With
// fewer than 2*window scores there is not enough data and the trend is
// stable. A window below 1 falls back to DefaultTrendWindow.
func MoodTrend(scores []float64, window int) Trend {
	if window < 1 {
		window = DefaultTrendWindow
	}
	if len(scores) < 2*window {
		return TrendStable
	}
	recent := mean(scores[:window])
	previous := mean(scores[window : 2*window])
	delta := recent - previous
	switch {
	case delta > trendBand:
		return TrendImproving
	case delta < -trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// MeditationStreak counts consecutive days with at least one completed
// session, walking back from today. A missing today does not break the
// streak; the walk then starts at yesterday. Days and today use the
// "YYYY-MM-DD" format; an unparseable today yields zero.
func MeditationStreak(days []string, today string) int {
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	cursor, err := time.Parse(dayLayout, today)
	if err != nil {
		return 0
	}
	if !set[today] {
		cursor = cursor.AddDate(0, 0, -1)
	}

	streak := 0
	for set[cursor.Format(dayLayout)] {
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak
}

// weeklyMeditationTargetMinutes is the full-marks weekly meditation time.
const weeklyMeditationTargetMinutes = 60

// Score component weights.
const (
	moodWeight       = 0.4
	meditationWeight = 0.3
	habitWeight      = 0.3
)

// ScoreInput carries the raw material for the composite wellness score.
// Nil/empty fields mean the component is unknown and its weight is
// redistributed over the rest.
type ScoreInput struct {
	// ServerScore, when present, wins outright.
	ServerScore *float64
	// MoodScores on the 1..10 scale, any order.
	MoodScores []float64
	// WeeklyMeditationMinutes is this week's total. Zero is real data;
	// nil means unknown.
	WeeklyMeditationMinutes *int
	// HabitRates are per-habit completion rates in 0..1.
	HabitRates []float64
}

// Score computes the 0..100 wellness score. The server value is preferred
// when present; otherwise mood contributes its mean x10 at weight 0.4,
// meditation the weekly-minutes ratio against a 60 minute target at weight
// 0.3, and habits their mean completion rate x100 at weight 0.3, with
// weights re-normalized over the components actually present.
func Score(in ScoreInput) float64 {
	if in.ServerScore != nil {
		return *in.ServerScore
	}

	type component struct {
		value  float64
		weight float64
	}
	var parts []component
	if len(in.MoodScores) > 0 {
		parts = append(parts, component{mean(in.MoodScores) * 10, moodWeight})
	}
	if in.WeeklyMeditationMinutes != nil {
		ratio := float64(*in.WeeklyMeditationMinutes) / weeklyMeditationTargetMinutes
		if ratio > 1 {
			ratio = 1
		}
		parts = append(parts, component{ratio * 100, meditationWeight})
	}
	if len(in.HabitRates) > 0 {
		parts = append(parts, component{mean(in.HabitRates) * 100, habitWeight})
	}
	if len(parts) == 0 {
		return 0
	}

	var weighted, total float64
	for _, p := range parts {
		weighted += p.value * p.weight
		total += p.weight
	}
	score := weighted / total
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
