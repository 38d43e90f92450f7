package wellness

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMoodTrendClassification(t *testing.T) {
	cases := []struct {
		name   string
		scores []float64
		window int
		want   Trend
	}{
		{
			name:   "clear improvement",
			scores: append(repeat(8.5, 5), repeat(3.0, 5)...),
			window: 5,
			want:   TrendImproving,
		},
		{
			name:   "clear decline",
			scores: append(repeat(3.0, 5), repeat(8.5, 5)...),
			window: 5,
			want:   TrendDeclining,
		},
		{
			name:   "inside the stable band",
			scores: append(repeat(5.2, 5), repeat(5.0, 5)...),
			window: 5,
			want:   TrendStable,
		},
		{
			name:   "delta of exactly the band is stable",
			scores: append(repeat(5.5, 5), repeat(5.0, 5)...),
			window: 5,
			want:   TrendStable,
		},
		{
			name:   "insufficient data",
			scores: repeat(9.0, 9),
			window: 5,
			want:   TrendStable,
		},
		{
			name:   "zero window uses the default",
			scores: append(repeat(8.0, 5), repeat(4.0, 5)...),
			window: 0,
			want:   TrendImproving,
		},
		{
			name:   "small custom window",
			scores: []float64{9, 9, 2, 2},
			window: 2,
			want:   TrendImproving,
		},
		{
			name:   "no scores",
			scores: nil,
			window: 5,
			want:   TrendStable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MoodTrend(tc.scores, tc.window); got != tc.want {
				t.Errorf("MoodTrend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMeditationStreakWalkBack(t *testing.T) {
	cases := []struct {
		name  string
		days  []string
		today string
		want  int
	}{
		{
			name:  "streak through today",
			days:  []string{"2026-08-21", "2026-08-22", "2026-08-23"},
			today: "2026-08-23",
			want:  3,
		},
		{
			name:  "missing today gets grace",
			days:  []string{"2026-08-21", "2026-08-22"},
			today: "2026-08-23",
			want:  2,
		},
		{
			name:  "gap before today stops the walk",
			days:  []string{"2026-08-23", "2026-08-21"},
			today: "2026-08-23",
			want:  1,
		},
		{
			name:  "gap after the grace day stops everything",
			days:  []string{"2026-08-20", "2026-08-21"},
			today: "2026-08-23",
			want:  0,
		},
		{
			name:  "today only",
			days:  []string{"2026-08-23"},
			today: "2026-08-23",
			want:  1,
		},
		{
			name:  "month boundary",
			days:  []string{"2026-07-31", "2026-08-01"},
			today: "2026-08-01",
			want:  2,
		},
		{
			name:  "no days",
			days:  nil,
			today: "2026-08-23",
			want:  0,
		},
		{
			name:  "unparseable today",
			days:  []string{"2026-08-23"},
			today: "yesterday-ish",
			want:  0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MeditationStreak(tc.days, tc.today); got != tc.want {
				t.Errorf("MeditationStreak = %d, want %d", got, tc.want)
			}
		})
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestScoreServerValueWins(t *testing.T) {
	in := ScoreInput{
		ServerScore:             floatPtr(42.5),
		MoodScores:              []float64{10, 10},
		WeeklyMeditationMinutes: intPtr(60),
		HabitRates:              []float64{1},
	}
	if got := Score(in); !near(got, 42.5) {
		t.Errorf("Score = %v, want the server value 42.5", got)
	}
}

func TestScoreFullComposite(t *testing.T) {
	in := ScoreInput{
		MoodScores:              []float64{8, 8},
		WeeklyMeditationMinutes: intPtr(30),
		HabitRates:              []float64{0.5, 1.0},
	}
	// 80*0.4 + 50*0.3 + 75*0.3 = 69.5
	if got := Score(in); !near(got, 69.5) {
		t.Errorf("Score = %v, want 69.5", got)
	}
}

func TestScoreRenormalizesMissingComponents(t *testing.T) {
	in := ScoreInput{
		MoodScores: []float64{8, 8},
		HabitRates: []float64{0.5, 1.0},
	}
	// (80*0.4 + 75*0.3) / 0.7
	want := (80*0.4 + 75*0.3) / 0.7
	if got := Score(in); !near(got, want) {
		t.Errorf("Score = %v, want %v", got, want)
	}

	moodOnly := ScoreInput{MoodScores: []float64{6}}
	if got := Score(moodOnly); !near(got, 60) {
		t.Errorf("mood-only Score = %v, want 60", got)
	}
}

func TestScoreMeditationRatioCapsAtTarget(t *testing.T) {
	exact := ScoreInput{WeeklyMeditationMinutes: intPtr(60)}
	if got := Score(exact); !near(got, 100) {
		t.Errorf("Score at target = %v, want 100", got)
	}
	over := ScoreInput{WeeklyMeditationMinutes: intPtr(240)}
	if got := Score(over); !near(got, 100) {
		t.Errorf("Score over target = %v, want capped at 100", got)
	}
}

func TestScoreZeroMinutesIsRealData(t *testing.T) {
	in := ScoreInput{
		MoodScores:              []float64{8, 8},
		WeeklyMeditationMinutes: intPtr(0),
	}
	// (80*0.4 + 0*0.3) / 0.7
	want := (80 * 0.4) / 0.7
	if got := Score(in); !near(got, want) {
		t.Errorf("Score = %v, want %v (zero minutes drags the score)", got, want)
	}
}

func TestScoreEmptyInput(t *testing.T) {
	if got := Score(ScoreInput{}); got != 0 {
		t.Errorf("Score of nothing = %v, want 0", got)
	}
}
