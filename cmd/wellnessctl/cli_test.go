package main

import (
	"reflect"
	"testing"
	"time"
)

func TestSplitList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "blank", raw: "   ", want: nil},
		{name: "single", raw: "sleep", want: []string{"sleep"}},
		{name: "trims_spaces", raw: " sleep , work ", want: []string{"sleep", "work"}},
		{name: "drops_empty_segments", raw: "sleep,,work,", want: []string{"sleep", "work"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitList(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitList(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseWeekdays(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []time.Weekday
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "short_names", raw: "mon,wed,fri", want: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		{name: "full_names", raw: "saturday,sunday", want: []time.Weekday{time.Saturday, time.Sunday}},
		{name: "mixed_case_and_spaces", raw: " Tue , THU ", want: []time.Weekday{time.Tuesday, time.Thursday}},
		{name: "unknown_day", raw: "mon,funday", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseWeekdays(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseWeekdays(%q) err = nil, want error", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWeekdays(%q) err = %v", tc.raw, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseWeekdays(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestCLICommandsRegistered(t *testing.T) {
	a := newCLIApp()
	if a.Name != "wellnessctl" {
		t.Fatalf("app name = %q, want wellnessctl", a.Name)
	}

	want := []string{
		"register", "login", "logout", "whoami",
		"mood", "meditate", "habit",
		"dashboard", "report", "crisis", "watch",
	}
	var got []string
	for _, cmd := range a.Commands {
		got = append(got, cmd.Name)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}

	seen := map[string]bool{}
	for _, cmd := range a.Commands {
		if seen[cmd.Name] {
			t.Fatalf("duplicate command %q", cmd.Name)
		}
		seen[cmd.Name] = true
	}
}
