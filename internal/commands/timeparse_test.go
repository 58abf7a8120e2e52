package commands

import (
	"strings"
	"testing"
	"time"
)

// Wednesday 2026-10-14 10:00 UTC.
var now = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func TestParseTime(t *testing.T) {
	t.Parallel()
	day := func(d, h, m int) time.Time { return time.Date(2026, 10, d, h, m, 0, 0, time.UTC) }
	cases := []struct {
		in       string
		want     time.Time
		consumed int
		rolled   bool
	}{
		{"15:30", day(14, 15, 30), 1, false},
		{"9:00", day(15, 9, 0), 1, true},
		{"10:00", day(15, 10, 0), 1, true},
		{"3pm", day(14, 15, 0), 1, false},
		{"3 pm wake up", day(14, 15, 0), 2, false},
		{"3:15PM", day(14, 15, 15), 1, false},
		{"12am", day(15, 0, 0), 1, true},
		{"12pm", day(14, 12, 0), 1, false},
		{"tomorrow 9am", day(15, 9, 0), 2, false},
		{"today 8:00", day(14, 8, 0), 2, false},
		{"in 45m", now.Add(45 * time.Minute), 2, false},
		{"in 1h30m", now.Add(90 * time.Minute), 2, false},
		{"in 2 hours", now.Add(2 * time.Hour), 3, false},
		{"in 1d", now.Add(24 * time.Hour), 2, false},
		{"2026-10-20 07:05", day(20, 7, 5), 2, false},
		{"2026-10-01 07:05", day(1, 7, 5), 2, false},
		{"2026-10-20T08:00:00Z", day(20, 8, 0), 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTime(strings.Fields(tc.in), now, time.UTC)
			if err != nil {
				t.Fatalf("ParseTime(%q): %v", tc.in, err)
			}
			if !got.At.Equal(tc.want) || got.Consumed != tc.consumed || got.Rolled != tc.rolled {
				t.Fatalf("ParseTime(%q) = %v consumed=%d rolled=%v, want %v consumed=%d rolled=%v",
					tc.in, got.At, got.Consumed, got.Rolled, tc.want, tc.consumed, tc.rolled)
			}
		})
	}
}

func TestParseTimeRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "25:00", "13pm", "0am", "abc", "in", "in -5m", "in soon", "15", "10:5", "tomorrow", "2026-10-20"} {
		if _, err := ParseTime(strings.Fields(in), now, time.UTC); err == nil {
			t.Errorf("ParseTime(%q) succeeded", in)
		}
	}
}

func TestParseTimeUsesLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 10:00 UTC is 12:00 in Berlin, so 11:00 already passed there.
	got, err := ParseTime([]string{"11:00"}, now, loc)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC); !got.At.Equal(want) || !got.Rolled {
		t.Fatalf("got %v rolled=%v, want %v rolled", got.At.UTC(), got.Rolled, want)
	}
}

func TestFormatDue(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	if got := formatDue(at, "UTC"); got != "Wed Oct 14 15:30" {
		t.Fatalf("got %q", got)
	}
	if got := formatDue(at, "Not/AZone"); got != "Wed Oct 14 15:30" {
		t.Fatalf("unknown zone: got %q", got)
	}
}
