package commands

import (
	"strconv"
	"strings"
	"time"

	"alarmbot/internal/alarm"
)

// ParsedTime is the result of ParseTime.
type ParsedTime struct {
	At       time.Time
	Consumed int  // tokens used by the expression
	Rolled   bool // a bare clock time was moved to tomorrow
}

// TimeExamples is shown when an expression cannot be parsed.
const TimeExamples = "Invalid time format. Try: '3pm', '15:30', 'tomorrow 9am', 'in 45m' or '2026-10-15 09:00'"

// ParseTime reads a time expression from the start of tokens, interpreting
// wall-clock values in loc.
//
// A clock time without a date that resolves at or before now moves forward
// one day. Explicit dates and relative offsets are never rolled.
func ParseTime(tokens []string, now time.Time, loc *time.Location) (ParsedTime, error) {
	if len(tokens) == 0 {
		return ParsedTime{}, alarm.Errorf(alarm.CodeInvalidTime, "time required")
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	first := strings.ToLower(tokens[0])

	if t, err := time.Parse(time.RFC3339, tokens[0]); err == nil {
		return ParsedTime{At: t, Consumed: 1}, nil
	}

	if first == "in" {
		d, n, ok := parseOffset(tokens[1:])
		if !ok {
			return ParsedTime{}, invalidTime(tokens)
		}
		return ParsedTime{At: now.Add(d), Consumed: 1 + n}, nil
	}

	if first == "today" || first == "tomorrow" {
		h, m, n, ok := parseClock(tokens[1:])
		if !ok {
			return ParsedTime{}, invalidTime(tokens)
		}
		days := 0
		if first == "tomorrow" {
			days = 1
		}
		y, mo, d := now.Date()
		return ParsedTime{At: time.Date(y, mo, d+days, h, m, 0, 0, loc), Consumed: 1 + n}, nil
	}

	if day, err := time.ParseInLocation("2006-01-02", tokens[0], loc); err == nil {
		h, m, n, ok := parseClock(tokens[1:])
		if !ok {
			return ParsedTime{}, invalidTime(tokens)
		}
		y, mo, d := day.Date()
		return ParsedTime{At: time.Date(y, mo, d, h, m, 0, 0, loc), Consumed: 1 + n}, nil
	}

	h, m, n, ok := parseClock(tokens)
	if !ok {
		return ParsedTime{}, invalidTime(tokens)
	}
	y, mo, d := now.Date()
	at := time.Date(y, mo, d, h, m, 0, 0, loc)
	if !at.After(now) {
		return ParsedTime{At: time.Date(y, mo, d+1, h, m, 0, 0, loc), Consumed: n, Rolled: true}, nil
	}
	return ParsedTime{At: at, Consumed: n}, nil
}

func invalidTime(tokens []string) error {
	return alarm.Errorf(alarm.CodeInvalidTime, "unrecognized time %q", strings.Join(tokens[:min(len(tokens), 3)], " "))
}

// parseClock accepts "15:30", "9:05", "3pm", "3:15pm" and "3 pm".
func parseClock(tokens []string) (hour, minute, consumed int, ok bool) {
	if len(tokens) == 0 {
		return 0, 0, 0, false
	}
	s := strings.ToLower(tokens[0])
	consumed = 1
	if len(tokens) > 1 {
		if next := strings.ToLower(tokens[1]); next == "am" || next == "pm" {
			s += next
			consumed = 2
		}
	}

	meridiem := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		meridiem = s[len(s)-2:]
		s = s[:len(s)-2]
	}

	hs, ms, hasMin := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hs)
	if err != nil || len(hs) == 0 || len(hs) > 2 {
		return 0, 0, 0, false
	}
	if hasMin {
		if len(ms) != 2 {
			return 0, 0, 0, false
		}
		if minute, err = strconv.Atoi(ms); err != nil || minute < 0 || minute > 59 {
			return 0, 0, 0, false
		}
	} else if meridiem == "" {
		// A bare number is not a clock time.
		return 0, 0, 0, false
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return 0, 0, 0, false
		}
	default:
		if hour < 1 || hour > 12 {
			return 0, 0, 0, false
		}
		hour %= 12
		if meridiem == "pm" {
			hour += 12
		}
	}
	return hour, minute, consumed, true
}

// parseOffset accepts "45m", "1h30m", "2d", "90 minutes", "2 hours".
func parseOffset(tokens []string) (time.Duration, int, bool) {
	if len(tokens) == 0 {
		return 0, 0, false
	}
	s := strings.ToLower(tokens[0])
	if d, ok := parseDurationDays(s); ok {
		return d, 1, d > 0
	}
	if len(tokens) < 2 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, 0, false
	}
	var unit time.Duration
	switch strings.ToLower(tokens[1]) {
	case "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		return 0, 0, false
	}
	return time.Duration(n) * unit, 2, true
}

// parseDurationDays is time.ParseDuration plus a leading "<n>d" part.
func parseDurationDays(s string) (time.Duration, bool) {
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil || n < 0 {
			return 0, false
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return days, true
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return days + d, true
}

// DisplayFormat renders due times in listings and confirmations.
const DisplayFormat = "Mon Jan 02 15:04"

func formatDue(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayFormat)
}
