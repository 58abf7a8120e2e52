package alarm

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var repeatParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// repeatSpec builds a cron spec that fires at the wall-clock time of due in
// loc, every day or on the same weekday.
func repeatSpec(rep Repeat, due time.Time, loc *time.Location) (string, error) {
	local := due.In(loc)
	dow := "*"
	switch rep {
	case RepeatDaily:
	case RepeatWeekly:
		dow = fmt.Sprintf("%d", int(local.Weekday()))
	default:
		return "", Errorf(CodeInvalidArgument, "alarm does not repeat")
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d %d * * %s", loc.String(), local.Second(), local.Minute(), local.Hour(), dow), nil
}

// NextOccurrence returns the first occurrence of a repeating record strictly
// after now, keeping the original wall-clock time in the record's timezone.
// DST gaps are resolved the way robfig/cron resolves them.
func NextOccurrence(r Record, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, wrap(CodeInvalidTimezone, err, "record timezone %q", r.Timezone)
	}
	spec, err := repeatSpec(r.Repeat, r.DueAt, loc)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := repeatParser.Parse(spec)
	if err != nil {
		return time.Time{}, wrap(CodeInternal, err, "parse repeat spec %q", spec)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, Errorf(CodeInternal, "no next occurrence for %s", spec)
	}
	return next.UTC(), nil
}
