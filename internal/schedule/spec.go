package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrNoOccurrence is returned when no weekday in the bounded scan matches.
	ErrNoOccurrence = errors.New("schedule: no occurrence within scan bound")

	reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

	// Only the day-of-week field is parsed from day labels; cron handles
	// names ("Mon"), ranges ("Mon-Fri"), lists and "*".
	dowParser = cron.NewParser(cron.Dow)
)

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses "HH:MM" (00:00 .. 23:59).
func ParseClock(s string) (Clock, error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return Clock{}, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	hh := int(m[1][0] - '0')
	if len(m[1]) == 2 {
		hh = hh*10 + int(m[1][1]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hh > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	if mm > 59 {
		return Clock{}, fmt.Errorf("invalid minutes in %q", s)
	}
	return Clock{Hour: hh, Minute: mm}, nil
}

// Spec is a compiled weekly recording schedule.
type Spec struct {
	Days  []string
	Start Clock
	End   Clock

	dow uint64 // bit n set => time.Weekday(n) matches
}

// Compile validates day labels and clock times.
//
// End before Start means the window crosses midnight. End equal to Start is
// rejected because the resulting window would be empty.
func Compile(days []string, start, end string) (Spec, error) {
	labels := make([]string, 0, len(days))
	for _, d := range days {
		if d = strings.TrimSpace(d); d != "" {
			labels = append(labels, d)
		}
	}
	if len(labels) == 0 {
		return Spec{}, errors.New("schedule: at least one day is required")
	}

	parsed, err := dowParser.Parse(strings.Join(labels, ","))
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: days %v: %w", labels, err)
	}
	ss, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Spec{}, fmt.Errorf("schedule: days %v: unexpected schedule type %T", labels, parsed)
	}

	st, err := ParseClock(start)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: start: %w", err)
	}
	en, err := ParseClock(end)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: end: %w", err)
	}
	if st == en {
		return Spec{}, fmt.Errorf("schedule: start and end are both %s", st)
	}

	return Spec{Days: labels, Start: st, End: en, dow: ss.Dow}, nil
}

// Matches reports whether wd is one of the scheduled weekdays.
func (s Spec) Matches(wd time.Weekday) bool {
	return s.dow&(1<<uint(wd)) != 0
}

// CrossesMidnight reports whether the window ends on the following day.
func (s Spec) CrossesMidnight() bool { return s.End.minutes() < s.Start.minutes() }

// Duration is the nominal window length (ignoring DST shifts).
func (s Spec) Duration() time.Duration {
	d := s.End.minutes() - s.Start.minutes()
	if d < 0 {
		d += 24 * 60
	}
	return time.Duration(d) * time.Minute
}

// Cron returns the standard cron expression firing at each window start.
func (s Spec) Cron() string {
	return fmt.Sprintf("%d %d * * %s", s.Start.Minute, s.Start.Hour, strings.Join(s.Days, ","))
}

// NextStart returns the first window start strictly after t in loc.
func (s Spec) NextStart(t time.Time, loc *time.Location) (time.Time, error) {
	sched, err := cron.ParseStandard(s.Cron())
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return sched.Next(t.In(loc)), nil
}
