package schedule

import (
	"fmt"
	"time"
)

// MaxScanDays bounds the day-by-day search in Resolve.
const MaxScanDays = 8

// Window is an absolute [Start, End) recording range.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// Contains reports whether t is in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !w.IsZero() && !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	if w.IsZero() {
		return "unresolved"
	}
	const layout = "Mon Jan 02 15:04 MST"
	return fmt.Sprintf("%s -> %s", w.Start.Format(layout), w.End.Format(layout))
}

// NeedsRefresh reports whether a previously resolved window has fully
// elapsed, including grace. Unresolved windows always need a refresh.
func NeedsRefresh(w Window, now time.Time, grace time.Duration) bool {
	if w.IsZero() {
		return true
	}
	return !now.Before(w.End.Add(grace))
}

// Resolve returns the occurrence of spec that is either in progress at now
// or is the soonest upcoming one.
//
// The scan starts at the most recent midnight in loc and walks forward one
// calendar day at a time for at most MaxScanDays days. Windows that cross
// midnight start the scan one day earlier so that an occurrence begun
// yesterday and still running is found.
func Resolve(spec Spec, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()

	first := 0
	if spec.CrossesMidnight() {
		first = -1
	}
	for i := first; i < first+MaxScanDays; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if !spec.Matches(day.Weekday()) {
			continue
		}
		start := time.Date(y, m, d+i, spec.Start.Hour, spec.Start.Minute, 0, 0, loc)
		end := time.Date(y, m, d+i, spec.End.Hour, spec.End.Minute, 0, 0, loc)
		if spec.CrossesMidnight() {
			end = time.Date(y, m, d+i+1, spec.End.Hour, spec.End.Minute, 0, 0, loc)
		}
		if !end.After(start) {
			// DST gap swallowed the whole window; try the next match.
			continue
		}
		if now.Before(end) {
			return Window{Start: start, End: end}, nil
		}
	}
	return Window{}, ErrNoOccurrence
}
