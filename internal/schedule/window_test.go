package schedule

import (
	"errors"
	"testing"
	"time"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func mustCompile(t *testing.T, days []string, start, end string) Spec {
	t.Helper()
	s, err := Compile(days, start, end)
	if err != nil {
		t.Fatalf("Compile(%v, %s, %s): %v", days, start, end, err)
	}
	return s
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	c, err := ParseClock("23:15")
	if err != nil {
		t.Fatalf("ParseClock error: %v", err)
	}
	if c.Hour != 23 || c.Minute != 15 || c.String() != "23:15" {
		t.Fatalf("unexpected clock: %+v", c)
	}
	if c, err := ParseClock("7:05"); err != nil || c.Hour != 7 || c.Minute != 5 {
		t.Fatalf("ParseClock(7:05) = %+v, %v", c, err)
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "1230", ""} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCompileDays(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, []string{"Mon", "wed", "FRI"}, "18:00", "19:00")
	for wd, want := range map[time.Weekday]bool{
		time.Monday: true, time.Tuesday: false, time.Wednesday: true,
		time.Thursday: false, time.Friday: true, time.Saturday: false, time.Sunday: false,
	} {
		if s.Matches(wd) != want {
			t.Fatalf("Matches(%v) = %v, want %v", wd, !want, want)
		}
	}

	r := mustCompile(t, []string{"Mon-Fri"}, "06:59", "07:23")
	if !r.Matches(time.Thursday) || r.Matches(time.Sunday) {
		t.Fatal("range Mon-Fri mismatched")
	}
}

func TestCompileRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		days  []string
		start string
		end   string
	}{
		{name: "no days", days: nil, start: "18:00", end: "19:00"},
		{name: "blank days", days: []string{" "}, start: "18:00", end: "19:00"},
		{name: "bad day", days: []string{"Funday"}, start: "18:00", end: "19:00"},
		{name: "bad start", days: []string{"Mon"}, start: "25:00", end: "19:00"},
		{name: "bad end", days: []string{"Mon"}, start: "18:00", end: "x"},
		{name: "empty window", days: []string{"Mon"}, start: "18:00", end: "18:00"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Compile(tt.days, tt.start, tt.end); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveInProgressAndUpcoming(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, []string{"Mon"}, "18:00", "19:00")

	// In progress.
	w, err := Resolve(s, at(1, 18, 30), time.UTC)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !w.Start.Equal(at(1, 18, 0)) || !w.End.Equal(at(1, 19, 0)) {
		t.Fatalf("window = %v", w)
	}
	if !w.Contains(at(1, 18, 30)) {
		t.Fatal("window should contain now")
	}

	// Upcoming later today.
	w, _ = Resolve(s, at(1, 9, 0), time.UTC)
	if !w.Start.Equal(at(1, 18, 0)) {
		t.Fatalf("upcoming window = %v", w)
	}

	// Already ended today: next Monday.
	w, _ = Resolve(s, at(1, 19, 5), time.UTC)
	if !w.Start.Equal(at(8, 18, 0)) || !w.End.Equal(at(8, 19, 0)) {
		t.Fatalf("next week window = %v", w)
	}
	if w.Contains(at(1, 19, 5)) {
		t.Fatal("next week's window must not contain now")
	}

	// End is exclusive.
	w, _ = Resolve(s, at(1, 19, 0), time.UTC)
	if !w.Start.Equal(at(8, 18, 0)) {
		t.Fatalf("window at exact end = %v", w)
	}
}

func TestResolveMidnightCrossing(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, []string{"Tue"}, "23:30", "00:30")
	if !s.CrossesMidnight() || s.Duration() != time.Hour {
		t.Fatalf("CrossesMidnight=%v Duration=%v", s.CrossesMidnight(), s.Duration())
	}

	// Tuesday 23:45.
	w, err := Resolve(s, at(2, 23, 45), time.UTC)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !w.Start.Equal(at(2, 23, 30)) || !w.End.Equal(at(3, 0, 30)) {
		t.Fatalf("window = %v", w)
	}
	if !w.Contains(at(2, 23, 45)) {
		t.Fatal("window should contain Tue 23:45")
	}

	// Wednesday 00:10: the Tuesday occurrence is still running.
	w2, _ := Resolve(s, at(3, 0, 10), time.UTC)
	if !w2.Start.Equal(w.Start) || !w2.End.Equal(w.End) {
		t.Fatalf("window from Wednesday = %v, want %v", w2, w)
	}
	if NeedsRefresh(w, at(3, 0, 10), time.Minute) {
		t.Fatal("in-progress window should not need refresh")
	}

	// Wednesday 00:45: over, next Tuesday.
	w3, _ := Resolve(s, at(3, 0, 45), time.UTC)
	if !w3.Start.Equal(at(9, 23, 30)) || !w3.End.Equal(at(10, 0, 30)) {
		t.Fatalf("window after end = %v", w3)
	}
}

func TestResolveEndAlwaysAfterStart(t *testing.T) {
	t.Parallel()
	// Every crossing schedule on every day of a two-week span.
	for startH := 12; startH < 24; startH += 3 {
		for endH := 0; endH < startH; endH += 4 {
			s := mustCompile(t, []string{"*"}, Clock{startH, 0}.String(), Clock{endH, 30}.String())
			for d := 1; d <= 14; d++ {
				for h := 0; h < 24; h += 5 {
					w, err := Resolve(s, at(d, h, 0), time.UTC)
					if err != nil {
						t.Fatalf("Resolve: %v", err)
					}
					if !w.End.After(w.Start) {
						t.Fatalf("end %v not after start %v", w.End, w.Start)
					}
				}
			}
		}
	}
}

func TestResolveTimezone(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("EST", -5*3600)
	s := mustCompile(t, []string{"Mon"}, "18:00", "19:00")

	// Monday 23:30 UTC is Monday 18:30 EST.
	w, err := Resolve(s, at(1, 23, 30), loc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !w.Contains(at(1, 23, 30)) {
		t.Fatalf("window %v should contain 23:30 UTC", w)
	}
}

func TestNeedsRefresh(t *testing.T) {
	t.Parallel()
	w := Window{Start: at(1, 18, 0), End: at(1, 19, 0)}
	grace := time.Minute
	if !NeedsRefresh(Window{}, at(1, 0, 0), grace) {
		t.Fatal("zero window must need refresh")
	}
	if NeedsRefresh(w, at(1, 18, 30), grace) {
		t.Fatal("current window must not need refresh")
	}
	if NeedsRefresh(w, at(1, 19, 0).Add(30*time.Second), grace) {
		t.Fatal("window within grace must not need refresh")
	}
	if !NeedsRefresh(w, at(1, 19, 1), grace) {
		t.Fatal("elapsed window must need refresh")
	}
}

func TestNextStartUsesCron(t *testing.T) {
	t.Parallel()
	s := mustCompile(t, []string{"Mon", "Fri"}, "18:29", "19:01")
	next, err := s.NextStart(at(2, 0, 0), time.UTC)
	if err != nil {
		t.Fatalf("NextStart: %v", err)
	}
	// Tuesday -> Friday 2024-01-05 18:29.
	if !next.Equal(at(5, 18, 29)) {
		t.Fatalf("NextStart = %v", next)
	}
}

func TestErrNoOccurrenceIsSentinel(t *testing.T) {
	t.Parallel()
	// A hand-built spec with no weekday bits can never match.
	s := Spec{Start: Clock{18, 0}, End: Clock{19, 0}}
	if _, err := Resolve(s, at(1, 0, 0), time.UTC); !errors.Is(err, ErrNoOccurrence) {
		t.Fatalf("err = %v, want ErrNoOccurrence", err)
	}
}
