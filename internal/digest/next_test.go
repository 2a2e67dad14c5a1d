package digest

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load tz %s: %v", name, err)
	}
	return loc
}

func TestNextOccurrenceToday(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, time.June, 10, 6, 15, 0, 0, loc)

	next := NextOccurrence(now, Spec{Hour: 8, Minute: 0, Loc: loc})

	want := time.Date(2025, time.June, 10, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrenceRollsToTomorrow(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, time.June, 10, 8, 0, 1, 0, loc)

	next := NextOccurrence(now, Spec{Hour: 8, Minute: 0, Loc: loc})

	want := time.Date(2025, time.June, 11, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrenceExactlyAtTriggerIsTomorrow(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, time.June, 10, 8, 0, 0, 0, loc)

	next := NextOccurrence(now, Spec{Hour: 8, Minute: 0, Loc: loc})

	if !next.After(now) {
		t.Fatalf("next %v not strictly after now %v", next, now)
	}
	if next.Day() != 11 {
		t.Fatalf("next = %v, want June 11", next)
	}
}

func TestNextOccurrenceSpringForwardShortDay(t *testing.T) {
	t.Parallel()
	// Berlin loses an hour on 2025-03-30 (02:00 -> 03:00).
	loc := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, time.March, 29, 8, 30, 0, 0, loc)

	next := NextOccurrence(now, Spec{Hour: 8, Minute: 0, Loc: loc})

	local := next.In(loc)
	if local.Hour() != 8 || local.Minute() != 0 || local.Day() != 30 {
		t.Fatalf("next local = %v, want Mar 30 08:00", local)
	}
	// The day is 23h long, so the real gap is one hour shorter.
	if got, want := next.Sub(now), 22*time.Hour+30*time.Minute; got != want {
		t.Fatalf("gap = %v, want %v", got, want)
	}
}

func TestNextOccurrenceFallBackLongDay(t *testing.T) {
	t.Parallel()
	// Berlin gains an hour on 2025-10-26 (03:00 -> 02:00).
	loc := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, time.October, 25, 8, 30, 0, 0, loc)

	next := NextOccurrence(now, Spec{Hour: 8, Minute: 0, Loc: loc})

	local := next.In(loc)
	if local.Hour() != 8 || local.Minute() != 0 || local.Day() != 26 {
		t.Fatalf("next local = %v, want Oct 26 08:00", local)
	}
	if got, want := next.Sub(now), 24*time.Hour+30*time.Minute; got != want {
		t.Fatalf("gap = %v, want %v", got, want)
	}
}

func TestNextOccurrenceNilLocationDefaultsLocal(t *testing.T) {
	t.Parallel()
	now := time.Now()
	next := NextOccurrence(now, Spec{Hour: 12, Minute: 30})
	if !next.After(now) {
		t.Fatalf("next %v not after now %v", next, now)
	}
	local := next.In(time.Local)
	if local.Hour() != 12 || local.Minute() != 30 {
		t.Fatalf("next local = %v, want 12:30 wall clock", local)
	}
}
