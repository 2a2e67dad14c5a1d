package digest

import "time"

// Spec is the daily trigger: a wall-clock time in a fixed timezone.
// Process-wide configuration, not persisted per subscriber.
type Spec struct {
	Hour   int
	Minute int
	Loc    *time.Location
}

// NextOccurrence returns the next instant the trigger fires, strictly
// after now. The date arithmetic happens in the trigger's location, so a DST
// transition shifts the UTC instant rather than the local wall-clock time:
// an 08:00 trigger fires at 08:00 local on both sides of the changeover.
// A trigger time that falls inside the spring-forward gap is normalized
// forward by the location rules and still fires exactly once.
func NextOccurrence(now time.Time, spec Spec) time.Time {
	loc := spec.Loc
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), spec.Hour, spec.Minute, 0, 0, loc)
	if !next.After(local) {
		// Today's trigger already passed: tomorrow. AddDate keeps the
		// local date stable across a DST boundary.
		d := local.AddDate(0, 0, 1)
		next = time.Date(d.Year(), d.Month(), d.Day(), spec.Hour, spec.Minute, 0, 0, loc)
	}
	return next
}
