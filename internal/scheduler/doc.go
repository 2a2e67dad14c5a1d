// Package scheduler holds the in-memory timer index for pending triggers.
//
// # Model
//
// Each armed entry is a one-shot timer keyed by a stable name (e.g.
// "reminder:42"). Arming is an upsert: re-arming a name replaces the
// previous timer, and a version counter makes callbacks from replaced
// timers inert. There is no polling loop; the process sleeps until the
// next deadline, so idle cost is proportional to the number of pending
// entries, not to wall-clock time.
//
// # Firing
//
// A fired timer only enqueues its job; the actual work runs on a small
// worker pool so slow delivery never blocks timer bookkeeping. Delay is
// computed once at arm time from the monotonic clock (time.Until), which
// keeps firings stable across wall-clock adjustments; eligibility ("is
// this due?") stays a wall-clock question answered by the caller.
//
// # Disarm
//
// Disarm is best-effort: it stops a timer that has not fired yet, but a
// callback already in flight proceeds. Callers that need a hard decision
// resolve the race downstream against durable state, not here.
package scheduler
