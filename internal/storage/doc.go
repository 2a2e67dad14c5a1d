// Package storage is the durable source of truth for pending reminders and
// digest subscribers.
//
// A reminder row exists exactly while the reminder is pending: delivery and
// cancellation both resolve it by deleting the row in a single atomic
// statement (ClaimAndDelete), which is the only concurrency-control
// primitive the callers rely on. Resolved reminders optionally leave an
// append-only trace in the history table.
package storage
