package storage

import "time"

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Reminder is one pending notification.
type Reminder struct {
	ID     int64
	ChatID int64
	DueAt  time.Time // with original offset
	Text   string
}

// HistoryEntry records a resolved reminder (written after a successful claim).
type HistoryEntry struct {
	ReminderID int64
	ChatID     int64
	DueAt      time.Time
	Text       string
	ResolvedAt time.Time
	Outcome    string // "delivered" or "send_failed"
}

const (
	OutcomeDelivered  = "delivered"
	OutcomeSendFailed = "send_failed"
)
