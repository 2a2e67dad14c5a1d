package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (or creates) the database, applies pragmas and migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Reminders ----

// CreateReminder inserts a pending reminder and returns its id.
func (s *Store) CreateReminder(ctx context.Context, chatID int64, dueAt time.Time, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(chat_id, due_at, due_unix, text) VALUES(?,?,?,?)`,
		chatID, dueAt.Format(time.RFC3339), dueAt.Unix(), text,
	)
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return id, nil
}

// ListReminders returns the chat's pending reminders, soonest first.
func (s *Store) ListReminders(ctx context.Context, chatID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, due_at, text FROM reminders
		 WHERE chat_id = ? ORDER BY due_unix ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// LoadAllPending returns every pending reminder (recovery path).
func (s *Store) LoadAllPending(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, due_at, text FROM reminders ORDER BY due_unix ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var (
			r   Reminder
			due string
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &due, &r.Text); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, due)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: bad due_at %q: %w", r.ID, due, err)
		}
		r.DueAt = t
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimAndDelete atomically resolves a reminder. It reports whether the row
// still existed; whichever caller (firing timer or cancel command) gets true
// owns the outcome, the other sees false.
func (s *Store) ClaimAndDelete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("claim reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteIfExists is the cancel-path variant of ClaimAndDelete: the same
// atomic delete, additionally scoped to the owning chat so a user cannot
// cancel someone else's reminder.
func (s *Store) DeleteIfExists(ctx context.Context, chatID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, fmt.Errorf("cancel reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- Subscribers ----

// AddSubscriber enrolls a chat in the daily digest. Idempotent.
func (s *Store) AddSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id) VALUES(?) ON CONFLICT(chat_id) DO NOTHING`, chatID)
	if err != nil {
		return fmt.Errorf("add subscriber: %w", err)
	}
	return nil
}

// RemoveSubscriber unenrolls a chat. Reports whether it was enrolled.
func (s *Store) RemoveSubscriber(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("remove subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- History ----

// AppendHistory records a resolved reminder. Best-effort from the caller's
// point of view; a failed append never un-resolves the reminder.
func (s *Store) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.ResolvedAt.IsZero() {
		e.ResolvedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(reminder_id, chat_id, due_at, text, resolved_at, outcome)
		 VALUES(?,?,?,?,?,?)`,
		e.ReminderID, e.ChatID, e.DueAt.Format(time.RFC3339), e.Text,
		e.ResolvedAt.Format(time.RFC3339Nano), e.Outcome,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// HistoryCounts returns totals per outcome for operational reporting.
func (s *Store) HistoryCounts(ctx context.Context) (delivered, failed int64, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM history GROUP BY outcome`)
	if err != nil {
		return 0, 0, fmt.Errorf("history counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return 0, 0, err
		}
		switch outcome {
		case OutcomeDelivered:
			delivered = n
		case OutcomeSendFailed:
			failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	return delivered, failed, nil
}
