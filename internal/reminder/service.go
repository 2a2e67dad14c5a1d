// Package reminder implements the scheduling and delivery engine: creating,
// listing and cancelling one-shot reminders, recovering the timer index
// after a restart, and the claim-then-send delivery path that resolves the
// cancel/fire race through the store's atomic delete.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Notifier is the outbound transport boundary. A failed Send is terminal
// for that attempt; the engine never retries.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

const (
	maxTextRunes = 512
	maxHorizon   = 365 * 24 * time.Hour
)

// Service wires the store, the timer index and the notifier together.
type Service struct {
	store *storage.Store
	sched *scheduler.Service
	out   Notifier
	log   logx.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(store *storage.Store, sched *scheduler.Service, out Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		sched: sched,
		out:   out,
		log:   log,
		now:   time.Now,
	}
}

func timerKey(id int64) string { return fmt.Sprintf("reminder:%d", id) }

// Create validates input, persists the reminder, then arms its timer.
// The store write happens first: if it fails, no timer exists and the
// pending-rows ⇔ armed-timers invariant is preserved.
func (s *Service) Create(ctx context.Context, chatID int64, dueAt time.Time, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: reminder text is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return 0, fmt.Errorf("%w: reminder text exceeds %d characters", ErrInvalidInput, maxTextRunes)
	}
	now := s.now()
	if !dueAt.After(now) {
		return 0, fmt.Errorf("%w: due time %s is in the past", ErrInvalidInput, dueAt.Format(time.RFC3339))
	}
	if dueAt.Sub(now) > maxHorizon {
		return 0, fmt.Errorf("%w: due time is more than a year ahead", ErrInvalidInput)
	}

	id, err := s.store.CreateReminder(ctx, chatID, dueAt, text)
	if err != nil {
		return 0, err
	}
	if err := s.arm(id, chatID, dueAt, text); err != nil {
		// The row exists but no timer does; recovery on next start will
		// re-arm it. Surface the create as successful anyway.
		s.log.Error("arm after create failed", logx.Int64("id", id), logx.Err(err))
	}
	s.log.Info("reminder created",
		logx.Int64("id", id), logx.Int64("chat", chatID), logx.Time("due", dueAt))
	return id, nil
}

// List returns the chat's pending reminders, soonest first.
func (s *Service) List(ctx context.Context, chatID int64) ([]storage.Reminder, error) {
	return s.store.ListReminders(ctx, chatID)
}

// Cancel resolves the reminder through the same atomic delete the delivery
// path uses; whichever side deletes first wins. Losing the race is a
// normal "not found", never an error.
func (s *Service) Cancel(ctx context.Context, chatID, id int64) (bool, error) {
	found, err := s.store.DeleteIfExists(ctx, chatID, id)
	if err != nil {
		return false, err
	}
	if found {
		// Best-effort: a timer that already started firing will lose the
		// claim against the now-deleted row and do nothing.
		s.sched.Disarm(timerKey(id))
		s.log.Info("reminder cancelled", logx.Int64("id", id), logx.Int64("chat", chatID))
	}
	return found, nil
}

// Restore re-arms every pending reminder after a restart. Overdue rows are
// armed with an elapsed due instant, which fires them immediately:
// catch-up delivery, a late reminder beats a silently dropped one.
// Must run exactly once, before command handling begins.
func (s *Service) Restore(ctx context.Context) error {
	pending, err := s.store.LoadAllPending(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	now := s.now()
	overdue := 0
	for _, r := range pending {
		if !r.DueAt.After(now) {
			overdue++
		}
		if err := s.arm(r.ID, r.ChatID, r.DueAt, r.Text); err != nil {
			return fmt.Errorf("recovery: arm reminder %d: %w", r.ID, err)
		}
	}
	s.log.Info("recovery complete",
		logx.Int("pending", len(pending)), logx.Int("overdue", overdue))
	return nil
}

func (s *Service) arm(id, chatID int64, dueAt time.Time, text string) error {
	return s.sched.Arm(timerKey(id), dueAt, func(ctx context.Context) error {
		return s.deliver(ctx, id, chatID, dueAt, text)
	})
}

// deliver is the firing path. The claim decides everything: if the row is
// gone (cancelled, or fired by a concurrent path) this is a no-op. Once
// claimed, the reminder is spent regardless of transport outcome; a failed
// send is logged and recorded, never retried.
func (s *Service) deliver(ctx context.Context, id, chatID int64, dueAt time.Time, text string) error {
	claimed, err := s.store.ClaimAndDelete(ctx, id)
	if err != nil {
		return fmt.Errorf("claim reminder %d: %w", id, err)
	}
	if !claimed {
		s.log.Debug("reminder already resolved", logx.Int64("id", id))
		return nil
	}

	entry := storage.HistoryEntry{
		ReminderID: id,
		ChatID:     chatID,
		DueAt:      dueAt,
		Text:       text,
		ResolvedAt: s.now(),
		Outcome:    storage.OutcomeDelivered,
	}
	if err := s.out.Send(ctx, chatID, "Reminder: "+text); err != nil {
		entry.Outcome = storage.OutcomeSendFailed
		s.log.Warn("reminder send failed",
			logx.Int64("id", id), logx.Int64("chat", chatID), logx.Err(err))
	} else {
		s.log.Info("reminder delivered", logx.Int64("id", id), logx.Int64("chat", chatID))
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.log.Warn("history append failed", logx.Int64("id", id), logx.Err(err))
	}
	return nil
}

// ---- Subscribers / broadcast ----

// Subscribe enrolls the chat in the daily digest. Idempotent.
func (s *Service) Subscribe(ctx context.Context, chatID int64) error {
	return s.store.AddSubscriber(ctx, chatID)
}

// Unsubscribe reports whether the chat was enrolled.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	return s.store.RemoveSubscriber(ctx, chatID)
}

// BroadcastNow sends text to every current subscriber, immediately and
// outside any schedule. One failing recipient never aborts the rest.
// Returns the number of successful sends.
func (s *Service) BroadcastNow(ctx context.Context, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: broadcast text is empty", ErrInvalidInput)
	}
	subs, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, chatID := range subs {
		if err := s.out.Send(ctx, chatID, text); err != nil {
			s.log.Warn("broadcast send failed", logx.Int64("chat", chatID), logx.Err(err))
			continue
		}
		delivered++
	}
	s.log.Info("broadcast done", logx.Int("subscribers", len(subs)), logx.Int("delivered", delivered))
	return delivered, nil
}

// HistoryCounts exposes delivery totals for operational commands.
func (s *Service) HistoryCounts(ctx context.Context) (delivered, failed int64, err error) {
	return s.store.HistoryCounts(ctx)
}
