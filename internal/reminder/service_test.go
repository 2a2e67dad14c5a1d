package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMsg
	failFor map[int64]bool
}

func (f *fakeNotifier) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text})
	if f.failFor[chatID] {
		return errors.New("transport down")
	}
	return nil
}

func (f *fakeNotifier) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func newEngine(t *testing.T) (*Service, *storage.Store, *fakeNotifier) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Path: filepath.Join(t.TempDir(), "bot.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sched := scheduler.New(scheduler.Config{Workers: 2, QueueSize: 16}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		sched.Stop(stopCtx)
		stopCancel()
		cancel()
	})

	notif := &fakeNotifier{failFor: map[int64]bool{}}
	svc := NewService(st, sched, notif, logx.Nop())
	return svc, st, notif
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCreateDeliversExactlyOnce(t *testing.T) {
	svc, st, notif := newEngine(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, 100, time.Now().Add(30*time.Millisecond), "drink water")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d, want > 0", id)
	}

	waitFor(t, 2*time.Second, func() bool { return len(notif.messages()) == 1 })

	got := notif.messages()[0]
	if got.chatID != 100 || got.text != "Reminder: drink water" {
		t.Fatalf("sent = %+v", got)
	}

	// The row must be spent and recorded.
	waitFor(t, 2*time.Second, func() bool {
		pending, err := st.LoadAllPending(ctx)
		return err == nil && len(pending) == 0
	})
	waitFor(t, 2*time.Second, func() bool {
		delivered, failed, err := st.HistoryCounts(ctx)
		return err == nil && delivered == 1 && failed == 0
	})

	time.Sleep(80 * time.Millisecond)
	if n := len(notif.messages()); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newEngine(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name string
		due  time.Time
		text string
	}{
		{name: "empty text", due: future, text: "   "},
		{name: "too long", due: future, text: strings.Repeat("x", 513)},
		{name: "past due", due: time.Now().Add(-time.Minute), text: "late"},
		{name: "too far ahead", due: time.Now().Add(370 * 24 * time.Hour), text: "far"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, 1, tc.due, tc.text)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCancelBeforeFire(t *testing.T) {
	svc, st, notif := newEngine(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, 5, time.Now().Add(150*time.Millisecond), "never happens")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := svc.Cancel(ctx, 5, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !removed {
		t.Fatal("cancel = false, want true")
	}

	time.Sleep(300 * time.Millisecond)
	if n := len(notif.messages()); n != 0 {
		t.Fatalf("sent %d messages after cancel, want 0", n)
	}
	pending, err := st.LoadAllPending(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(pending))
	}
}

func TestCancelWrongChatOrGoneID(t *testing.T) {
	svc, _, _ := newEngine(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, 5, time.Now().Add(time.Hour), "mine")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := svc.Cancel(ctx, 6, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if removed {
		t.Fatal("foreign chat cancelled the reminder")
	}
	removed, err = svc.Cancel(ctx, 5, id+1000)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if removed {
		t.Fatal("unknown id reported as cancelled")
	}
}

func TestRestoreRearmsAndCatchesUp(t *testing.T) {
	svc, st, notif := newEngine(t)
	ctx := context.Background()

	// Rows written as if by a previous process: no timers exist for them.
	overdueID, err := st.CreateReminder(ctx, 1, time.Now().Add(-time.Hour), "overdue")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.CreateReminder(ctx, 2, time.Now().Add(time.Hour), "future"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The overdue one is delivered promptly, the future one stays pending.
	waitFor(t, 2*time.Second, func() bool { return len(notif.messages()) == 1 })
	got := notif.messages()[0]
	if got.chatID != 1 || got.text != "Reminder: overdue" {
		t.Fatalf("sent = %+v", got)
	}

	pending, err := st.LoadAllPending(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pending) != 1 || pending[0].Text != "future" {
		t.Fatalf("pending = %+v, want just the future reminder", pending)
	}
	if pending[0].ID == overdueID {
		t.Fatal("overdue row not resolved")
	}
}

func TestDeliverSendFailureStillResolves(t *testing.T) {
	svc, st, notif := newEngine(t)
	ctx := context.Background()
	notif.failFor[9] = true

	if _, err := svc.Create(ctx, 9, time.Now().Add(30*time.Millisecond), "doomed"); err != nil {
		t.Fatalf("create: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, failed, err := st.HistoryCounts(ctx)
		return err == nil && failed == 1
	})

	pending, err := st.LoadAllPending(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pending) != 0 {
		t.Fatal("failed send left the reminder pending")
	}

	// No retry: exactly one attempt.
	time.Sleep(100 * time.Millisecond)
	if n := len(notif.messages()); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	svc, _, notif := newEngine(t)
	ctx := context.Background()

	for _, chat := range []int64{1, 2, 3} {
		if err := svc.Subscribe(ctx, chat); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	notif.failFor[2] = true

	delivered, err := svc.BroadcastNow(ctx, "good morning")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	if n := len(notif.messages()); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
}

func TestBroadcastEmptyText(t *testing.T) {
	svc, _, _ := newEngine(t)
	_, err := svc.BroadcastNow(context.Background(), "  ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestUnsubscribeReportsEnrollment(t *testing.T) {
	svc, _, _ := newEngine(t)
	ctx := context.Background()

	if err := svc.Subscribe(ctx, 11); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	removed, err := svc.Unsubscribe(ctx, 11)
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if !removed {
		t.Fatal("unsubscribe = false, want true")
	}
	removed, err = svc.Unsubscribe(ctx, 11)
	if err != nil {
		t.Fatalf("unsubscribe again: %v", err)
	}
	if removed {
		t.Fatal("second unsubscribe = true, want false")
	}
}
