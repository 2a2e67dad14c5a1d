package digest

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeBroadcaster) BroadcastNow(_ context.Context, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return 1, nil
}

func (f *fakeBroadcaster) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func testConfig(enabled bool) Config {
	return Config{
		Enabled: enabled,
		Spec:    Spec{Hour: 8, Minute: 0, Loc: time.UTC},
		Text:    "good morning",
	}
}

func TestStartArmsOneTrigger(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	m := New(testConfig(true), sched, &fakeBroadcaster{}, logx.Nop())

	m.Start()
	if got := sched.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}

	m.Stop()
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending after stop = %d, want 0", got)
	}
}

func TestStartDisabledArmsNothing(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	m := New(testConfig(false), sched, &fakeBroadcaster{}, logx.Nop())

	m.Start()
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending = %d, want 0", got)
	}
}

func TestFireBroadcastsAndRearms(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	out := &fakeBroadcaster{}
	m := New(testConfig(true), sched, out, logx.Nop())

	if err := m.fire(context.Background()); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got := out.calls(); len(got) != 1 || got[0] != "good morning" {
		t.Fatalf("calls = %v", got)
	}
	// The next occurrence must already be armed.
	if got := sched.Pending(); got != 1 {
		t.Fatalf("Pending after fire = %d, want 1", got)
	}
}

func TestApplyTogglesTrigger(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	out := &fakeBroadcaster{}
	m := New(testConfig(true), sched, out, logx.Nop())
	m.Start()

	m.Apply(testConfig(false))
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending after disable = %d, want 0", got)
	}

	// Firing while disabled does nothing and arms nothing.
	if err := m.fire(context.Background()); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got := out.calls(); len(got) != 0 {
		t.Fatalf("calls while disabled = %v", got)
	}
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending = %d, want 0", got)
	}

	m.Apply(testConfig(true))
	if got := sched.Pending(); got != 1 {
		t.Fatalf("Pending after re-enable = %d, want 1", got)
	}
}
