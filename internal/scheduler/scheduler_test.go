package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Workers: 2, QueueSize: 16}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Stop(stopCtx)
		stopCancel()
		cancel()
	})
	return s
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

func TestArmFiresOnce(t *testing.T) {
	s := newTestService(t)

	var fired int32
	err := s.Arm("job", time.Now().Add(20*time.Millisecond), func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&fired) == 1 })

	// Give a replaced/second callback a chance to misbehave.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d after fire, want 0", s.Pending())
	}
}

func TestArmPastDueFiresImmediately(t *testing.T) {
	s := newTestService(t)

	var fired int32
	if err := s.Arm("overdue", time.Now().Add(-time.Hour), func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&fired) == 1 })
}

func TestDisarmPreventsFiring(t *testing.T) {
	s := newTestService(t)

	var fired int32
	if err := s.Arm("job", time.Now().Add(40*time.Millisecond), func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !s.Disarm("job") {
		t.Fatal("Disarm = false, want true")
	}
	if s.Disarm("job") {
		t.Fatal("second Disarm = true, want false")
	}

	time.Sleep(120 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times after disarm, want 0", n)
	}
}

func TestRearmReplacesPreviousTrigger(t *testing.T) {
	s := newTestService(t)

	var first, second int32
	if err := s.Arm("job", time.Now().Add(30*time.Millisecond), func(context.Context) error {
		atomic.AddInt32(&first, 1)
		return nil
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := s.Arm("job", time.Now().Add(60*time.Millisecond), func(context.Context) error {
		atomic.AddInt32(&second, 1)
		return nil
	}); err != nil {
		t.Fatalf("re-Arm: %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&second) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&first); n != 0 {
		t.Fatalf("replaced job fired %d times, want 0", n)
	}
}

func TestArmValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if err := s.Arm("", time.Now(), job); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Arm("x", time.Time{}, job); err == nil {
		t.Fatal("zero instant accepted")
	}
	if err := s.Arm("x", time.Now(), nil); err == nil {
		t.Fatal("nil job accepted")
	}
}

func TestStopDropsArmedEntries(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var fired int32
	_ = s.Arm("job", time.Now().Add(50*time.Millisecond), func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	s.Stop(stopCtx)
	stopCancel()

	if s.Pending() != 0 {
		t.Fatalf("Pending = %d after stop, want 0", s.Pending())
	}
	time.Sleep(120 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times after stop, want 0", n)
	}
}
