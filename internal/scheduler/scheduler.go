package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers        int           // default 2
	QueueSize      int           // default 256
	DefaultTimeout time.Duration // per-job timeout; 0 disables
}

type task struct {
	name    string
	dueAt   time.Time
	timeout time.Duration
	run     func(ctx context.Context) error
}

// entry is one armed timer. ver makes callbacks from replaced timers inert.
type entry struct {
	at    time.Time
	job   func(ctx context.Context) error
	ver   uint64
	timer *time.Timer
}

// Service owns all active one-shot timers for the process lifetime.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	queue  chan task
	stopCh chan struct{}
	sup    *supervisor.Supervisor

	tmu     sync.Mutex
	entries map[string]*entry
	vers    map[string]uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		entries: map[string]*entry{},
		vers:    map[string]uint64{},
	}
}

// Start spins up the worker pool. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, s.cfg.QueueSize)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler"))))

	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.sup.Go0(workerName(idx), func(c context.Context) {
			s.worker(c, s.stopCh, s.queue)
		})
	}
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop stops all timers and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	s.tmu.Lock()
	for name, e := range s.entries {
		if e.timer != nil {
			_ = e.timer.Stop()
		}
		delete(s.entries, name)
	}
	s.tmu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("scheduler stopped")
}

// Arm registers (or replaces) a one-shot trigger. A due instant at or
// before now fires immediately. The job runs exactly once on a worker,
// never on the arming goroutine.
func (s *Service) Arm(name string, at time.Time, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("due instant required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if prev, ok := s.entries[name]; ok && prev.timer != nil {
		_ = prev.timer.Stop()
	}
	ver := s.vers[name] + 1
	s.vers[name] = ver

	e := &entry{at: at, job: job, ver: ver}
	s.entries[name] = e

	// Monotonic delay: immune to wall-clock steps between now and firing.
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(name, ver) })
	return nil
}

// Disarm drops a still-pending trigger. It has no effect on a callback
// that already started; it reports whether an armed entry was removed.
func (s *Service) Disarm(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if e.timer != nil {
		_ = e.timer.Stop()
	}
	delete(s.entries, name)
	s.vers[name] = e.ver + 1
	return true
}

// Pending reports the number of armed entries.
func (s *Service) Pending() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.entries)
}

// fire runs in the timer goroutine: validate the entry is still current,
// remove it, and hand the job to the pool. Bookkeeping only, no job code.
func (s *Service) fire(name string, ver uint64) {
	s.tmu.Lock()
	e, ok := s.entries[name]
	if !ok || e.ver != ver {
		// replaced or disarmed between the timer firing and this callback
		s.tmu.Unlock()
		return
	}
	delete(s.entries, name)
	s.tmu.Unlock()

	s.mu.Lock()
	queue := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	if queue == nil {
		s.log.Warn("scheduler not running; dropping trigger", logx.String("name", name))
		return
	}

	t := task{name: name, dueAt: e.at, timeout: s.cfg.DefaultTimeout, run: e.job}
	// Block rather than drop: a lost trigger is worse than a late one.
	// The stop channel bounds the wait during shutdown.
	select {
	case queue <- t:
	case <-stopCh:
		s.log.Warn("scheduler stopping; trigger not enqueued", logx.String("name", name))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	err := t.run(runCtx)
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	lateBy := start.Sub(t.dueAt)
	if err != nil {
		s.log.Warn("trigger failed",
			logx.String("name", t.name), logx.Err(err),
			logx.Duration("dur", dur), logx.Duration("late_by", lateBy))
		return
	}
	s.log.Debug("trigger completed",
		logx.String("name", t.name),
		logx.Duration("dur", dur), logx.Duration("late_by", lateBy))
}

func workerName(i int) string {
	return fmt.Sprintf("worker.%d", i)
}
