// Package digest runs the daily broadcast: one self-re-arming trigger that
// fans the configured text out to the live subscriber set.
package digest

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

const timerName = "digest:daily"

// Config for the daily digest.
type Config struct {
	Enabled bool
	Spec    Spec
	Text    string
}

// Broadcaster delivers text to every current subscriber and reports how
// many sends succeeded. The subscriber set is read at call time, so chats
// enrolled after the trigger was armed still receive that day's digest.
type Broadcaster interface {
	BroadcastNow(ctx context.Context, text string) (int, error)
}

// Manager keeps exactly one armed trigger for the next occurrence and
// re-arms after every firing.
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	sched *scheduler.Service
	out   Broadcaster
	log   logx.Logger

	now func() time.Time
}

func New(cfg Config, sched *scheduler.Service, out Broadcaster, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{cfg: cfg, sched: sched, out: out, log: log, now: time.Now}
}

// Start arms the first occurrence. No-op when disabled.
func (m *Manager) Start() {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	if !cfg.Enabled {
		return
	}
	m.rearm(cfg)
}

// Stop drops the armed trigger.
func (m *Manager) Stop() {
	m.sched.Disarm(timerName)
}

// Apply swaps the config at runtime; the armed trigger follows.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	if !cfg.Enabled {
		if m.sched.Disarm(timerName) {
			m.log.Info("digest disabled")
		}
		return
	}
	m.rearm(cfg)
}

func (m *Manager) rearm(cfg Config) {
	next := NextOccurrence(m.now(), cfg.Spec)
	if err := m.sched.Arm(timerName, next, m.fire); err != nil {
		m.log.Error("digest arm failed", logx.Err(err))
		return
	}
	m.log.Info("digest armed", logx.Time("next", next))
}

// fire broadcasts and immediately re-arms the next occurrence, regardless
// of delivery outcome. Per-recipient failures are handled (and logged)
// inside the broadcaster.
func (m *Manager) fire(ctx context.Context) error {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	defer func() {
		if cfg.Enabled {
			m.rearm(cfg)
		}
	}()

	if !cfg.Enabled {
		return nil
	}
	delivered, err := m.out.BroadcastNow(ctx, cfg.Text)
	if err != nil {
		return err
	}
	m.log.Info("digest delivered", logx.Int("recipients", delivered))
	return nil
}
