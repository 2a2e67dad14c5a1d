// Package app wires config, storage, scheduler, reminder engine, digest and
// the Telegram transport into one lifecycle.
package app

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/digest"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const defaultDigestText = "Good morning! This is your daily reminder."

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *adapter.Adapter
	sched   *scheduler.Service

	store     *storage.Store
	reminders *reminder.Service
	dig       *digest.Manager
	rt        *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.ServiceConfig{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Sender.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{}, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		sched:   sched,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(a.sup.Context(), storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	notif := adapterNotifier{ad: a.adapter}
	a.reminders = reminder.NewService(store, a.sched, notif, a.log.With(logx.String("comp", "reminder")))

	digCfg, err := digestFromConfig(cfg)
	if err != nil {
		return err
	}
	a.dig = digest.New(digCfg, a.sched, a.reminders, a.log.With(logx.String("comp", "digest")))

	a.rt = router.New(a.log.With(logx.String("comp", "commands")),
		a.adapter, a.reminders, cfg.Telegram.OwnerUserIDs, digCfg.Spec.Loc)

	// Adapter first: updates buffer in a.updates while recovery runs, so
	// commands sent during startup are delayed, not lost.
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	// Re-arm everything persisted before accepting commands; overdue
	// reminders are delivered from here.
	if err := a.reminders.Restore(a.sup.Context()); err != nil {
		a.stopStarted()
		return err
	}

	a.dig.Start()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.ServiceConfig{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.adapter.SetRate(cfg.Sender.RatePerSec)
	a.rt.SetOwners(cfg.Telegram.OwnerUserIDs)

	digCfg, err := digestFromConfig(cfg)
	if err != nil {
		// Manager.Parse validates before publish; a bad digest section here
		// means the timezone db changed underneath us. Keep the old digest.
		a.log.Warn("digest config rejected on reload", logx.Err(err))
	} else {
		a.dig.Apply(digCfg)
		a.rt.SetLocation(digCfg.Spec.Loc)
	}

	a.log.Info("config reloaded")
}

// stopStarted unwinds the components Start already brought up, for the
// error paths inside Start itself.
func (a *App) stopStarted() {
	a.sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.adapter.Stop(ctx)
	a.sched.Stop(ctx)
	_ = a.store.Close()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("dur", time.Since(start)))
	}

	step("digest", 2*time.Second, func(context.Context) error {
		a.dig.Stop()
		return nil
	})
	step("scheduler", 5*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	step("adapter", 5*time.Second, func(c context.Context) error {
		return a.adapter.Stop(c)
	})
	step("supervisor", 5*time.Second, func(c context.Context) error {
		return a.sup.Stop(c)
	})
	step("storage", 2*time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// adapterNotifier adapts the transport to the reminder engine's Notifier.
type adapterNotifier struct {
	ad kit.Adapter
}

func (n adapterNotifier) Send(ctx context.Context, chatID int64, text string) error {
	_, err := n.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}

func digestFromConfig(c *config.Config) (digest.Config, error) {
	at := c.Digest.At
	if strings.TrimSpace(at) == "" {
		at = "08:00"
	}
	hh, mm, err := config.ParseHHMM(at)
	if err != nil {
		return digest.Config{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return digest.Config{}, err
		}
	}
	text := strings.TrimSpace(c.Digest.Text)
	if text == "" {
		text = defaultDigestText
	}
	return digest.Config{
		Enabled: c.Digest.Enabled,
		Spec:    digest.Spec{Hour: hh, Minute: mm, Loc: loc},
		Text:    text,
	}, nil
}
