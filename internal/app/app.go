package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"subwaybot/internal/booking"
	"subwaybot/internal/calendar"
	"subwaybot/internal/config"
	"subwaybot/internal/eventbus"
	"subwaybot/internal/guard"
	"subwaybot/internal/notifier"
	rtsup "subwaybot/internal/runtime/supervisor"
	"subwaybot/internal/status"
	"subwaybot/internal/storage"
	logx "subwaybot/pkg/logx"
)

// Options are the command line settings of `subwaybot start`.
type Options struct {
	ConfigPath     string
	Hours          []int
	MaxConcurrency int
	Notify         bool
	// LogLevel overrides logging.level when set.
	LogLevel      string
	WatchInterval time.Duration
	Version       string
}

type App struct {
	opts Options

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log        logx.Logger
	logs       *logx.Service
	stopStream func()
	bus        eventbus.Bus
	store      storage.Store
	redis      *calendar.RedisCache

	gate    *gateHolder
	guard   *guard.Guard
	notif   *notifier.Service
	sched   *booking.Scheduler
	sweeper *booking.Sweeper
	status  *status.Server
}

// gateHolder lets the calendar be swapped on reload while the scheduler
// keeps one HolidayChecker.
type gateHolder struct {
	cur atomic.Pointer[calendar.Gate]
}

func (h *gateHolder) IsHoliday(ctx context.Context, date time.Time) bool {
	return h.cur.Load().IsHoliday(ctx, date)
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx(opts.LogLevel))
	bus := eventbus.New()
	stopStream := logSvc.Stream().Listen(func(ln logx.LogLine) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeLogLine, Time: ln.Time, Data: ln})
	})
	appLog := log.With(logx.Category("app"))
	cfgm.SetLogger(log.With(logx.Category("config")))

	a := &App{
		opts:       opts,
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		stopStream: stopStream,
		bus:        bus,
		gate:       &gateHolder{},
	}
	fail := func(err error) (*App, error) {
		a.closeResources()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(ctx, sc, log.With(logx.Category("storage")))
		if err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
		a.store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	gate, err := a.buildGate(cfg, true)
	if err != nil {
		return fail(err)
	}
	a.gate.cur.Store(gate)

	b, err := cfg.Booking.Resolve()
	if err != nil {
		return fail(err)
	}
	a.guard = guard.New(b.ExpiryWarning)

	ncfg, err := mapNotifierConfig(cfg, opts.Notify)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, a.buildChannel(cfg, ncfg), log.With(logx.Category("notifier")), bus)

	a.sched = booking.NewScheduler(cfgm, booking.Options{
		Hours:          opts.Hours,
		MaxConcurrency: opts.MaxConcurrency,
		Notify:         opts.Notify,
		Gate:           a.gate,
		Guard:          a.guard,
		Sender:         a.notif,
		Store:          a.store,
		Bus:            bus,
		Remote:         booking.MetroRemote(log.With(logx.Category("metro"))),
		Logger:         log.With(logx.Category("booking")),
	})
	a.sweeper = booking.NewSweeper(cfgm, a.guard, a.notif, opts.Notify, bus, nil, log.With(logx.Category("expiry")))

	a.status = status.NewServer(status.Sources{
		Scheduler: a.sched,
		Config:    cfgm.Get,
		Guard:     a.guard,
		Stream:    logSvc.Stream(),
		Store:     a.store,
		Notifier:  a.notif.Snapshot,
		Supervisor: func() rtsup.Snapshot {
			return a.sup.Snapshot()
		},
		Version: opts.Version,
	}, log.With(logx.Category("status")))

	return a, nil
}

// buildGate creates the calendar gate. The redis cache is only connected
// at startup; later calls reuse it.
func (a *App) buildGate(cfg *config.Config, first bool) (*calendar.Gate, error) {
	gcfg, rcfg, err := cfg.Calendar.Resolve()
	if err != nil {
		return nil, err
	}
	clog := a.log.With(logx.Category("calendar"))
	opts := []calendar.Option{calendar.WithLogger(clog)}
	if first && rcfg != nil {
		a.redis = calendar.NewRedisCache(*rcfg)
		clog.Info("holiday cache uses redis", logx.String("addr", rcfg.Addr))
	}
	if a.redis != nil {
		opts = append(opts, calendar.WithCache(a.redis))
	}
	return calendar.New(gcfg, opts...), nil
}

func (a *App) buildChannel(cfg *config.Config, ncfg notifier.Config) notifier.Channel {
	if !ncfg.Enabled {
		return nil
	}
	ch, err := notifier.NewChannel(mapChannelConfig(cfg, ncfg.Timeout))
	if err != nil {
		a.log.Warn("notifications requested but no channel configured", logx.Err(err))
		return nil
	}
	return ch
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if err := a.status.Apply(run, mapStatusConfig(a.cfgm.Get())); err != nil {
		a.log.Error("status server not started", logx.Err(err))
	}

	a.sup.Go("booking.scheduler", a.sched.Run)
	a.sup.Go("booking.sweeper", a.sweeper.Run)

	events, unsub := a.bus.Subscribe(128, "booking.", "config.", "token.", "notifier.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c, a.opts.WatchInterval)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if every, err := daemon.SdWatchdogEnabled(false); err == nil && every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(every / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("subwaybot started",
		logx.String("config", a.opts.ConfigPath),
		logx.Int("accounts", len(a.cfgm.Get().Active())),
		logx.Bool("notify", a.notif.Enabled()),
		logx.String("version", a.opts.Version))
	return nil
}

// applyConfig hot-applies an adopted configuration.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, diff := config.SummarizeChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
	}
	if !diff.Empty() {
		a.log.Info("accounts changed",
			logx.Any("added", diff.Added),
			logx.Any("removed", diff.Removed),
			logx.Any("changed", diff.Changed))
	}

	if b, err := next.Booking.Resolve(); err != nil {
		a.log.Warn("invalid booking config; keeping expiry warning window", logx.Err(err))
	} else {
		a.guard.SetThreshold(b.ExpiryWarning)
	}
	// Any content change invalidates today's bookkeeping.
	a.sched.Reload()
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: diff})

	a.logs.Apply(next.Logging.Logx(a.opts.LogLevel))

	for _, s := range sections {
		switch s {
		case "calendar":
			if g, err := a.buildGate(next, false); err != nil {
				a.log.Warn("invalid calendar config; keeping previous", logx.Err(err))
			} else {
				a.gate.cur.Store(g)
			}
		case "notifier":
			ncfg, err := mapNotifierConfig(next, a.opts.Notify)
			if err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				continue
			}
			a.notif.Apply(ncfg)
			a.notif.SetChannel(a.buildChannel(next, ncfg))
			if a.notif.Enabled() {
				a.notif.Start(ctx)
			}
		case "status":
			if err := a.status.Apply(ctx, mapStatusConfig(next)); err != nil {
				a.log.Error("status server not applied", logx.Err(err))
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step runs one shutdown step bounded by max, never extending ctx.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	// Running account tasks finish their current remote call and report.
	step("supervisor", 10*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.stopStream != nil {
		a.stopStream()
		a.stopStream = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
