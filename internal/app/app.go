package app

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"alarmbot/internal/alarm"
	"alarmbot/internal/audit"
	"alarmbot/internal/commands"
	"alarmbot/internal/config"
	"alarmbot/internal/eventbus"
	"alarmbot/internal/notifier"
	rtsup "alarmbot/internal/runtime/supervisor"
	"alarmbot/internal/storage"
	kit "alarmbot/internal/transport"
	telegram "alarmbot/internal/transport/telegram/adapter"
	logx "alarmbot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   sdNotifier

	store   storage.Store
	alarms  *alarm.Service
	sweeper *alarm.Sweeper
	notif   *notifier.Service
	adapter kit.Adapter
	router  *commands.Router
	audit   *audit.Logger

	lastSweep atomic.Pointer[alarm.CycleReport]
	updates   chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram adapter (tests, alternative transports).
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logs, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	bus := eventbus.New()

	store, err := storage.Open(mapStorage(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", store.Driver()), logx.String("path", cfg.Storage.Path))

	alarms := alarm.NewService(mapAlarms(cfg), store, root.With(logx.String("comp", "alarms")))
	notif := notifier.New(mapNotifier(cfg), nil, bus, root.With(logx.String("comp", "notifier")))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeoutDuration(),
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			_ = logs.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	logs.SetSender(ad)
	notif.SetSender(ad)

	sweeper := alarm.NewSweeper(mapSweeper(cfg), alarms, notif, root.With(logx.String("comp", "sweeper")))

	botName := ""
	if n, ok := ad.(interface{ BotUsername() string }); ok {
		botName = n.BotUsername()
	}
	router := commands.NewRouter(commands.RouterConfig{
		Owners:      cfg.Telegram.OwnerUserIDs,
		BotUsername: botName,
		Workers:     cfg.Telegram.Workers,
	}, ad, root.With(logx.String("comp", "commands")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		sd:      sdNotifier{log: root.With(logx.String("comp", "systemd"))},
		store:   store,
		alarms:  alarms,
		sweeper: sweeper,
		notif:   notif,
		adapter: ad,
		router:  router,
		audit:   audit.New(alarms, ad, root.With(logx.String("comp", "audit"))),
		updates: make(chan kit.Update, 256),
	}
	commands.RegisterBuiltins(router, commands.Deps{Alarms: alarms, Status: a.statusText})

	sweeper.OnCycle(func(r alarm.CycleReport) {
		a.lastSweep.Store(&r)
		bus.Publish(eventbus.Event{Type: eventbus.TypeSweepDone, Time: r.At, Data: r})
	})
	return a, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Alarms exposes the scheduling facade.
func (a *App) Alarms() *alarm.Service { return a.alarms }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	loaded := a.alarms.Load(a.sup.Context())
	a.log.Info("state loaded", logx.Int("alarms", loaded))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Serve(c, a.updates, a.audit.Handle)
	})
	a.sup.Go("alarms.sweeper", a.sweeper.Run)

	if up, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		menu := a.router.MenuCommands()
		a.sup.Go0("telegram.menu.update", func(c context.Context) {
			cctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable parts of next.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if ch.Has("logging") || ch.Has("telegram") {
		chatID, _, _ := next.Telegram.GroupLogChatID()
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
		a.logs.Apply(mapLogging(next))
	}
	if ch.Has("telegram") {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if ch.Has("alarms") {
		a.sweeper.Apply(mapSweeper(next))
	}
	if ch.Has("notifier") {
		a.notif.Apply(mapNotifier(next))
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("settings", strings.Join(ch.RestartRequired, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch.Sections})
	a.log.Info("config reloaded", ch.Fields...)
}

// Reason classifies a shutdown once ctx or Done has fired. The app context
// is derived from ctx, so both are closed after a signal; only a recorded
// error makes the stop fatal.
func (a *App) Reason(ctx context.Context) StopReason {
	switch {
	case a.Err() != nil:
		return StopFatalError
	case ctx.Err() != nil:
		return StopSignal
	default:
		return StopUnknown
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		_ = a.store.Close()
		return a.logs.Close()
	}
	a.sd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	// Final save so nothing applied since the last successful persist is lost.
	step("alarms.flush", 5*time.Second, a.alarms.Flush)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// statusText feeds /alarmstatus.
func (a *App) statusText() string {
	var b strings.Builder
	ns := a.notif.Stats()
	as := a.audit.Stats()
	fmt.Fprintf(&b, "storage: %s\n", a.store.Driver())
	fmt.Fprintf(&b, "deliveries: %d ok, %d failed, %d retries\n", ns.Delivered, ns.Failed, ns.Retries)
	fmt.Fprintf(&b, "audit posts: %d (skipped %d, failed %d)\n", as.Posted, as.Skipped, as.Failed)
	fmt.Fprintf(&b, "sweep interval: %s", a.sweeper.Config().Interval)
	if r := a.lastSweep.Load(); r != nil {
		fmt.Fprintf(&b, "\nlast sweep: %s (due %d, delivered %d, failed %d)", r.At.UTC().Format(time.RFC3339), r.Due, r.Delivered, r.Failed)
	}
	if h := a.notif.History(); len(h) > 0 {
		last := h[len(h)-1]
		state := "ok"
		if !last.OK {
			state = "failed: " + html.EscapeString(last.Error)
		}
		fmt.Fprintf(&b, "\nlast delivery: %s to %d after %d attempt(s), %s", last.At.UTC().Format(time.RFC3339), last.ChatID, last.Attempts, state)
	}
	if a.sup != nil {
		c := a.sup.Counters()
		fmt.Fprintf(&b, "\ngoroutines: %d active, %d restarts, %d panics", c.Active, c.Restarts, c.Panics)
	}
	if d := a.bus.Dropped() + a.logs.TelegramDrops(); d > 0 {
		fmt.Fprintf(&b, "\ndropped events/log lines: %d", d)
	}
	return b.String()
}
