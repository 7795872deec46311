package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tvrecd/internal/capture"
	"tvrecd/internal/config"
	"tvrecd/internal/device"
	"tvrecd/internal/eventbus"
	"tvrecd/internal/health"
	"tvrecd/internal/notifier"
	"tvrecd/internal/recorder"
	"tvrecd/internal/recordings"
	"tvrecd/internal/storage"
	kit "tvrecd/internal/transport"
	"tvrecd/internal/transport/telegram"
	logx "tvrecd/pkg/logx"
	"tvrecd/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *systemd.Notifier

	capture *capture.Controller
	rec     *recorder.Scheduler
	recDone chan struct{}
	defs    string

	notif      *notifier.Service
	notifToken string
}

// New loads and validates the config and wires every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	devOpts, err := mapDeviceOptions(cfg)
	if err != nil {
		return nil, err
	}
	rs, err := mapRecorderSettings(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, storageEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if storageEnabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dev := device.NewCLI(devOpts, log.With(logx.String("comp", "device")))
	token := device.NewToken()
	capCtl := capture.NewController(dev, capture.OSFS{}, capture.Options{
		SaveDir:   cfg.Recorder.SaveDir,
		Extension: rs.Extension,
		Token:     token,
	}, log.With(logx.String("comp", "capture")))
	capCtl.SetChannels(mapChannels(cfg))

	sd := systemd.NewNotifier()
	defs := cfg.Recorder.Definitions
	rec := recorder.New(rs.Options, recorder.Deps{
		Device:    dev,
		Capture:   capCtl,
		Health:    health.NewMonitor(capture.OSFS{}, rs.GrowthSample),
		Load:      func() (recordings.Snapshot, error) { return recordings.Load(defs) },
		Bus:       bus,
		Log:       log,
		Heartbeat: sd.Heartbeat,
	})

	tok := notifierToken(cfg)
	sender, err := newSender(tok)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sender, log, bus, store)

	appLog.Info("configured",
		logx.String("device", devOpts.DeviceID),
		logx.Int("tuners", rs.Options.Tuners),
		logx.String("definitions", defs),
		logx.String("save_dir", cfg.Recorder.SaveDir),
		logx.String("lock_token", capCtl.Token()),
		logx.Bool("notifier", ncfg.Enabled),
	)

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		sd:         sd,
		capture:    capCtl,
		rec:        rec,
		recDone:    make(chan struct{}),
		defs:       defs,
		notif:      notifSvc,
		notifToken: tok,
	}, nil
}

func newSender(token string) (kit.Sender, error) {
	if token == "" {
		return nil, nil
	}
	return telegram.New(telegram.Config{Token: token})
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// Start loads the definitions and launches the recorder and its
// supporting loops. A definitions file that cannot be loaded is a startup
// error.
func (a *App) Start(ctx context.Context) error {
	if err := a.rec.Init(); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}

	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if err := config.Validate(c, cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	a.notif.Start(a.sup.Context())

	a.sup.Go("recorder", func(c context.Context) error {
		defer close(a.recDone)
		return a.rec.Run(c)
	})
	a.sup.GoRestart("definitions.watch", func(c context.Context) error {
		return config.WatchFile(c, a.defs, a.log.With(logx.String("comp", "definitions")), a.rec.NotifyReload)
	})
	if a.store != nil {
		a.sup.Go0("history", func(c context.Context) {
			recordHistory(c, a.bus, a.store, a.log.With(logx.String("comp", "history")))
		})
	}
	a.sup.GoRestart("notifier.consume", func(c context.Context) error {
		return a.notif.Consume(c, a.bus)
	})

	// Debug trace of every bus event.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify READY sent", logx.Duration("watchdog", a.sd.WatchdogInterval()))
	}
	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies the logging, channels and notifier sections.
// Other sections are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("log sink unavailable; using console", logx.Err(err))
	}
	a.capture.SetChannels(mapChannels(newCfg))

	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.applyNotifier(ctx, ncfg, notifierToken(newCfg))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, ncfg notifier.Config, token string) {
	var sender kit.Sender
	if token != a.notifToken {
		s, err := newSender(token)
		if err != nil {
			a.log.Warn("notifier sender rebuild failed; keeping previous", logx.Err(err))
			return
		}
		sender = s
		a.notifToken = token
	}

	prev := a.notif.Enabled()
	a.notif.Apply(ncfg, sender)
	switch {
	case prev && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	// Cancelling the run context makes the recorder stop every capture.
	a.sup.Cancel()

	a.step(ctx, "recorder", 15*time.Second, func(c context.Context) error {
		select {
		case <-a.recDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	for _, st := range a.sup.Stats() {
		if st.Restarts > 0 || st.Panics > 0 {
			a.log.Info("goroutine summary", logx.String("name", st.Name), logx.Int("restarts", int(st.Restarts)),
				logx.Int("panics", int(st.Panics)), logx.String("last_err", st.LastErr))
		}
	}
	if n := a.bus.Dropped(); n > 0 {
		a.log.Info("event bus dropped events", logx.Int64("dropped", int64(n)))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
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
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
