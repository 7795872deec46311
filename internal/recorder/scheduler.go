// Package recorder runs the recording loop: it resolves each task's next
// window, starts and stops captures on free tuners, checks that running
// captures are growing, reloads definitions and rides out device outages.
//
// All task state is owned by the single goroutine running Scheduler.Run.
package recorder

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"tvrecd/internal/capture"
	"tvrecd/internal/device"
	"tvrecd/internal/eventbus"
	"tvrecd/internal/health"
	"tvrecd/internal/recordings"
	"tvrecd/internal/schedule"
	"tvrecd/internal/tuner"
	logx "tvrecd/pkg/logx"
)

// Capturer starts and stops captures.
type Capturer interface {
	Start(ctx context.Context, req capture.Request) (capture.Started, error)
	Stop(ctx context.Context, tuner int, h device.Handle)
}

// HealthChecker reports whether an artifact is still growing.
type HealthChecker interface {
	Check(ctx context.Context, path string) error
}

// Prober reports device availability.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Options are the loop cadences and pool size.
//
// Defaults: Tuners 2, Tick 1s, HealthInterval 15s, ProbeInterval 60s,
// RecoveryDelay 10s, WarnEvery 1m, Location time.Local.
type Options struct {
	Tuners         int
	Tick           time.Duration
	HealthInterval time.Duration
	ProbeInterval  time.Duration
	RecoveryDelay  time.Duration
	// WarnEvery throttles repeated per-task warnings.
	WarnEvery time.Duration
	Location  *time.Location
}

func (o Options) withDefaults() Options {
	if o.Tuners <= 0 {
		o.Tuners = 2
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 15 * time.Second
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = time.Minute
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = 10 * time.Second
	}
	if o.WarnEvery <= 0 {
		o.WarnEvery = time.Minute
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Device  Prober
	Capture Capturer
	Health  HealthChecker
	// Load reads the current definitions snapshot.
	Load func() (recordings.Snapshot, error)

	Bus eventbus.Bus
	Log logx.Logger

	// Now defaults to time.Now.
	Now func() time.Time
	// Heartbeat, if set, is called every tick and while waiting for the
	// device to come back.
	Heartbeat func()
}

type Scheduler struct {
	opts Options
	deps Deps
	log  logx.Logger
	pool tuner.Pool

	tasks  []*Task
	loaded bool

	lastHousekeeping time.Time
	forceProbe       bool
	reloadCh         chan struct{}

	warn map[string]*rate.Limiter
}

func New(opts Options, deps Deps) *Scheduler {
	opts = opts.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Scheduler{
		opts:     opts,
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "recorder")),
		pool:     tuner.Pool{Size: opts.Tuners},
		reloadCh: make(chan struct{}, 1),
		warn:     map[string]*rate.Limiter{},
	}
}

// NotifyReload asks the loop to reload definitions at its next tick.
// Safe to call from any goroutine; never blocks.
func (s *Scheduler) NotifyReload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Init loads the definitions and resolves every window. Run calls it when
// it has not been called yet.
func (s *Scheduler) Init() error {
	snap, err := s.deps.Load()
	if err != nil {
		return err
	}
	now := s.deps.Now()
	for _, e := range snap.Entries {
		s.tasks = append(s.tasks, newTask(e))
	}
	s.resolveIdle(now)
	s.loaded = true
	for _, t := range s.tasks {
		s.log.Info("task loaded",
			logx.String("task", t.Name()),
			logx.String("window", t.Window.String()),
			logx.Duration("length", t.Spec.Duration()),
			logx.Bool("valid", t.Invalid == nil),
		)
	}
	return nil
}

// Run blocks until the device is reachable, then ticks until ctx is done.
// Every running capture is stopped before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.loaded {
		if err := s.Init(); err != nil {
			return err
		}
	}
	defer s.stopAll(ctx, ReasonShutdown, nil)

	if ok, _ := s.deps.Device.Probe(ctx); !ok {
		s.log.Warn("device not reachable at startup; waiting")
		if err := s.awaitDevice(ctx); err != nil {
			return nil
		}
	}
	s.lastHousekeeping = s.deps.Now()

	tk := time.NewTicker(s.opts.Tick)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every task once, in insertion order, then runs the
// reload/probe housekeeping when due.
func (s *Scheduler) Tick(ctx context.Context) {
	s.beat()
	now := s.deps.Now()
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		s.evaluate(ctx, t, now)
	}
	s.housekeeping(ctx, now)
}

func (s *Scheduler) evaluate(ctx context.Context, t *Task, now time.Time) {
	if t.Active() {
		// The end test uses the window the capture started in, before any
		// refresh can move it to the next occurrence.
		if !now.Before(t.Window.End) {
			s.stop(ctx, t, ReasonWindowEnd, nil)
			return
		}
		if now.Sub(t.run.LastCheck) >= s.opts.HealthInterval {
			s.checkHealth(ctx, t)
		}
		return
	}

	if t.Invalid != nil {
		s.warnf(t, "task cannot be scheduled", logx.Err(t.Invalid))
		return
	}
	if schedule.NeedsRefresh(t.Window, now, s.opts.ProbeInterval) {
		s.resolve(t, now)
		if t.Invalid != nil {
			return
		}
	}
	if t.Window.Contains(now) {
		s.start(ctx, t, now)
	}
}

func (s *Scheduler) start(ctx context.Context, t *Task, now time.Time) {
	assigned := s.assigned()
	first, ok := s.pool.Allocate(assigned)
	if !ok {
		s.warnf(t, "no tuner available; will retry", logx.Int("tuners", s.pool.Size))
		return
	}
	// The lowest free tuner first, then the alternates after it.
	free := append([]int{first}, s.pool.Free(append(assigned, first))...)
	st, err := s.deps.Capture.Start(ctx, capture.Request{
		Name:   t.Def.Name,
		Source: t.Def.Source,
		Prefix: t.Def.OutputPrefix,
		Free:   free,
		Now:    now.In(s.opts.Location),
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, capture.ErrDeviceCommand) {
			s.forceProbe = true
		}
		s.startFailed(t, err)
		return
	}

	t.activate(&Run{
		Tuner:     st.Tuner,
		Artifact:  st.Artifact,
		Handle:    st.Handle,
		StartedAt: now,
		LastCheck: now,
	})
	s.log.Info("recording started",
		logx.String("task", t.Def.Name),
		logx.Int("tuner", st.Tuner),
		logx.String("artifact", st.Artifact),
		logx.Time("until", t.Window.End),
	)
	s.publish(EventRecordingStarted, RecordingEvent{
		Task:      t.Def.Name,
		Source:    t.Def.Source,
		Tuner:     st.Tuner,
		Artifact:  st.Artifact,
		StartedAt: now,
	})
}

// startFailed reports the first failure in a window as an error and an
// event. Retries in the same window only log through the task's warning
// limiter.
func (s *Scheduler) startFailed(t *Task, err error) {
	if t.failedIn == t.Window {
		s.warnf(t, "capture start still failing", logx.String("source", t.Def.Source), logx.Err(err))
		return
	}
	t.failedIn = t.Window
	s.limiter(t).AllowN(s.deps.Now(), 1)
	s.log.Error("capture start failed",
		logx.String("task", t.Def.Name),
		logx.String("source", t.Def.Source),
		logx.Err(err),
	)
	s.publish(EventStartFailed, RecordingEvent{Task: t.Def.Name, Source: t.Def.Source, Tuner: -1, Error: err.Error()})
}

// stop is the only active -> idle path.
func (s *Scheduler) stop(ctx context.Context, t *Task, reason string, cause error) {
	run := t.deactivate()
	if run == nil {
		return
	}
	s.deps.Capture.Stop(ctx, run.Tuner, run.Handle)

	now := s.deps.Now()
	ev := RecordingEvent{
		Task:      t.Def.Name,
		Source:    t.Def.Source,
		Tuner:     run.Tuner,
		Artifact:  run.Artifact,
		Reason:    reason,
		StartedAt: run.StartedAt,
		Elapsed:   now.Sub(run.StartedAt),
	}
	fields := []logx.Field{
		logx.String("task", t.Def.Name),
		logx.Int("tuner", run.Tuner),
		logx.String("artifact", run.Artifact),
		logx.String("reason", reason),
		logx.Duration("elapsed", ev.Elapsed),
	}
	if cause != nil {
		ev.Error = cause.Error()
		s.log.Warn("recording stopped", append(fields, logx.Err(cause))...)
	} else {
		s.log.Info("recording stopped", fields...)
	}
	s.publish(EventRecordingStopped, ev)
}

func (s *Scheduler) stopAll(ctx context.Context, reason string, cause error) []string {
	var stopped []string
	for _, t := range s.tasks {
		if t.Active() {
			s.stop(ctx, t, reason, cause)
			stopped = append(stopped, t.Def.Name)
		}
	}
	return stopped
}

func (s *Scheduler) checkHealth(ctx context.Context, t *Task) {
	err := s.deps.Health.Check(ctx, t.run.Artifact)
	switch {
	case err == nil:
		t.checked(s.deps.Now())
	case ctx.Err() != nil:
	case health.IsStale(err):
		s.stop(ctx, t, ReasonStale, err)
	default:
		// Could not tell; look again next interval.
		s.log.Warn("health check inconclusive", logx.String("task", t.Def.Name), logx.Err(err))
		t.checked(s.deps.Now())
	}
}

func (s *Scheduler) resolve(t *Task, now time.Time) {
	w, err := schedule.Resolve(t.Spec, now, s.opts.Location)
	if err != nil {
		t.Invalid = err
		t.Window = schedule.Window{}
		s.warnf(t, "task cannot be scheduled", logx.Err(err))
		return
	}
	if w != t.Window {
		s.log.Debug("window resolved", logx.String("task", t.Def.Name), logx.String("window", w.String()))
	}
	t.Window = w
}

func (s *Scheduler) resolveIdle(now time.Time) {
	for _, t := range s.tasks {
		if !t.Active() && t.Invalid == nil {
			s.resolve(t, now)
		}
	}
}

func (s *Scheduler) assigned() []int {
	out := make([]int, 0, s.pool.Size)
	for _, t := range s.tasks {
		if t.run != nil {
			out = append(out, t.run.Tuner)
		}
	}
	return out
}

// Tasks returns the current task states in evaluation order. It reads loop
// state and must not run concurrently with Run.
func (s *Scheduler) Tasks() []Status {
	out := make([]Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.status())
	}
	return out
}

func (s *Scheduler) find(name string) *Task {
	for _, t := range s.tasks {
		if t.Def.Name == name {
			return t
		}
	}
	return nil
}

// warnf logs at most once per WarnEvery for each task.
func (s *Scheduler) warnf(t *Task, msg string, fields ...logx.Field) {
	if !s.limiter(t).AllowN(s.deps.Now(), 1) {
		return
	}
	s.log.Warn(msg, append([]logx.Field{logx.String("task", t.Def.Name)}, fields...)...)
}

func (s *Scheduler) limiter(t *Task) *rate.Limiter {
	lim := s.warn[t.Def.Name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(s.opts.WarnEvery), 1)
		s.warn[t.Def.Name] = lim
	}
	return lim
}

func (s *Scheduler) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Time: s.deps.Now(), Data: data})
}

func (s *Scheduler) beat() {
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat()
	}
}
