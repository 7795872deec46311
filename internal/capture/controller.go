// Package capture starts and stops captures on device tuners.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tvrecd/internal/device"
	logx "tvrecd/pkg/logx"
)

var (
	// ErrUnknownSource means the source has no channel mapping. No device
	// command was issued.
	ErrUnknownSource = errors.New("capture: unknown source")
	// ErrDeviceCommand wraps every failed lock/tune/save/release command.
	ErrDeviceCommand = errors.New("capture: device command failed")
	// ErrArtifactExhausted means every numbered artifact name is taken.
	ErrArtifactExhausted = errors.New("capture: artifact names exhausted")
	// ErrNoTuner means the request carried no free tuner.
	ErrNoTuner = errors.New("capture: no free tuner")
)

// maxAttempts is the first free tuner plus one alternate.
const maxAttempts = 2

// Request asks for a capture of one task.
type Request struct {
	Name   string
	Source string
	Prefix string
	// Free lists candidate tuners, lowest first.
	Free []int
	Now  time.Time
}

// Started describes a capture that is running.
type Started struct {
	Tuner    int
	Artifact string
	Handle   device.Handle
}

// Options configures a Controller.
type Options struct {
	SaveDir   string
	Extension string
	// Token is the lock key used for every tuner this process owns.
	Token string
}

// Controller turns a Request into a running capture on the device.
type Controller struct {
	dev  device.Controller
	fs   FS
	opts Options
	log  logx.Logger

	channels atomic.Pointer[map[string]device.TuneParams]
}

func NewController(dev device.Controller, fsys FS, opts Options, log logx.Logger) *Controller {
	if fsys == nil {
		fsys = OSFS{}
	}
	if opts.Token == "" {
		opts.Token = device.NewToken()
	}
	c := &Controller{dev: dev, fs: fsys, opts: opts, log: log.With(logx.String("comp", "capture"))}
	c.SetChannels(nil)
	return c
}

// Token returns the lock key this controller uses.
func (c *Controller) Token() string { return c.opts.Token }

// SetChannels replaces the source -> tuning map. Safe for concurrent use.
func (c *Controller) SetChannels(m map[string]device.TuneParams) {
	cp := make(map[string]device.TuneParams, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.channels.Store(&cp)
}

// Resolve looks up the tuning parameters for source.
func (c *Controller) Resolve(source string) (device.TuneParams, bool) {
	m := c.channels.Load()
	if m == nil {
		return device.TuneParams{}, false
	}
	p, ok := (*m)[source]
	return p, ok
}

// Start locks, tunes and starts saving on the first free tuner, retrying
// once on the next free tuner when a device command fails.
//
// A tuner whose lock was taken is always released again if the attempt
// on it fails afterwards.
func (c *Controller) Start(ctx context.Context, req Request) (Started, error) {
	params, ok := c.Resolve(req.Source)
	if !ok {
		return Started{}, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
	if len(req.Free) == 0 {
		return Started{}, ErrNoTuner
	}

	var errs []error
	for i, tuner := range req.Free {
		if i == maxAttempts {
			break
		}
		st, err := c.startOn(ctx, tuner, params, req)
		if err == nil {
			return st, nil
		}
		errs = append(errs, err)
		if !errors.Is(err, ErrDeviceCommand) || ctx.Err() != nil {
			break
		}
		c.log.Warn("capture attempt failed",
			logx.String("task", req.Name),
			logx.Int("tuner", tuner),
			logx.Err(err),
		)
	}
	return Started{}, errors.Join(errs...)
}

func (c *Controller) startOn(ctx context.Context, tuner int, p device.TuneParams, req Request) (Started, error) {
	token := c.opts.Token
	if err := c.dev.Lock(ctx, tuner, token); err != nil {
		return Started{}, fmt.Errorf("%w: lock tuner %d: %w", ErrDeviceCommand, tuner, err)
	}
	if err := c.dev.Tune(ctx, tuner, token, p); err != nil {
		c.release(ctx, tuner)
		return Started{}, fmt.Errorf("%w: tune tuner %d to %d.%d: %w", ErrDeviceCommand, tuner, p.Channel, p.Program, err)
	}

	dir := TitleDir(c.opts.SaveDir, req.Name)
	if err := c.fs.EnsureDir(dir); err != nil {
		c.release(ctx, tuner)
		return Started{}, fmt.Errorf("create %s: %w", dir, err)
	}
	path, err := ArtifactPath(c.fs, dir, req.Prefix, c.opts.Extension, req.Now)
	if err != nil {
		c.release(ctx, tuner)
		return Started{}, err
	}

	h, err := c.dev.StartCapture(ctx, tuner, token, path)
	if err != nil {
		c.release(ctx, tuner)
		return Started{}, fmt.Errorf("%w: save tuner %d to %s: %w", ErrDeviceCommand, tuner, path, err)
	}
	return Started{Tuner: tuner, Artifact: path, Handle: h}, nil
}

// Stop terminates the capture process and releases the tuner lock. Both
// steps are best-effort; failures are logged.
func (c *Controller) Stop(ctx context.Context, tuner int, h device.Handle) {
	if h != nil {
		if err := h.Terminate(); err != nil {
			c.log.Warn("terminate capture failed", logx.Int("tuner", tuner), logx.Int("pid", h.PID()), logx.Err(err))
		}
	}
	c.release(ctx, tuner)
}

// release runs even during shutdown; the device command has its own timeout.
func (c *Controller) release(ctx context.Context, tuner int) {
	if err := c.dev.ReleaseLock(context.WithoutCancel(ctx), tuner, c.opts.Token); err != nil {
		c.log.Warn("release tuner lock failed", logx.Int("tuner", tuner), logx.Err(err))
	}
}
