package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	logx "tvrecd/pkg/logx"
)

// CLIOptions configures a CLI controller.
type CLIOptions struct {
	// Binary is the controller executable, default "hdhomerun_config".
	Binary string
	// DeviceID is the device identifier passed as the first argument.
	DeviceID string
	// Timeout bounds each short command (not the capture process).
	Timeout time.Duration

	BreakerFailures int
	BreakerTimeout  time.Duration
}

// runFunc runs a short command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// spawnFunc starts a long-running command in its own process group.
type spawnFunc func(name string, args ...string) (Handle, error)

// CLI implements Controller by invoking hdhomerun_config:
//
//	hdhomerun_config discover
//	hdhomerun_config <id> set /tunerN/lockkey <key>
//	hdhomerun_config <id> key <key> set /tunerN/channel <ch>
//	hdhomerun_config <id> key <key> set /tunerN/program <prog>
//	hdhomerun_config <id> key <key> save /tunerN <file>
//	hdhomerun_config <id> key <key> set /tunerN/lockkey none
//
// Commands other than discover go through a circuit breaker so a wedged
// device fails fast instead of stalling every tick on timeouts.
type CLI struct {
	opts CLIOptions
	log  logx.Logger

	run   runFunc
	spawn spawnFunc

	mu sync.Mutex
	cb *gobreaker.CircuitBreaker
	// lost is set by a failed probe and cleared by the next good one.
	lost bool
}

func NewCLI(opts CLIOptions, log logx.Logger) *CLI {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "hdhomerun_config"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	c := &CLI{
		opts:  opts,
		log:   log.With(logx.String("comp", "device")),
		run:   runCombined,
		spawn: startGroup,
	}
	c.cb = c.newBreaker()
	return c
}

func (c *CLI) newBreaker() *gobreaker.CircuitBreaker {
	failures := uint32(c.opts.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "device:" + c.opts.DeviceID,
		MaxRequests: 1,
		Timeout:     c.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("device breaker state changed",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a device failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func (c *CLI) breaker() *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

// markProbe records a probe result. Only a lost -> reachable transition
// replaces an open breaker; while the device stays listed, recovery is left
// to the breaker's half-open timeout.
func (c *CLI) markProbe(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.lost = true
		return
	}
	if !c.lost {
		return
	}
	c.lost = false
	if c.cb.State() != gobreaker.StateClosed {
		c.log.Info("device back; resetting breaker")
		c.cb = c.newBreaker()
	}
}

func (c *CLI) exec(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.breaker().Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		return c.run(cctx, c.opts.Binary, args...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s %s: %w", c.opts.Binary, strings.Join(args, " "), err)
		}
		return nil, err
	}
	b, _ := out.([]byte)
	return b, nil
}

func tunerPath(tuner int, leaf string) string {
	p := "/tuner" + strconv.Itoa(tuner)
	if leaf != "" {
		p += "/" + leaf
	}
	return p
}

// Probe reports whether discover lists the configured device id.
// A failing discover command is reported as unavailable with its error.
func (c *CLI) Probe(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	out, err := c.run(cctx, c.opts.Binary, "discover")
	if err != nil {
		if ctx.Err() == nil {
			c.markProbe(false)
		}
		return false, err
	}
	if !bytes.Contains(bytes.ToUpper(out), []byte(strings.ToUpper(c.opts.DeviceID))) {
		c.markProbe(false)
		return false, nil
	}
	c.markProbe(true)
	return true, nil
}

func (c *CLI) Lock(ctx context.Context, tuner int, token string) error {
	_, err := c.exec(ctx, c.opts.DeviceID, "set", tunerPath(tuner, "lockkey"), token)
	return err
}

func (c *CLI) Tune(ctx context.Context, tuner int, token string, p TuneParams) error {
	if _, err := c.exec(ctx, c.opts.DeviceID, "key", token, "set", tunerPath(tuner, "channel"), strconv.Itoa(p.Channel)); err != nil {
		return err
	}
	_, err := c.exec(ctx, c.opts.DeviceID, "key", token, "set", tunerPath(tuner, "program"), strconv.Itoa(p.Program))
	return err
}

// StartCapture launches "save" and returns without waiting for it. The
// breaker is consulted but a started process counts as success.
func (c *CLI) StartCapture(_ context.Context, tuner int, token string, dest string) (Handle, error) {
	h, err := c.breaker().Execute(func() (interface{}, error) {
		return c.spawn(c.opts.Binary, c.opts.DeviceID, "key", token, "save", tunerPath(tuner, ""), dest)
	})
	if err != nil {
		return nil, err
	}
	return h.(Handle), nil
}

func (c *CLI) ReleaseLock(ctx context.Context, tuner int, token string) error {
	_, err := c.exec(ctx, c.opts.DeviceID, "key", token, "set", tunerPath(tuner, "lockkey"), "none")
	return err
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}
