package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "tvrecd/pkg/logx"
)

var errDeviceUnavailable = errors.New("device unavailable")

// housekeeping reloads definitions and probes the device. The periodic
// run does both; a file change only reloads and a failed device command
// only probes.
func (s *Scheduler) housekeeping(ctx context.Context, now time.Time) {
	periodic := now.Sub(s.lastHousekeeping) >= s.opts.ProbeInterval
	reload := periodic
	select {
	case <-s.reloadCh:
		reload = true
	default:
	}
	probe := periodic || s.forceProbe

	if reload {
		s.reload(ctx, now)
	}
	if probe {
		s.forceProbe = false
		s.probe(ctx)
	}
	if periodic {
		s.lastHousekeeping = now
	}
}

// probe force-stops every capture and blocks until the device answers
// again when the probe fails.
func (s *Scheduler) probe(ctx context.Context) {
	ok, err := s.deps.Device.Probe(ctx)
	if ok || ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errDeviceUnavailable
	}
	lostAt := s.deps.Now()
	stopped := s.stopAll(ctx, ReasonDeviceLost, err)
	s.log.Error("device lost; waiting for it to return",
		logx.Int("stopped", len(stopped)),
		logx.Duration("retry", s.opts.RecoveryDelay),
		logx.Err(err),
	)
	s.publish(EventDeviceLost, DeviceEvent{Stopped: stopped, Error: err.Error()})

	if err := s.awaitDevice(ctx); err != nil {
		return
	}
	down := s.deps.Now().Sub(lostAt)
	s.log.Info("device recovered", logx.Duration("down", down))
	s.publish(EventDeviceRecovered, DeviceEvent{Down: down})
	s.lastHousekeeping = s.deps.Now()
}

// awaitDevice retries the probe on a constant delay until it succeeds or
// ctx is done.
func (s *Scheduler) awaitDevice(ctx context.Context) error {
	op := func() error {
		s.beat()
		ok, err := s.deps.Device.Probe(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if ok {
			return nil
		}
		if err == nil {
			err = errDeviceUnavailable
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.log.Debug("device still unavailable", logx.Duration("next", next), logx.Err(err))
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(s.opts.RecoveryDelay), ctx)
	return backoff.RetryNotify(op, b, notify)
}
