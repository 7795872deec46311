// Package devicetest provides an in-memory device.Controller for tests.
package devicetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tvrecd/internal/device"
)

// ErrInjected is returned by commands configured to fail.
var ErrInjected = errors.New("devicetest: injected failure")

// Handle is a fake capture process.
type Handle struct {
	pid        int
	mu         sync.Mutex
	terminated int
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Terminate() error {
	h.mu.Lock()
	h.terminated++
	h.mu.Unlock()
	return nil
}

// Terminated reports how many times Terminate was called.
func (h *Handle) Terminated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Controller records every command and tracks tuner locks.
//
// Fail* maps select tuners whose command fails; Available drives Probe.
type Controller struct {
	mu sync.Mutex

	Available bool
	ProbeErr  error

	FailLock    map[int]bool
	FailTune    map[int]bool
	FailSave    map[int]bool
	FailRelease map[int]bool

	Locks   map[int]string // tuner -> token
	Calls   []string
	Handles []*Handle
	Probes  int
	nextPID int
}

func New() *Controller {
	return &Controller{
		Available:   true,
		FailLock:    map[int]bool{},
		FailTune:    map[int]bool{},
		FailSave:    map[int]bool{},
		FailRelease: map[int]bool{},
		Locks:       map[int]string{},
		nextPID:     1000,
	}
}

var _ device.Controller = (*Controller)(nil)

func (c *Controller) record(format string, args ...any) {
	c.Calls = append(c.Calls, fmt.Sprintf(format, args...))
}

func (c *Controller) SetAvailable(v bool) {
	c.mu.Lock()
	c.Available = v
	c.mu.Unlock()
}

func (c *Controller) Probe(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Probes++
	c.record("probe")
	return c.Available, c.ProbeErr
}

func (c *Controller) Lock(_ context.Context, tuner int, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("lock %d", tuner)
	if c.FailLock[tuner] {
		return ErrInjected
	}
	if owner, ok := c.Locks[tuner]; ok && owner != token {
		return fmt.Errorf("tuner %d locked by %s", tuner, owner)
	}
	c.Locks[tuner] = token
	return nil
}

func (c *Controller) Tune(_ context.Context, tuner int, token string, p device.TuneParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("tune %d %d.%d", tuner, p.Channel, p.Program)
	if c.FailTune[tuner] {
		return ErrInjected
	}
	if c.Locks[tuner] != token {
		return fmt.Errorf("tuner %d not locked by %s", tuner, token)
	}
	return nil
}

func (c *Controller) StartCapture(_ context.Context, tuner int, token string, dest string) (device.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("save %d %s", tuner, dest)
	if c.FailSave[tuner] {
		return nil, ErrInjected
	}
	if c.Locks[tuner] != token {
		return nil, fmt.Errorf("tuner %d not locked by %s", tuner, token)
	}
	c.nextPID++
	h := &Handle{pid: c.nextPID}
	c.Handles = append(c.Handles, h)
	return h, nil
}

func (c *Controller) ReleaseLock(_ context.Context, tuner int, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("release %d", tuner)
	if c.FailRelease[tuner] {
		return ErrInjected
	}
	if c.Locks[tuner] == token {
		delete(c.Locks, tuner)
	}
	return nil
}

// Locked reports whether tuner currently holds a lock.
func (c *Controller) Locked(tuner int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Locks[tuner]
	return ok
}

// CallLog returns a copy of the recorded commands.
func (c *Controller) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// ProbeCount returns how many probes ran.
func (c *Controller) ProbeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Probes
}
