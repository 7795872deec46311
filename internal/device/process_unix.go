//go:build unix

package device

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killGrace is how long Terminate waits after SIGTERM before SIGKILL.
const killGrace = 3 * time.Second

type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
	err  error
}

// startGroup starts name in its own process group so Terminate can signal
// the whole tree. Output is discarded.
func startGroup(name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	h := &procHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (h *procHandle) PID() int { return h.cmd.Process.Pid }

// Exited reports whether the process has already been reaped.
func (h *procHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *procHandle) Terminate() error {
	h.once.Do(func() { h.err = h.terminate() })
	return h.err
}

func (h *procHandle) terminate() error {
	if h.Exited() {
		return nil
	}
	pgid := -h.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", -pgid, err)
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(killGrace):
	}
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", -pgid, err)
	}
	<-h.done
	return nil
}
