//go:build !unix

package device

import (
	"fmt"
	"os/exec"
	"sync"
)

type procHandle struct {
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func startGroup(name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return &procHandle{cmd: cmd}, nil
}

func (h *procHandle) PID() int { return h.cmd.Process.Pid }

func (h *procHandle) Terminate() error {
	h.once.Do(func() { h.err = h.cmd.Process.Kill() })
	return h.err
}
