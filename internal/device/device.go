// Package device is the control capability for the shared tuner device.
//
// The recorder only sees the Controller interface. CLI drives a real
// HDHomeRun through its hdhomerun_config utility; tests use fakes.
package device

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// TuneParams are the tuning parameters a source resolves to.
type TuneParams struct {
	Channel int
	Program int
}

// Handle is a running capture process.
type Handle interface {
	// Terminate stops the process (and its children). Safe to call twice.
	Terminate() error
	PID() int
}

// Controller drives the device. Every method is a single device command.
type Controller interface {
	Probe(ctx context.Context) (bool, error)
	Lock(ctx context.Context, tuner int, token string) error
	Tune(ctx context.Context, tuner int, token string, p TuneParams) error
	StartCapture(ctx context.Context, tuner int, token string, dest string) (Handle, error)
	ReleaseLock(ctx context.Context, tuner int, token string) error
}

// NewToken returns a random 8 character lock key, unique per process.
func NewToken() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:8]
}
