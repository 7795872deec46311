// Package health checks that an active capture is still writing.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tvrecd/internal/capture"
)

var (
	ErrArtifactMissing = errors.New("health: artifact missing")
	ErrArtifactStalled = errors.New("health: artifact not growing")
)

// DefaultSample is the delay between the two size samples.
const DefaultSample = 1500 * time.Millisecond

// Monitor samples artifact size twice and reports a capture as stale when
// the file is gone or did not grow.
type Monitor struct {
	FS     capture.FS
	Sample time.Duration

	// Sleep waits between samples; tests replace it. It must return early
	// with ctx.Err() when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewMonitor(fsys capture.FS, sample time.Duration) *Monitor {
	if sample <= 0 {
		sample = DefaultSample
	}
	return &Monitor{FS: fsys, Sample: sample, Sleep: SleepContext}
}

// Check returns nil when path exists and grew during the sample window.
func (m *Monitor) Check(ctx context.Context, path string) error {
	ok, err := m.FS.Exists(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	before, err := m.FS.Size(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifactMissing, path, err)
	}
	if err := m.Sleep(ctx, m.Sample); err != nil {
		return err
	}
	after, err := m.FS.Size(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifactMissing, path, err)
	}
	if after == before {
		return fmt.Errorf("%w: %s stuck at %d bytes", ErrArtifactStalled, path, after)
	}
	return nil
}

// IsStale reports whether err is one of the staleness conditions.
func IsStale(err error) bool {
	return errors.Is(err, ErrArtifactMissing) || errors.Is(err, ErrArtifactStalled)
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
