package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"tvrecd/internal/capture/capturetest"
)

func TestCheck(t *testing.T) {
	t.Parallel()
	const path = "/rec/show.ts"
	tests := []struct {
		name    string
		setup   func(fs *capturetest.MemFS)
		between func(fs *capturetest.MemFS)
		want    error
	}{
		{
			name:    "growing",
			setup:   func(fs *capturetest.MemFS) { fs.Put(path, 100) },
			between: func(fs *capturetest.MemFS) { fs.Grow(path, 188) },
		},
		{
			name:  "missing",
			setup: func(fs *capturetest.MemFS) {},
			want:  ErrArtifactMissing,
		},
		{
			name:    "stalled",
			setup:   func(fs *capturetest.MemFS) { fs.Put(path, 100) },
			between: func(fs *capturetest.MemFS) {},
			want:    ErrArtifactStalled,
		},
		{
			name:    "removed during sample",
			setup:   func(fs *capturetest.MemFS) { fs.Put(path, 100) },
			between: func(fs *capturetest.MemFS) { fs.Remove(path) },
			want:    ErrArtifactMissing,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := capturetest.NewMemFS()
			tt.setup(fs)
			m := NewMonitor(fs, time.Second)
			m.Sleep = func(context.Context, time.Duration) error {
				if tt.between != nil {
					tt.between(fs)
				}
				return nil
			}
			err := m.Check(context.Background(), path)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Check: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) || !IsStale(err) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckCancelled(t *testing.T) {
	t.Parallel()
	fs := capturetest.NewMemFS()
	fs.Put("/x.ts", 1)
	m := NewMonitor(fs, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Check(ctx, "/x.ts")
	if !errors.Is(err, context.Canceled) || IsStale(err) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSleepContext(t *testing.T) {
	t.Parallel()
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("SleepContext: %v", err)
	}
}
