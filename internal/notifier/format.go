package notifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"tvrecd/internal/eventbus"
	"tvrecd/internal/recorder"
	logx "tvrecd/pkg/logx"
)

// DefaultEvents are forwarded when Config.Events is empty.
var DefaultEvents = []string{
	recorder.EventRecordingStarted,
	recorder.EventRecordingStopped,
	recorder.EventStartFailed,
	recorder.EventDeviceLost,
	recorder.EventDeviceRecovered,
	recorder.EventDefinitionsReloaded,
}

// Consume forwards bus events to Notify until ctx is done.
func (s *Service) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64, recorder.EventPrefixes...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !s.wants(e.Type) {
				continue
			}
			msg, ok := Format(e)
			if !ok {
				continue
			}
			err := s.Notify(ctx, msg)
			if err != nil && !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrStopped) {
				s.log.Warn("notify failed", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

func (s *Service) wants(typ string) bool {
	s.mu.Lock()
	events := s.cfg.Events
	s.mu.Unlock()
	if len(events) == 0 {
		events = DefaultEvents
	}
	return slices.Contains(events, typ)
}

// Format renders a recorder event as a chat message. Unknown event types
// report ok=false.
func Format(e eventbus.Event) (Message, bool) {
	switch d := e.Data.(type) {
	case recorder.RecordingEvent:
		switch e.Type {
		case recorder.EventRecordingStarted:
			return Message{Text: fmt.Sprintf("● Recording %s on tuner %d\n%s", d.Task, d.Tuner, filepath.Base(d.Artifact))}, true
		case recorder.EventRecordingStopped:
			text := fmt.Sprintf("■ Stopped %s after %s (%s)", d.Task, d.Elapsed.Round(time.Second), d.Reason)
			if d.Error != "" {
				text += "\n" + d.Error
			}
			return Message{Text: text}, true
		case recorder.EventStartFailed:
			// One alert per task per dedup window, however often it retries.
			return Message{
				Key:  "start_failed:" + d.Task,
				Text: fmt.Sprintf("⚠ Cannot start %s (%s)\n%s", d.Task, d.Source, d.Error),
			}, true
		}
	case recorder.DeviceEvent:
		switch e.Type {
		case recorder.EventDeviceLost:
			text := "⚠ Tuner device unreachable"
			if len(d.Stopped) > 0 {
				text += "; stopped " + strings.Join(d.Stopped, ", ")
			}
			return Message{Key: e.Type, Text: text}, true
		case recorder.EventDeviceRecovered:
			return Message{Text: fmt.Sprintf("✓ Tuner device back after %s", d.Down.Round(time.Second))}, true
		}
	case recorder.ReloadEvent:
		if e.Type != recorder.EventDefinitionsReloaded || d.Empty() {
			return Message{}, false
		}
		var parts []string
		if len(d.Added) > 0 {
			parts = append(parts, "added "+strings.Join(d.Added, ", "))
		}
		if len(d.Updated) > 0 {
			parts = append(parts, "updated "+strings.Join(d.Updated, ", "))
		}
		if len(d.Removed) > 0 {
			parts = append(parts, "removed "+strings.Join(d.Removed, ", "))
		}
		text := "↻ Definitions reloaded: " + strings.Join(parts, "; ")
		if len(d.Invalid) > 0 {
			text += "\ninvalid: " + strings.Join(d.Invalid, ", ")
		}
		return Message{Text: text}, true
	}
	return Message{}, false
}
