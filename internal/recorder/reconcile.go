package recorder

import (
	"context"
	"time"

	"tvrecd/internal/recordings"
	logx "tvrecd/pkg/logx"
)

// reload loads the definitions file and merges it. A snapshot that fails
// to load leaves every task as it was.
func (s *Scheduler) reload(ctx context.Context, now time.Time) {
	snap, err := s.deps.Load()
	if err != nil {
		s.log.Warn("definitions reload failed; keeping current tasks", logx.Err(err))
		return
	}
	ch := s.Reconcile(ctx, snap, now)
	if ch.Empty() {
		return
	}
	s.log.Info("definitions reloaded",
		logx.Any("added", ch.Added),
		logx.Any("updated", ch.Updated),
		logx.Any("removed", ch.Removed),
		logx.Any("invalid", ch.Invalid),
	)
	s.publish(EventDefinitionsReloaded, ch)
}

// Reconcile merges snap into the running tasks by name:
//
//   - identical definition: nothing changes
//   - changed and idle: definition replaced, window recomputed
//   - changed and active: the run is kept, the window recomputed at once,
//     and the capture stopped if now falls outside it
//   - new name: appended as idle
//   - missing name: stopped if active, then removed
//
// Applying the same snapshot twice changes nothing the second time.
func (s *Scheduler) Reconcile(ctx context.Context, snap recordings.Snapshot, now time.Time) ReloadEvent {
	var ch ReloadEvent
	seen := make(map[string]bool, len(snap.Entries))

	for _, e := range snap.Entries {
		name := e.Def.Name
		seen[name] = true
		t := s.find(name)
		switch {
		case t == nil:
			t = newTask(e)
			s.tasks = append(s.tasks, t)
			ch.Added = append(ch.Added, name)
		case t.Def.Equal(e.Def):
			continue
		default:
			t.replace(e)
			delete(s.warn, name)
			ch.Updated = append(ch.Updated, name)
			if t.Active() {
				s.recheckActive(ctx, t, now)
			}
		}
		if t.Invalid != nil {
			ch.Invalid = append(ch.Invalid, name)
		}
	}

	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if seen[t.Def.Name] {
			kept = append(kept, t)
			continue
		}
		s.stop(ctx, t, ReasonRemoved, nil)
		delete(s.warn, t.Def.Name)
		ch.Removed = append(ch.Removed, t.Def.Name)
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept

	s.resolveIdle(now)
	return ch
}

// recheckActive recomputes the window of a running task whose definition
// just changed and stops it when now is no longer inside.
func (s *Scheduler) recheckActive(ctx context.Context, t *Task, now time.Time) {
	if t.Invalid != nil {
		s.stop(ctx, t, ReasonScheduleChanged, t.Invalid)
		return
	}
	s.resolve(t, now)
	if t.Invalid != nil || !t.Window.Contains(now) {
		s.stop(ctx, t, ReasonScheduleChanged, nil)
	}
}
