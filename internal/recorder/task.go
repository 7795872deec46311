package recorder

import (
	"time"

	"tvrecd/internal/device"
	"tvrecd/internal/recordings"
	"tvrecd/internal/schedule"
)

// Run is the runtime half of an active task. It exists only while the
// capture is running and is dropped as a whole on stop.
type Run struct {
	Tuner     int
	Artifact  string
	Handle    device.Handle
	StartedAt time.Time
	LastCheck time.Time
}

// Task is a definition plus its runtime state. A nil run is the idle
// variant; a non-nil run is the active one.
type Task struct {
	Def  recordings.Definition
	Spec schedule.Spec
	// Invalid is a standing error that keeps the task from being scheduled.
	Invalid error
	Window  schedule.Window

	// failedIn is the window whose start failure was already reported.
	failedIn schedule.Window

	run *Run
}

func newTask(e recordings.Entry) *Task {
	return &Task{Def: e.Def, Spec: e.Spec, Invalid: e.Err}
}

func (t *Task) Name() string  { return t.Def.Name }
func (t *Task) Active() bool  { return t.run != nil }
func (t *Task) State() string {
	if t.run != nil {
		return StateActive
	}
	return StateIdle
}

// Run returns a copy of the runtime fields, or nil when idle.
func (t *Task) Run() *Run {
	if t.run == nil {
		return nil
	}
	r := *t.run
	return &r
}

// activate moves idle -> active.
func (t *Task) activate(r *Run) {
	if t.run != nil {
		panic("recorder: activate on active task " + t.Def.Name)
	}
	t.run = r
	t.failedIn = schedule.Window{}
}

// deactivate moves active -> idle and returns what was running.
func (t *Task) deactivate() *Run {
	r := t.run
	t.run = nil
	return r
}

// checked records a successful health check.
func (t *Task) checked(now time.Time) {
	if t.run != nil {
		t.run.LastCheck = now
	}
}

// replace swaps in a new definition. The window is reset so it is
// recomputed; the run, if any, is carried over untouched.
func (t *Task) replace(e recordings.Entry) {
	t.Def = e.Def
	t.Spec = e.Spec
	t.Invalid = e.Err
	t.Window = schedule.Window{}
}

const (
	StateIdle   = "idle"
	StateActive = "active"
)

// Status is a read-only view of a task.
type Status struct {
	Name      string
	State     string
	Window    schedule.Window
	Tuner     int
	Artifact  string
	StartedAt time.Time
	LastCheck time.Time
	Invalid   string
}

func (t *Task) status() Status {
	st := Status{Name: t.Def.Name, State: t.State(), Window: t.Window, Tuner: -1}
	if t.Invalid != nil {
		st.Invalid = t.Invalid.Error()
	}
	if r := t.run; r != nil {
		st.Tuner = r.Tuner
		st.Artifact = r.Artifact
		st.StartedAt = r.StartedAt
		st.LastCheck = r.LastCheck
	}
	return st
}
