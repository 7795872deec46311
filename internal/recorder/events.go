package recorder

import "time"

// Event types published on the bus.
const (
	EventRecordingStarted    = "recording.started"
	EventRecordingStopped    = "recording.stopped"
	EventStartFailed         = "recording.start_failed"
	EventDeviceLost          = "device.lost"
	EventDeviceRecovered     = "device.recovered"
	EventDefinitionsReloaded = "definitions.reloaded"
)

// EventPrefixes match every event type the recorder publishes.
var EventPrefixes = []string{"recording.", "device.", "definitions."}

// Stop reasons carried by EventRecordingStopped.
const (
	ReasonWindowEnd       = "window_end"
	ReasonStale           = "stale"
	ReasonDeviceLost      = "device_lost"
	ReasonScheduleChanged = "schedule_changed"
	ReasonRemoved         = "removed"
	ReasonShutdown        = "shutdown"
)

// RecordingEvent is the payload of recording.* events.
type RecordingEvent struct {
	Task      string        `json:"task"`
	Source    string        `json:"source,omitempty"`
	Tuner     int           `json:"tuner"`
	Artifact  string        `json:"artifact,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// DeviceEvent is the payload of device.* events.
type DeviceEvent struct {
	Stopped []string      `json:"stopped,omitempty"`
	Down    time.Duration `json:"down,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ReloadEvent is the payload of definitions.reloaded.
type ReloadEvent struct {
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func (r ReloadEvent) Empty() bool {
	return len(r.Added) == 0 && len(r.Updated) == 0 && len(r.Removed) == 0
}
