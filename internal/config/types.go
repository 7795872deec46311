package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "1m").
// Sections logging, channels and notifier are applied live on reload;
// the rest is read once at startup.
type Config struct {
	Device   DeviceConfig             `json:"device"`
	Recorder RecorderConfig           `json:"recorder"`
	Channels map[string]ChannelConfig `json:"channels"`
	Logging  LoggingConfig            `json:"logging"`
	Storage  *StorageConfig           `json:"storage,omitempty"`
	Notifier *NotifierConfig          `json:"notifier,omitempty"`
}

// DeviceConfig describes the tuner device and how to drive it.
//
// Defaults (when fields are omitted/zero):
//   - controller: "hdhomerun_config"
//   - tuners: 2
//   - probe_interval: "60s" (also the definitions reload cadence)
//   - recovery_delay: "10s"
//   - command_timeout: "10s"
//   - breaker_failures: 5
//   - breaker_timeout: "30s"
type DeviceConfig struct {
	ID         string `json:"id"`
	Controller string `json:"controller,omitempty"`
	Tuners     int    `json:"tuners,omitempty"`

	ProbeInterval  string `json:"probe_interval,omitempty"`
	RecoveryDelay  string `json:"recovery_delay,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`

	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerTimeout  string `json:"breaker_timeout,omitempty"`
}

// RecorderConfig controls the scheduling loop.
//
// Defaults:
//   - extension: ".ts"
//   - tick: "1s"
//   - health_interval: "15s"
//   - growth_sample: "1500ms"
//   - timezone: local time
type RecorderConfig struct {
	Definitions string `json:"definitions"`
	SaveDir     string `json:"save_dir"`
	Extension   string `json:"extension,omitempty"`

	Tick           string `json:"tick,omitempty"`
	HealthInterval string `json:"health_interval,omitempty"`
	GrowthSample   string `json:"growth_sample,omitempty"`

	// Timezone is an IANA name, e.g. "America/New_York".
	Timezone string `json:"timezone,omitempty"`
}

// ChannelConfig maps a definition's source key to tuning parameters.
type ChannelConfig struct {
	Name    string `json:"name,omitempty"`
	Channel int    `json:"channel"`
	Program int    `json:"program"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional recording history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tvrecd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls optional Telegram notifications.
//
// Events filters which event types are sent; empty means all.
// The token is never logged.
type NotifierConfig struct {
	Enabled    bool     `json:"enabled"`
	Token      string   `json:"token,omitempty"`
	ChatID     int64    `json:"chat_id"`
	ThreadID   int      `json:"thread_id,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
	Events     []string `json:"events,omitempty"`
}
