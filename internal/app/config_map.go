package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"tvrecd/internal/config"
	"tvrecd/internal/device"
	"tvrecd/internal/health"
	"tvrecd/internal/notifier"
	"tvrecd/internal/recorder"
	"tvrecd/internal/storage"
	logx "tvrecd/pkg/logx"
)

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDeviceOptions(cfg *Config) (device.CLIOptions, error) {
	d := cfg.Device
	timeout, err := parseDurationOrDefault("device.command_timeout", d.CommandTimeout, 10*time.Second)
	if err != nil {
		return device.CLIOptions{}, err
	}
	breakerTimeout, err := parseDurationOrDefault("device.breaker_timeout", d.BreakerTimeout, 30*time.Second)
	if err != nil {
		return device.CLIOptions{}, err
	}
	return device.CLIOptions{
		Binary:          strings.TrimSpace(d.Controller),
		DeviceID:        strings.TrimSpace(d.ID),
		Timeout:         timeout,
		BreakerFailures: d.BreakerFailures,
		BreakerTimeout:  breakerTimeout,
	}, nil
}

// recorderSettings is everything the recorder loop needs from config.
type recorderSettings struct {
	Options      recorder.Options
	GrowthSample time.Duration
	Extension    string
}

func mapRecorderSettings(cfg *Config) (recorderSettings, error) {
	r := cfg.Recorder
	var out recorderSettings
	var err error

	o := &out.Options
	o.Tuners = cfg.Device.Tuners
	if o.Tick, err = parseDurationOrDefault("recorder.tick", r.Tick, time.Second); err != nil {
		return out, err
	}
	if o.HealthInterval, err = parseDurationOrDefault("recorder.health_interval", r.HealthInterval, config.DefaultHealthInterval); err != nil {
		return out, err
	}
	if o.ProbeInterval, err = parseDurationOrDefault("device.probe_interval", cfg.Device.ProbeInterval, config.DefaultProbeInterval); err != nil {
		return out, err
	}
	if o.RecoveryDelay, err = parseDurationOrDefault("device.recovery_delay", cfg.Device.RecoveryDelay, 10*time.Second); err != nil {
		return out, err
	}
	if out.GrowthSample, err = parseDurationOrDefault("recorder.growth_sample", r.GrowthSample, health.DefaultSample); err != nil {
		return out, err
	}
	if o.Location, err = loadLocation(r.Timezone); err != nil {
		return out, err
	}

	out.Extension = strings.TrimSpace(r.Extension)
	if out.Extension == "" {
		out.Extension = ".ts"
	}
	if !strings.HasPrefix(out.Extension, ".") {
		out.Extension = "." + out.Extension
	}
	return out, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("recorder.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapChannels(cfg *Config) map[string]device.TuneParams {
	out := make(map[string]device.TuneParams, len(cfg.Channels))
	for key, ch := range cfg.Channels {
		out[strings.TrimSpace(key)] = device.TuneParams{Channel: ch.Channel, Program: ch.Program}
	}
	return out
}

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig never returns the token; the sender is built separately.
func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil || !n.Enabled {
		return notifier.Config{}, nil
	}
	if n.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	for _, e := range n.Events {
		if !slices.Contains(notifier.DefaultEvents, e) {
			return notifier.Config{}, fmt.Errorf("notifier.events: unknown event %q", e)
		}
	}
	return notifier.Config{
		Enabled:      true,
		ChatID:       n.ChatID,
		ThreadID:     n.ThreadID,
		Events:       n.Events,
		RatePerSec:   n.RatePerSec,
		RetryMax:     3,
		DedupWindow:  30 * time.Minute,
		PersistDedup: true,
	}, nil
}

func notifierToken(cfg *Config) string {
	if cfg.Notifier == nil || !cfg.Notifier.Enabled {
		return ""
	}
	return strings.TrimSpace(cfg.Notifier.Token)
}
