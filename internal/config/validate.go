package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxTuners bounds device.tuners. The recorder is built for a small fixed pool.
const MaxTuners = 8

const (
	DefaultHealthInterval = 15 * time.Second
	DefaultProbeInterval  = time.Minute
)

// Validate checks a config for problems that would make startup fail.
// It matches the ConfigManager validator signature.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Device.ID) == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if cfg.Device.Tuners < 0 || cfg.Device.Tuners > MaxTuners {
		errs = append(errs, fmt.Errorf("device.tuners must be between 1 and %d", MaxTuners))
	}
	if cfg.Device.BreakerFailures < 0 {
		errs = append(errs, errors.New("device.breaker_failures must be >= 0"))
	}
	if strings.TrimSpace(cfg.Recorder.Definitions) == "" {
		errs = append(errs, errors.New("recorder.definitions is required"))
	}
	if strings.TrimSpace(cfg.Recorder.SaveDir) == "" {
		errs = append(errs, errors.New("recorder.save_dir is required"))
	}
	if tz := strings.TrimSpace(cfg.Recorder.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("recorder.timezone: %w", err))
		}
	}

	durations := map[string]string{
		"device.probe_interval":    cfg.Device.ProbeInterval,
		"device.recovery_delay":    cfg.Device.RecoveryDelay,
		"device.command_timeout":   cfg.Device.CommandTimeout,
		"device.breaker_timeout":   cfg.Device.BreakerTimeout,
		"recorder.tick":            cfg.Recorder.Tick,
		"recorder.health_interval": cfg.Recorder.HealthInterval,
		"recorder.growth_sample":   cfg.Recorder.GrowthSample,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	// Unset values fall back to the recorder defaults.
	healthEvery, herr := ParseDurationOrDefault("recorder.health_interval", cfg.Recorder.HealthInterval, DefaultHealthInterval)
	probeEvery, perr := ParseDurationOrDefault("device.probe_interval", cfg.Device.ProbeInterval, DefaultProbeInterval)
	if herr == nil && perr == nil && healthEvery >= probeEvery {
		errs = append(errs, fmt.Errorf("recorder.health_interval (%s) must be shorter than device.probe_interval (%s)", healthEvery, probeEvery))
	}

	for key, ch := range cfg.Channels {
		if ch.Channel <= 0 {
			errs = append(errs, fmt.Errorf("channels.%s.channel must be > 0", key))
		}
		if ch.Program < 0 {
			errs = append(errs, fmt.Errorf("channels.%s.program must be >= 0", key))
		}
	}

	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			errs = append(errs, errors.New("notifier.token is required when notifier is enabled"))
		}
		if n.ChatID == 0 {
			errs = append(errs, errors.New("notifier.chat_id is required when notifier is enabled"))
		}
	}

	return errors.Join(errs...)
}
