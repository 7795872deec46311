package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"tvrecd/internal/config"
	"tvrecd/internal/recordings"
	"tvrecd/internal/schedule"
)

// Check validates the config and definitions without touching the device
// and writes each task's next window to w. It returns the number of
// definitions that cannot be scheduled; err is set only when the config or
// the definitions file itself is unusable.
func Check(cfgPath string, w io.Writer, now time.Time) (int, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return 0, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return 0, err
	}
	rs, err := mapRecorderSettings(cfg)
	if err != nil {
		return 0, err
	}
	loc := rs.Options.Location
	snap, err := recordings.Load(cfg.Recorder.Definitions)
	if err != nil {
		return 0, err
	}
	channels := mapChannels(cfg)

	problems := 0
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSOURCE\tWINDOW\tNEXT START\tSTATUS")
	for _, e := range snap.Entries {
		status := "ok"
		window, next := "-", "-"
		switch {
		case e.Err != nil:
			status = "invalid: " + e.Err.Error()
		default:
			_, known := channels[e.Def.Source]
			if win, err := schedule.Resolve(e.Spec, now, loc); err != nil {
				status = "invalid: " + err.Error()
			} else {
				window = win.String()
				switch {
				case !known:
					status = "unknown source"
				case win.Contains(now):
					status = "recording now"
				}
			}
			if t, err := e.Spec.NextStart(now, loc); err == nil {
				next = t.In(loc).Format("Mon 2006-01-02 15:04")
			}
		}
		if status != "ok" && status != "recording now" {
			problems++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Def.Name, e.Def.Source, window, next, status)
	}
	if err := tw.Flush(); err != nil {
		return problems, err
	}
	return problems, nil
}
