package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"tvrecd/internal/config"
	"tvrecd/internal/eventbus"
	"tvrecd/internal/recorder"
	"tvrecd/internal/storage"
	logx "tvrecd/pkg/logx"
)

// historyEvent converts a bus event into a history record. Events that are
// not recorder lifecycle events report ok=false.
func historyEvent(e eventbus.Event) (storage.Event, bool) {
	out := storage.Event{At: e.Time, Type: e.Type, Tuner: -1}
	switch d := e.Data.(type) {
	case recorder.RecordingEvent:
		out.Task = d.Task
		out.Tuner = d.Tuner
		out.Artifact = d.Artifact
		out.Reason = d.Reason
		out.Error = d.Error
		meta := map[string]any{}
		if d.Source != "" {
			meta["source"] = d.Source
		}
		if d.Elapsed > 0 {
			meta["elapsed"] = d.Elapsed.Round(time.Second).String()
		}
		out.MetaJSON = metaJSON(meta)
	case recorder.DeviceEvent:
		out.Error = d.Error
		out.MetaJSON = metaJSON(d)
	case recorder.ReloadEvent:
		if d.Empty() {
			return storage.Event{}, false
		}
		out.MetaJSON = metaJSON(d)
	default:
		return storage.Event{}, false
	}
	return out, true
}

func metaJSON(v any) string {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// recordHistory appends recorder events to the store until ctx is done.
func recordHistory(ctx context.Context, bus eventbus.Bus, st storage.Store, log logx.Logger) {
	events, unsub := bus.Subscribe(256, recorder.EventPrefixes...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			rec, ok := historyEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := st.AppendEvent(wctx, rec); err != nil {
				log.Warn("history append failed", logx.String("type", e.Type), logx.Err(err))
			}
			cancel()
		}
	}
}

// PrintHistory writes the last n history records to w, oldest first.
func PrintHistory(ctx context.Context, cfgPath string, n int, w io.Writer) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		return storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.Recent(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintln(w, formatHistoryLine(e))
	}
	return nil
}

func formatHistoryLine(e storage.Event) string {
	var b strings.Builder
	b.WriteString(e.At.Local().Format("2006-01-02 15:04:05"))
	b.WriteString("  ")
	b.WriteString(e.Type)
	if e.Task != "" {
		b.WriteString("  " + e.Task)
	}
	if e.Tuner >= 0 && e.Task != "" {
		fmt.Fprintf(&b, "  tuner=%d", e.Tuner)
	}
	if e.Artifact != "" {
		b.WriteString("  " + filepath.Base(e.Artifact))
	}
	if e.Reason != "" {
		b.WriteString("  reason=" + e.Reason)
	}
	if e.Error != "" {
		b.WriteString("  error=" + e.Error)
	}
	if e.MetaJSON != "" {
		b.WriteString("  " + e.MetaJSON)
	}
	return b.String()
}
