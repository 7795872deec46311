package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tvrecd/internal/config"
	"tvrecd/internal/eventbus"
	"tvrecd/internal/recorder"
	"tvrecd/internal/storage"
	logx "tvrecd/pkg/logx"
)

const testDefs = `{
  "news":  {"schedule": {"days": ["Mon"], "start": "18:29", "end": "19:01"}, "source": "CBS"},
  "late":  {"schedule": {"days": ["Sun"], "start": "23:30", "end": "00:30"}, "source": "PBS"},
  "bogus": {"schedule": {"days": ["Someday"], "start": "10:00", "end": "11:00"}, "source": "CBS"}
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// writeConfig writes a config pointing at a definitions file in dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	defs := writeFile(t, dir, "recordings.json", testDefs)
	body := `{
  "device": {"id": "1052A5C2", "controller": "false", "tuners": 2, "recovery_delay": "50ms"},
  "recorder": {"definitions": "` + defs + `", "save_dir": "` + filepath.Join(dir, "tv") + `", "timezone": "UTC"},
  "channels": {"CBS": {"channel": 19, "program": 3}},
  "logging": {"level": "error", "console": true}` + extra + `
}`
	return writeFile(t, dir, "config.json", body)
}

func TestMapRecorderSettings(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Device.Tuners = 3
	cfg.Recorder.Extension = "mpg"
	cfg.Recorder.Timezone = "UTC"
	rs, err := mapRecorderSettings(cfg)
	if err != nil {
		t.Fatalf("mapRecorderSettings: %v", err)
	}
	if rs.Options.Tuners != 3 || rs.Options.Tick != time.Second || rs.Options.ProbeInterval != time.Minute {
		t.Fatalf("options = %+v", rs.Options)
	}
	if rs.Extension != ".mpg" || rs.GrowthSample != 1500*time.Millisecond || rs.Options.Location != time.UTC {
		t.Fatalf("settings = %+v", rs)
	}

	cfg.Recorder.Timezone = "Mars/Olympus"
	if _, err := mapRecorderSettings(cfg); err == nil {
		t.Fatal("expected timezone error")
	}
	cfg.Recorder.Timezone = ""
	cfg.Recorder.Tick = "soon"
	if _, err := mapRecorderSettings(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"absent", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "/var/lib/tvrecd/history"}, true, false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "/var/lib/tvrecd/h.db", BusyTimeout: "2s"}, true, false},
		{"no path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"unknown", &config.StorageConfig{Driver: "redis", Path: "x"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&Config{Storage: tc.sc})
			if (err != nil) != tc.wantErr || enabled != tc.enabled {
				t.Fatalf("got enabled=%v err=%v", enabled, err)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
				t.Fatalf("sqlite config = %+v", sc)
			}
		})
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	cfg := &Config{Notifier: &config.NotifierConfig{Enabled: true, Token: "t", ChatID: -100, Events: []string{recorder.EventStartFailed}}}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || !nc.Enabled || nc.ChatID != -100 || !nc.PersistDedup {
		t.Fatalf("notifier config = %+v, %v", nc, err)
	}
	cfg.Notifier.Events = []string{"recording.exploded"}
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("expected unknown event error")
	}
	if nc, _ := mapNotifierConfig(&Config{}); nc.Enabled {
		t.Fatal("absent notifier should be disabled")
	}
}

func TestCheckReportsWindowsAndProblems(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	var out bytes.Buffer
	now := time.Date(2024, 1, 1, 18, 30, 0, 0, time.UTC) // Monday
	problems, err := Check(cfgPath, &out, now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if problems != 2 {
		t.Fatalf("problems = %d, want 2\n%s", problems, out.String())
	}
	text := out.String()
	for _, want := range []string{"news", "recording now", "late", "unknown source", "bogus", "invalid"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestCheckRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"device": {}, "recorder": {}, "logging": {}}`)
	if _, err := Check(p, &bytes.Buffer{}, time.Now()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHistoryEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 19, 1, 0, 0, time.UTC)
	rec, ok := historyEvent(eventbus.Event{Type: recorder.EventRecordingStopped, Time: at, Data: recorder.RecordingEvent{
		Task: "news", Source: "CBS", Tuner: 1, Artifact: "/tv/news/News_01Jan2024.ts",
		Reason: recorder.ReasonWindowEnd, Elapsed: 32 * time.Minute,
	}})
	if !ok || rec.Task != "news" || rec.Tuner != 1 || rec.Reason != recorder.ReasonWindowEnd {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(rec.MetaJSON, `"elapsed":"32m0s"`) {
		t.Fatalf("meta = %s", rec.MetaJSON)
	}
	if _, ok := historyEvent(eventbus.Event{Type: recorder.EventDefinitionsReloaded, Data: recorder.ReloadEvent{}}); ok {
		t.Fatal("empty reload should not be recorded")
	}
	if _, ok := historyEvent(eventbus.Event{Type: "notifier.sent", Data: 1}); ok {
		t.Fatal("foreign events should not be recorded")
	}
}

func TestRecordHistoryAndPrint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	histPath := filepath.Join(dir, "history")
	cfgPath := writeConfig(t, dir, `,
  "storage": {"driver": "file", "path": "`+histPath+`"}`)

	st, err := storage.Open(storage.Config{Driver: "file", Path: histPath}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		recordHistory(ctx, bus, st, logx.Nop())
	}()
	time.Sleep(20 * time.Millisecond)

	bus.Publish(eventbus.Event{Type: recorder.EventRecordingStarted, Data: recorder.RecordingEvent{Task: "news", Tuner: 0, Artifact: "/tv/news/News_01Jan2024.ts"}})
	deadline := time.Now().Add(2 * time.Second)
	for {
		evs, _ := st.Recent(context.Background(), 10)
		if len(evs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	_ = st.Close()

	var out bytes.Buffer
	if err := PrintHistory(context.Background(), cfgPath, 5, &out); err != nil {
		t.Fatalf("PrintHistory: %v", err)
	}
	if !strings.Contains(out.String(), "recording.started  news  tuner=0  News_01Jan2024.ts") {
		t.Fatalf("history output:\n%s", out.String())
	}
}

func TestPrintHistoryWithoutStorage(t *testing.T) {
	t.Parallel()
	cfgPath := writeConfig(t, t.TempDir(), "")
	if err := PrintHistory(context.Background(), cfgPath, 5, &bytes.Buffer{}); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestStartFailsOnBrokenDefinitions(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	writeFile(t, dir, "recordings.json", "{broken")

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
}

func TestStartStopWithUnreachableDevice(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "")
	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The controller always fails, so the recorder sits in its recovery wait.
	time.Sleep(100 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.recDone:
	default:
		t.Fatal("recorder still running after Stop")
	}
}
