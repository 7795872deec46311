package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tvrecd/internal/eventbus"
	"tvrecd/internal/recorder"
	"tvrecd/internal/storage"
	kit "tvrecd/internal/transport"
	logx "tvrecd/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	to    []kit.ChatTarget
	fails int
	ch    chan string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan string, 16)}
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	if r.fails > 0 {
		r.fails--
		r.mu.Unlock()
		return errors.New("telegram: 502")
	}
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	r.mu.Unlock()
	r.ch <- text
	return nil
}

func (r *recordingSender) wait(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
		return ""
	}
}

func (r *recordingSender) expectNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected send: %q", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		ChatID:      42,
		ThreadID:    7,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Hour,
	}
}

func startService(t *testing.T, cfg Config, sender kit.Sender, bus eventbus.Bus, st storage.Store) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus, st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifySendsToConfiguredChat(t *testing.T) {
	snd := newRecordingSender()
	s := startService(t, testConfig(), snd, nil, nil)

	if err := s.Notify(context.Background(), Message{Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := snd.wait(t); got != "hello" {
		t.Fatalf("sent %q", got)
	}
	snd.mu.Lock()
	to := snd.to[0]
	snd.mu.Unlock()
	if to.ChatID != 42 || to.ThreadID != 7 {
		t.Fatalf("target = %+v", to)
	}
	if h := s.History(); len(h) != 1 || h[0].Text != "hello" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDedupByKey(t *testing.T) {
	snd := newRecordingSender()
	s := startService(t, testConfig(), snd, nil, nil)
	ctx := context.Background()

	_ = s.Notify(ctx, Message{Key: "start_failed:news", Text: "first"})
	snd.wait(t)
	_ = s.Notify(ctx, Message{Key: "start_failed:news", Text: "second"})
	snd.expectNone(t)

	_ = s.Notify(ctx, Message{Key: "start_failed:other", Text: "third"})
	if got := snd.wait(t); got != "third" {
		t.Fatalf("sent %q", got)
	}
}

func TestNotifyDedupSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.PersistDedup = true
	snd := newRecordingSender()
	first := New(cfg, snd, logx.Nop(), nil, st)
	first.Start(context.Background())
	_ = first.Notify(context.Background(), Message{Key: "start_failed:news", Text: "x"})
	snd.wait(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	first.Stop(ctx)
	cancel()

	if _, ok, _ := st.GetDedup(context.Background(), "start_failed:news"); !ok {
		t.Fatal("dedup entry not persisted")
	}

	second := startService(t, cfg, snd, nil, st)
	_ = second.Notify(context.Background(), Message{Key: "start_failed:news", Text: "x"})
	snd.expectNone(t)
}

func TestNotifyRetries(t *testing.T) {
	snd := newRecordingSender()
	snd.fails = 2
	s := startService(t, testConfig(), snd, nil, nil)
	_ = s.Notify(context.Background(), Message{Text: "eventually"})
	if got := snd.wait(t); got != "eventually" {
		t.Fatalf("sent %q", got)
	}
}

func TestNotifyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, newRecordingSender(), logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestConsumeFiltersAndFormats(t *testing.T) {
	bus := eventbus.New()
	cfg := testConfig()
	cfg.Events = []string{recorder.EventStartFailed}
	snd := newRecordingSender()
	s := startService(t, cfg, snd, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Consume(ctx, bus)
	}()
	defer func() {
		cancel()
		<-done
	}()
	// Give Consume time to subscribe.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(eventbus.Event{Type: recorder.EventRecordingStarted, Data: recorder.RecordingEvent{Task: "news", Tuner: 0}})
	bus.Publish(eventbus.Event{Type: recorder.EventStartFailed, Data: recorder.RecordingEvent{Task: "news", Source: "CBS", Error: "lock failed"}})

	got := snd.wait(t)
	if !strings.Contains(got, "news") || !strings.Contains(got, "lock failed") {
		t.Fatalf("sent %q", got)
	}
	snd.expectNone(t)
}

func TestFormat(t *testing.T) {
	msg, ok := Format(eventbus.Event{Type: recorder.EventStartFailed, Data: recorder.RecordingEvent{Task: "news"}})
	if !ok || msg.Key != "start_failed:news" {
		t.Fatalf("start_failed = %+v %v", msg, ok)
	}
	msg, ok = Format(eventbus.Event{Type: recorder.EventRecordingStopped, Data: recorder.RecordingEvent{
		Task: "news", Reason: recorder.ReasonStale, Elapsed: 90 * time.Second, Error: "artifact stalled",
	}})
	if !ok || !strings.Contains(msg.Text, "1m30s") || !strings.Contains(msg.Text, "stale") {
		t.Fatalf("stopped = %+v", msg)
	}
	if _, ok := Format(eventbus.Event{Type: recorder.EventDefinitionsReloaded, Data: recorder.ReloadEvent{}}); ok {
		t.Fatal("empty reload should not notify")
	}
	msg, ok = Format(eventbus.Event{Type: recorder.EventDefinitionsReloaded, Data: recorder.ReloadEvent{Added: []string{"a"}, Removed: []string{"b"}}})
	if !ok || !strings.Contains(msg.Text, "added a") || !strings.Contains(msg.Text, "removed b") {
		t.Fatalf("reload = %+v", msg)
	}
	if _, ok := Format(eventbus.Event{Type: "notifier.sent", Data: NotificationEvent{}}); ok {
		t.Fatal("unknown event should not format")
	}
}

func TestRetryBackOffBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	b := newRetryBackOff(cfg)
	for attempt := 1; attempt <= 8; attempt++ {
		d := b.NextBackOff()
		if d <= 0 || d > cfg.RetryMaxDelay*13/10 {
			t.Fatalf("attempt %d: delay %s out of range", attempt, d)
		}
		if attempt == 1 && (d < 70*time.Millisecond || d > 130*time.Millisecond) {
			t.Fatalf("first delay %s, want about RetryBase", d)
		}
	}
}
