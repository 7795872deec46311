package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled  bool
	ChatID   int64
	ThreadID int

	// Events limits which bus event types are forwarded; empty means all
	// recording and device events.
	Events []string

	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Message is one outbound notification.
type Message struct {
	// Key groups repeated messages for dedup; empty means the text hash.
	Key  string
	Text string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	ChatID int64     `json:"chat_id"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
