package notifier

import "time"

// Config controls delivery pacing and retries.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At       time.Time
	ChatID   int64
	Owner    int64
	Attempts int
	OK       bool
	Error    string
}

// DeliveryEvent is the event bus payload for alarm deliveries.
type DeliveryEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Owner    int64     `json:"owner"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Stats are cumulative counters since start.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Retries   uint64
}
