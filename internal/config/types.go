package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Alarms   AlarmsConfig   `json:"alarms"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids" validate:"dive,gt=0"`
	// GroupLog is the operator chat id that receives telegram log records.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Workers is the command handler pool size. Default 4.
	Workers int `json:"workers,omitempty" validate:"gte=0,lte=64"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0,lte=30"`
}

// AlarmsConfig controls the scheduling core and the sweeper.
//
// Defaults:
//   - sweep_interval: "15s"
//   - default_timezone: "UTC"
//   - max_message_len: 1000
//   - drop_after: "0s" (never drop overdue alarms)
type AlarmsConfig struct {
	SweepInterval   string `json:"sweep_interval,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
	MaxMessageLen   int    `json:"max_message_len,omitempty" validate:"gte=0,lte=4000"`
	DropAfter       string `json:"drop_after,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/alarmbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3 memory"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls alarm delivery.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty" validate:"gte=0,lte=30"`
	RetryMax      int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty" validate:"gte=0,lte=10000"`
}

const (
	DefaultSweepInterval = 15 * time.Second
	DefaultPollTimeout   = 10 * time.Second
	DefaultStorageDriver = "file"
	DefaultFilePath      = "./alarmbot_state.json"
	DefaultSQLitePath    = "./alarmbot.db"
)

// ApplyDefaults fills empty fields that have a non-zero default.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		switch c.Storage.Driver {
		case "sqlite", "sqlite3":
			c.Storage.Path = DefaultSQLitePath
		case "file":
			c.Storage.Path = DefaultFilePath
		}
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// GroupLogChatID parses telegram.group_log. ok is false when unset.
func (t TelegramConfig) GroupLogChatID() (id int64, ok bool, err error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Durations below assume Validate passed; a bad value yields the default.

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return durationOr(t.PollTimeout, DefaultPollTimeout)
}

func (a AlarmsConfig) SweepIntervalDuration() time.Duration {
	return durationOr(a.SweepInterval, DefaultSweepInterval)
}

func (a AlarmsConfig) DropAfterDuration() time.Duration { return durationOr(a.DropAfter, 0) }

func (s StorageConfig) BusyTimeoutDuration() time.Duration { return durationOr(s.BusyTimeout, 0) }

func (n NotifierConfig) RetryBaseDuration() time.Duration     { return durationOr(n.RetryBase, 0) }
func (n NotifierConfig) RetryMaxDelayDuration() time.Duration { return durationOr(n.RetryMaxDelay, 0) }
func (n NotifierConfig) SendTimeoutDuration() time.Duration   { return durationOr(n.SendTimeout, 0) }

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
