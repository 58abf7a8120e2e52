package storage

import (
	"errors"
	"time"

	"alarmbot/internal/alarm"
)

var (
	ErrClosed = errors.New("storage closed")

	// ErrCorrupt is returned by Load when the persisted state cannot be
	// decoded. The file driver moves the unreadable file aside first.
	ErrCorrupt = errors.New("storage: persisted state is corrupt")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is an alarm.Gateway that owns resources.
type Store interface {
	alarm.Gateway
	Driver() string
	Close() error
}
