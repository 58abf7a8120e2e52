package storage

import (
	"errors"
	"strings"

	logx "alarmbot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		st  Store
		err error
	)
	switch driver {
	case "", "file":
		st, err = openFile(cfg, log.With(logx.String("driver", "file")))
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log.With(logx.String("driver", "sqlite")))
	case "memory":
		st = NewMemory()
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
