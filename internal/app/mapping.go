package app

import (
	"alarmbot/internal/alarm"
	"alarmbot/internal/config"
	"alarmbot/internal/notifier"
	"alarmbot/internal/storage"
	logx "alarmbot/pkg/logx"
)

// The map* helpers translate validated config into component configs.

func mapLogging(cfg *config.Config) logx.Config {
	chatID, _, _ := cfg.Telegram.GroupLogChatID()
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

func mapAlarms(cfg *config.Config) alarm.Config {
	return alarm.Config{
		DefaultTimezone: cfg.Alarms.DefaultTimezone,
		MaxMessageLen:   cfg.Alarms.MaxMessageLen,
	}
}

func mapSweeper(cfg *config.Config) alarm.SweeperConfig {
	return alarm.SweeperConfig{
		Interval:  cfg.Alarms.SweepIntervalDuration(),
		DropAfter: cfg.Alarms.DropAfterDuration(),
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     n.RetryBaseDuration(),
		RetryMaxDelay: n.RetryMaxDelayDuration(),
		SendTimeout:   n.SendTimeoutDuration(),
		HistorySize:   n.HistorySize,
	}
}
