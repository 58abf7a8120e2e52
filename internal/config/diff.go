package config

import (
	"reflect"
	"strings"

	logx "alarmbot/pkg/logx"
)

// Change describes what a reload altered.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// RestartRequired lists changed settings that only take effect after a
	// restart (token, storage).
	RestartRequired []string
	// Fields are safe structured attrs for logging; they never carry the token.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.token")
	}
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.poll_timeout")
	}
	if ot.Workers != nt.Workers {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.workers")
	}
	if !reflect.DeepEqual(ot, nt) {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Fields = append(ch.Fields,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Alarms != newCfg.Alarms {
		ch.Sections = append(ch.Sections, "alarms")
		ch.Fields = append(ch.Fields,
			logx.Duration("alarms.sweep_interval", newCfg.Alarms.SweepIntervalDuration()),
			logx.Duration("alarms.drop_after", newCfg.Alarms.DropAfterDuration()),
		)
		if oldCfg.Alarms.DefaultTimezone != newCfg.Alarms.DefaultTimezone ||
			oldCfg.Alarms.MaxMessageLen != newCfg.Alarms.MaxMessageLen {
			ch.RestartRequired = append(ch.RestartRequired, "alarms.default_timezone/max_message_len")
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
		ch.Fields = append(ch.Fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		ch.Sections = append(ch.Sections, "notifier")
		ch.Fields = append(ch.Fields,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if len(ch.Sections) > 0 {
		ch.Fields = append(ch.Fields, logx.String("changed", strings.Join(ch.Sections, ",")))
	}
	return ch
}
