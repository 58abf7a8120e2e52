package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report json paths (telegram.token) instead of Go field names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags first, then the values tags cannot express:
// durations, the default timezone and the telegram log target.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", trimRoot(fe.Namespace()), fe.ActualTag(), redact(fe)))
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"alarms.sweep_interval", cfg.Alarms.SweepInterval},
		{"alarms.drop_after", cfg.Alarms.DropAfter},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if d := cfg.Alarms.SweepIntervalDuration(); d < time.Second {
		errs = append(errs, fmt.Errorf("alarms.sweep_interval: must be at least 1s, got %s", d))
	}

	if tz := strings.TrimSpace(cfg.Alarms.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("alarms.default_timezone: unknown timezone %q", tz))
		}
	}

	if _, ok, err := cfg.Telegram.GroupLogChatID(); err != nil {
		errs = append(errs, fmt.Errorf("telegram.group_log: chat id must be an integer: %w", err))
	} else if cfg.Logging.Telegram.Enabled && !ok {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.group_log"))
	}

	if cfg.Storage.Driver != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" && cfg.Storage.Driver != "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a config duration. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func redact(fe validator.FieldError) any {
	if fe.Field() == "token" {
		return "<redacted>"
	}
	return fe.Value()
}
