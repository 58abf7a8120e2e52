package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides (ALARMBOT_TOKEN, ...).
const EnvPrefix = "ALARMBOT"

// envOverrides are values that usually differ per deployment and should not
// live in a checked-in config file.
type envOverrides struct {
	Token         string `envconfig:"TOKEN"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overlays ALARMBOT_* environment variables onto cfg. It returns
// the names of the fields that were overridden.
func ApplyEnv(cfg *Config) ([]string, error) {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, err
	}
	var applied []string
	set := func(dst *string, v, name string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
			applied = append(applied, name)
		}
	}
	set(&cfg.Telegram.Token, env.Token, "telegram.token")
	set(&cfg.Storage.Driver, env.StorageDriver, "storage.driver")
	set(&cfg.Storage.Path, env.StoragePath, "storage.path")
	set(&cfg.Logging.Level, env.LogLevel, "logging.level")
	return applied, nil
}
