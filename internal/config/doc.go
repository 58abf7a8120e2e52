// Package config loads the bot configuration from a JSON or YAML file,
// overlays ALARMBOT_* environment variables, validates it and hot-reloads it
// on file changes.
package config
