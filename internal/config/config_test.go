package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "alarmbot/pkg/logx"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [1, 2]},
  "logging": {"level": "debug", "console": true},
  "alarms": {"sweep_interval": "5s", "default_timezone": "UTC", "drop_after": "24h"},
  "storage": {"driver": "sqlite", "path": "./x.db"},
  "notifier": {"rate_per_sec": 10, "retry_max": 2, "retry_base": "200ms"}
}`

const minimalYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
logging:
  level: debug
  console: true
alarms:
  sweep_interval: 5s
  default_timezone: UTC
  drop_after: 24h
storage:
  driver: sqlite
  path: ./x.db
notifier:
  rate_per_sec: 10
  retry_max: 2
  retry_base: 200ms
`

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	j, err := Decode("c.json", []byte(minimalJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	y, err := Decode("c.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if d := Diff(j, y); !d.Empty() {
		t.Fatalf("json and yaml differ in %v", d.Sections)
	}
	if j.Alarms.SweepIntervalDuration() != 5*time.Second || j.Alarms.DropAfterDuration() != 24*time.Hour {
		t.Fatalf("durations = %v %v", j.Alarms.SweepIntervalDuration(), j.Alarms.DropAfterDuration())
	}
	if j.Notifier.RetryBaseDuration() != 200*time.Millisecond || j.Notifier.SendTimeoutDuration() != 0 {
		t.Fatalf("notifier durations wrong: %+v", j.Notifier)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field": `{"telegram": {"token": "x", "tokn": "y"}}`,
		"trailing data": `{"telegram": {"token": "x"}} {}`,
		"bad json":      `{"telegram": `,
	}
	for name, in := range cases {
		if _, err := Decode("c.json", []byte(in)); err == nil {
			t.Errorf("%s: decoded", name)
		}
	}
	if _, err := Decode("c.yml", []byte("alarms:\n  bogus: 1\n")); err == nil {
		t.Errorf("yaml unknown field decoded")
	}
}

func validConfig() *Config {
	c := &Config{Telegram: TelegramConfig{Token: "123:abc", OwnerUserIDs: []int64{1}}}
	c.ApplyDefaults()
	return c
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad owner", func(c *Config) { c.Telegram.OwnerUserIDs = []int64{0} }, "owner_user_ids"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Alarms.DropAfter = "soon" }, "alarms.drop_after"},
		{"negative duration", func(c *Config) { c.Notifier.SendTimeout = "-1s" }, "notifier.send_timeout"},
		{"tiny sweep", func(c *Config) { c.Alarms.SweepInterval = "100ms" }, "alarms.sweep_interval"},
		{"bad timezone", func(c *Config) { c.Alarms.DefaultTimezone = "Mars/Base" }, "alarms.default_timezone"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "ops" }, "telegram.group_log"},
		{"telegram sink needs chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "requires telegram.group_log"},
		{"retry cap", func(c *Config) { c.Notifier.RetryMax = 99 }, "notifier.retry_max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tc.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Telegram.Token = ""
	c.Alarms.DropAfter = "bad"
	err := Validate(c)
	if err == nil || !strings.Contains(err.Error(), "alarms.drop_after") || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("errors not joined: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	c := &Config{}
	c.ApplyDefaults()
	if c.Storage.Driver != "file" || c.Storage.Path != DefaultFilePath || c.Logging.Level != "info" {
		t.Fatalf("defaults = %+v %+v", c.Storage, c.Logging)
	}
	s := &Config{Storage: StorageConfig{Driver: "sqlite"}}
	s.ApplyDefaults()
	if s.Storage.Path != DefaultSQLitePath {
		t.Fatalf("sqlite path = %q", s.Storage.Path)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ALARMBOT_TOKEN", "999:env")
	t.Setenv("ALARMBOT_STORAGE_PATH", "/var/lib/alarmbot/state.json")
	t.Setenv("ALARMBOT_LOG_LEVEL", "warn")

	c := validConfig()
	applied, err := ApplyEnv(c)
	if err != nil {
		t.Fatal(err)
	}
	if c.Telegram.Token != "999:env" || c.Storage.Path != "/var/lib/alarmbot/state.json" || c.Logging.Level != "warn" {
		t.Fatalf("config = %+v", c)
	}
	if len(applied) != 3 {
		t.Fatalf("applied = %v", applied)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := validConfig()
	b := validConfig()
	if !Diff(a, b).Empty() {
		t.Fatalf("equal configs differ")
	}
	b.Alarms.SweepInterval = "30s"
	b.Storage.Path = "./other.json"
	b.Telegram.Token = "new"
	d := Diff(a, b)
	if !d.Has("alarms") || !d.Has("storage") || !d.Has("telegram") || d.Has("logging") {
		t.Fatalf("sections = %v", d.Sections)
	}
	if len(d.RestartRequired) != 2 {
		t.Fatalf("restart = %v", d.RestartRequired)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, minimalJSON)

	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("Get = %+v", m.Get())
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if changed, err := m.Reload(); err != nil || changed {
		t.Fatalf("unchanged reload: changed=%v err=%v", changed, err)
	}

	writeFile(t, path, strings.Replace(minimalJSON, `"5s"`, `"20s"`, 1))
	if changed, err := m.Reload(); err != nil || !changed {
		t.Fatalf("reload: changed=%v err=%v", changed, err)
	}
	got := <-sub
	if got.Alarms.SweepIntervalDuration() != 20*time.Second {
		t.Fatalf("published sweep = %v", got.Alarms.SweepIntervalDuration())
	}

	writeFile(t, path, strings.Replace(minimalJSON, `"5s"`, `"nope"`, 1))
	if _, err := m.Reload(); err == nil {
		t.Fatalf("invalid config accepted")
	}
	if m.Get().Alarms.SweepIntervalDuration() != 20*time.Second {
		t.Fatalf("invalid config replaced the committed one")
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, minimalYAML)

	m := NewManager(path, logx.Nop())
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// The watcher may not be registered yet; keep rewriting until it sees one.
	deadline := time.After(8 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-sub:
			if got.Notifier.RetryMax != 5 {
				t.Fatalf("published retry_max = %d", got.Notifier.RetryMax)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			writeFile(t, path, strings.Replace(minimalYAML, "retry_max: 2", "retry_max: 5", 1))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
