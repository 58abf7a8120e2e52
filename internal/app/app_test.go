package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alarmbot/internal/alarm"
	"alarmbot/internal/config"
	kit "alarmbot/internal/transport"
)

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- kit.Update
	sent  []string
	menu  []kit.BotCommand
	sentC chan string
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{sentC: make(chan string, 16)} }

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	n := len(f.sent)
	f.mu.Unlock()
	select {
	case f.sentC <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: n}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) BotUsername() string { return "alarm_bot" }

func (f *fakeAdapter) push(up kit.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

func writeConfig(t *testing.T, dir, storagePath string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	body := `{
  "telegram": {"token": "123:abc", "owner_user_ids": [1]},
  "logging": {"level": "error"},
  "alarms": {"sweep_interval": "1s"},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(storagePath) + `"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMapping(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "x", GroupLog: "-1001"},
		Alarms:   config.AlarmsConfig{SweepInterval: "30s", DropAfter: "2h", DefaultTimezone: "Asia/Tokyo", MaxMessageLen: 200},
		Storage:  config.StorageConfig{Driver: "sqlite", BusyTimeout: "2s"},
		Notifier: config.NotifierConfig{RetryBase: "250ms", RetryMax: 3},
	}
	cfg.ApplyDefaults()

	if lc := mapLogging(cfg); lc.Telegram.ChatID != -1001 {
		t.Fatalf("log chat = %d", lc.Telegram.ChatID)
	}
	if sc := mapStorage(cfg); sc.Driver != "sqlite" || sc.Path != config.DefaultSQLitePath || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v", sc)
	}
	if wc := mapSweeper(cfg); wc.Interval != 30*time.Second || wc.DropAfter != 2*time.Hour {
		t.Fatalf("sweeper = %+v", wc)
	}
	if nc := mapNotifier(cfg); nc.RetryBase != 250*time.Millisecond || nc.RetryMax != 3 {
		t.Fatalf("notifier = %+v", nc)
	}
	if ac := mapAlarms(cfg); ac.DefaultTimezone != "Asia/Tokyo" || ac.MaxMessageLen != 200 {
		t.Fatalf("alarms = %+v", ac)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, WithAdapter(newFakeAdapter())); err == nil {
		t.Fatal("config without token accepted")
	}
}

func TestAppHandlesCommandAndFlushesOnStop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	state := filepath.Join(dir, "state.json")
	ad := newFakeAdapter()

	a, err := New(writeConfig(t, dir, state), WithAdapter(ad))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: 42, FromID: 42, FromName: "Ann", Text: "/setalarm in 2h water the plants",
	}})

	select {
	case reply := <-ad.sentC:
		if !strings.Contains(reply, "Alarm 1 set") || !strings.Contains(reply, "water the plants") {
			t.Fatalf("reply = %q", reply)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to /setalarm")
	}

	if alarms := a.Alarms().ListAlarms(42); len(alarms) != 1 {
		t.Fatalf("alarms = %+v", alarms)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}

	b, err := os.ReadFile(state)
	if err != nil {
		t.Fatalf("state file: %v", err)
	}
	if !strings.Contains(string(b), "water the plants") {
		t.Fatalf("state missing alarm: %s", b)
	}

	ad.mu.Lock()
	menu := len(ad.menu)
	ad.mu.Unlock()
	if menu == 0 {
		t.Fatal("command menu not pushed")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, filepath.Join(dir, "state.json")), WithAdapter(newFakeAdapter()))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background(), StopUnknown); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSignalStopIsNotFatal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, filepath.Join(dir, "state.json")), WithAdapter(newFakeAdapter()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := a.Reason(ctx); got != StopUnknown {
		t.Fatalf("running app reason = %q", got)
	}

	cancel()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app context not cancelled by parent")
	}
	if got := a.Reason(ctx); got != StopSignal {
		t.Fatalf("reason = %q, want %q", got, StopSignal)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, a.Reason(ctx)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err after signal stop = %v", err)
	}
}

func TestStatusTextReportsRuntime(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, filepath.Join(dir, "state.json")), WithAdapter(newFakeAdapter()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	if err := a.notif.Deliver(ctx, alarm.Target{ChatID: 42}, 42, "ping"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got := a.statusText()
	for _, want := range []string{"storage: file", "deliveries: 1 ok", "last delivery:", "to 42 after 1 attempt(s), ok", "goroutines:"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
}
