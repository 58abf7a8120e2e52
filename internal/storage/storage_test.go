package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alarmbot/internal/alarm"
	logx "alarmbot/pkg/logx"
)

func sampleSnapshot() alarm.Snapshot {
	due := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	snap := alarm.NewSnapshot()
	snap.Alarms[7] = map[alarm.ID]alarm.Record{
		1: {ID: 1, Owner: 7, DueAt: due, Message: "wake up", Target: alarm.Target{ChatID: -100, ThreadID: 3}, Timezone: "Asia/Jakarta"},
		4: {ID: 4, Owner: 7, DueAt: due.Add(time.Hour), Message: "standup", Target: alarm.Target{ChatID: 7}, Timezone: "UTC", Repeat: alarm.RepeatWeekly},
	}
	snap.Alarms[8] = map[alarm.ID]alarm.Record{
		3: {ID: 3, Owner: 8, DueAt: due, Message: "hi", Target: alarm.Target{ChatID: 8}, Timezone: "UTC"},
	}
	snap.Timezones[7] = "Asia/Jakarta"
	snap.LogConfigs[-100] = alarm.GroupLogConfig{Target: alarm.Target{ChatID: -200}, LogDeletes: true}
	snap.LogConfigs[-101] = alarm.GroupLogConfig{Target: alarm.Target{ChatID: -201}}
	snap.Allocator = alarm.AllocatorState{Free: []alarm.ID{2}, Next: 5}
	return snap
}

func assertSnapshotEqual(t *testing.T, got, want alarm.Snapshot) {
	t.Helper()
	if got.AlarmCount() != want.AlarmCount() {
		t.Fatalf("alarm count = %d, want %d", got.AlarmCount(), want.AlarmCount())
	}
	for owner, m := range want.Alarms {
		for id, w := range m {
			g, ok := got.Alarms[owner][id]
			if !ok {
				t.Fatalf("missing alarm %d of owner %d", id, owner)
			}
			if !g.DueAt.Equal(w.DueAt) || g.Message != w.Message || g.Target != w.Target ||
				g.Timezone != w.Timezone || g.Repeat != w.Repeat || g.ID != w.ID || g.Owner != w.Owner {
				t.Fatalf("alarm %d = %+v, want %+v", id, g, w)
			}
		}
	}
	if len(got.Timezones) != len(want.Timezones) || got.Timezones[7] != want.Timezones[7] {
		t.Fatalf("timezones = %v, want %v", got.Timezones, want.Timezones)
	}
	for g, w := range want.LogConfigs {
		if got.LogConfigs[g] != w {
			t.Fatalf("log config %d = %+v, want %+v", g, got.LogConfigs[g], w)
		}
	}
	if got.Allocator.Next != want.Allocator.Next || len(got.Allocator.Free) != len(want.Allocator.Free) {
		t.Fatalf("allocator = %+v, want %+v", got.Allocator, want.Allocator)
	}
	for i := range want.Allocator.Free {
		if got.Allocator.Free[i] != want.Allocator.Free[i] {
			t.Fatalf("allocator free = %v, want %v", got.Allocator.Free, want.Allocator.Free)
		}
	}
}

func TestDriversRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite", "memory"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "state", "alarms.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			if st.Driver() != driver {
				t.Fatalf("Driver() = %q", st.Driver())
			}

			ctx := context.Background()
			empty, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load empty: %v", err)
			}
			if !empty.Empty() {
				t.Fatalf("fresh store not empty: %+v", empty)
			}

			want := sampleSnapshot()
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSnapshotEqual(t, got, want)

			// A second save replaces, never merges.
			delete(want.Alarms, 8)
			want.Allocator.Free = []alarm.ID{2, 3}
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save 2: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load 2: %v", err)
			}
			assertSnapshotEqual(t, got, want)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "alarms.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := sampleSnapshot()
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, got, want)
}

func TestFileCorruptMovedAside(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "alarms.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"alarms":[`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt file still in place: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "alarms.json.corrupt-") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no quarantined copy in %v", entries)
	}

	// The next save starts a fresh document.
	if err := st.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load after save: %v", err)
	}
}

func TestFileRejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "alarms.json")
	if err := os.WriteFile(path, []byte(`{"version":99}`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, _ := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if _, err := st.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "alarms.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := st.Save(context.Background(), sampleSnapshot()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dir entries = %v, want only alarms.json", entries)
	}
}

func TestGatewayRecoversServiceState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "alarms.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	svc := alarm.NewService(alarm.Config{Now: clock}, st, logx.Nop())
	svc.Load(ctx)
	a, err := svc.CreateAlarm(ctx, alarm.CreateRequest{Owner: 1, DueAt: now.Add(time.Hour), Message: "a", Target: alarm.Target{ChatID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateAlarm(ctx, alarm.CreateRequest{Owner: 1, DueAt: now.Add(2 * time.Hour), Message: "b", Target: alarm.Target{ChatID: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DeleteAlarm(ctx, 1, a.ID); err != nil {
		t.Fatal(err)
	}

	restarted := alarm.NewService(alarm.Config{Now: clock}, st, logx.Nop())
	if n := restarted.Load(ctx); n != 1 {
		t.Fatalf("Load() = %d, want 1", n)
	}
	c, err := restarted.CreateAlarm(ctx, alarm.CreateRequest{Owner: 2, DueAt: now.Add(time.Hour), Message: "c", Target: alarm.Target{ChatID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != a.ID {
		t.Fatalf("id after restart = %d, want %d", c.ID, a.ID)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
