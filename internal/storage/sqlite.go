package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alarmbot/internal/alarm"
	logx "alarmbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const metaNextID = "next_id"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: pragmas stick and writers never contend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	return err
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (alarm.Snapshot, error) {
	if s == nil || s.db == nil {
		return alarm.Snapshot{}, ErrClosed
	}
	snap := alarm.NewSnapshot()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, due_at, message, chat_id, thread_id, timezone, repeat FROM alarms`)
	if err != nil {
		return alarm.Snapshot{}, err
	}
	for rows.Next() {
		var (
			r   alarm.Record
			due string
			rep string
		)
		if err := rows.Scan(&r.ID, &r.Owner, &due, &r.Message, &r.Target.ChatID, &r.Target.ThreadID, &r.Timezone, &rep); err != nil {
			_ = rows.Close()
			return alarm.Snapshot{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, due)
		if err != nil {
			_ = rows.Close()
			return alarm.Snapshot{}, fmt.Errorf("%w: alarm %d due_at %q", ErrCorrupt, r.ID, due)
		}
		r.DueAt = t.UTC()
		r.Repeat = alarm.Repeat(rep)
		m := snap.Alarms[r.Owner]
		if m == nil {
			m = map[alarm.ID]alarm.Record{}
			snap.Alarms[r.Owner] = m
		}
		m[r.ID] = r
	}
	if err := closeRows(rows); err != nil {
		return alarm.Snapshot{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT owner, timezone FROM user_timezones`)
	if err != nil {
		return alarm.Snapshot{}, err
	}
	for rows.Next() {
		var (
			owner alarm.OwnerID
			tz    string
		)
		if err := rows.Scan(&owner, &tz); err != nil {
			_ = rows.Close()
			return alarm.Snapshot{}, err
		}
		snap.Timezones[owner] = tz
	}
	if err := closeRows(rows); err != nil {
		return alarm.Snapshot{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT group_id, chat_id, thread_id, log_deletes FROM log_settings`)
	if err != nil {
		return alarm.Snapshot{}, err
	}
	for rows.Next() {
		var (
			g alarm.GroupID
			c alarm.GroupLogConfig
		)
		if err := rows.Scan(&g, &c.Target.ChatID, &c.Target.ThreadID, &c.LogDeletes); err != nil {
			_ = rows.Close()
			return alarm.Snapshot{}, err
		}
		snap.LogConfigs[g] = c
	}
	if err := closeRows(rows); err != nil {
		return alarm.Snapshot{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id FROM allocator_free ORDER BY id`)
	if err != nil {
		return alarm.Snapshot{}, err
	}
	for rows.Next() {
		var id alarm.ID
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return alarm.Snapshot{}, err
		}
		snap.Allocator.Free = append(snap.Allocator.Free, id)
	}
	if err := closeRows(rows); err != nil {
		return alarm.Snapshot{}, err
	}

	var next int64
	err = s.db.QueryRowContext(ctx, `SELECT value FROM allocator_meta WHERE key = ?`, metaNextID).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 1
	case err != nil:
		return alarm.Snapshot{}, err
	}
	snap.Allocator.Next = alarm.ID(next)
	snap.Normalize()
	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Save replaces every table inside one transaction.
func (s *sqliteStore) Save(ctx context.Context, snap alarm.Snapshot) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"alarms", "user_timezones", "log_settings", "allocator_free", "allocator_meta"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO alarms(id, owner, due_at, message, chat_id, thread_id, timezone, repeat) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	for _, m := range snap.Alarms {
		for _, r := range m {
			if _, err = ins.ExecContext(ctx, int64(r.ID), int64(r.Owner), r.DueAt.UTC().Format(time.RFC3339Nano),
				r.Message, r.Target.ChatID, r.Target.ThreadID, r.Timezone, string(r.Repeat)); err != nil {
				return err
			}
		}
	}
	for owner, tz := range snap.Timezones {
		if _, err = tx.ExecContext(ctx, `INSERT INTO user_timezones(owner, timezone) VALUES(?,?)`, int64(owner), tz); err != nil {
			return err
		}
	}
	for g, c := range snap.LogConfigs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO log_settings(group_id, chat_id, thread_id, log_deletes) VALUES(?,?,?,?)`,
			int64(g), c.Target.ChatID, c.Target.ThreadID, c.LogDeletes); err != nil {
			return err
		}
	}
	for _, id := range snap.Allocator.Free {
		if _, err = tx.ExecContext(ctx, `INSERT INTO allocator_free(id) VALUES(?)`, int64(id)); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO allocator_meta(key, value) VALUES(?,?)`, metaNextID, int64(snap.Allocator.Next)); err != nil {
		return err
	}
	return tx.Commit()
}
