package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"alarmbot/internal/alarm"
	logx "alarmbot/pkg/logx"
)

const fileFormatVersion = 1

// fileStore keeps the whole snapshot in one JSON document at path.
//
// Saves write <path>.tmp-*, fsync it, rename it over path and fsync the
// directory, so a crash leaves either the old or the new document.
type fileStore struct {
	log  logx.Logger
	path string
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

type fileDocument struct {
	Version    int                                    `json:"version"`
	SavedAt    time.Time                              `json:"saved_at"`
	Alarms     []alarm.Record                         `json:"alarms"`
	Timezones  map[alarm.OwnerID]string               `json:"timezones"`
	LogConfigs map[alarm.GroupID]alarm.GroupLogConfig `json:"log_configs"`
	Allocator  alarm.AllocatorState                   `json:"allocator"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, now: time.Now}, nil
}

func (s *fileStore) Driver() string { return "file" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Load reads the document. A missing file is an empty state. An unreadable
// one is renamed to <path>.corrupt-<timestamp> and reported as ErrCorrupt.
func (s *fileStore) Load(ctx context.Context) (alarm.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return alarm.Snapshot{}, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return alarm.NewSnapshot(), nil
	}
	if err != nil {
		return alarm.Snapshot{}, err
	}

	snap, derr := decodeDocument(b)
	if derr == nil {
		return snap, nil
	}
	aside := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, aside); err != nil {
		s.log.Error("corrupt state file could not be moved aside", logx.String("path", s.path), logx.Err(err))
	} else {
		s.log.Warn("corrupt state file moved aside", logx.String("path", aside), logx.Err(derr))
	}
	return alarm.Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, derr)
}

func decodeDocument(b []byte) (alarm.Snapshot, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return alarm.Snapshot{}, errors.New("empty document")
	}
	var doc fileDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return alarm.Snapshot{}, err
	}
	if doc.Version != fileFormatVersion {
		return alarm.Snapshot{}, fmt.Errorf("unsupported format version %d", doc.Version)
	}
	snap := alarm.NewSnapshot()
	for _, r := range doc.Alarms {
		m := snap.Alarms[r.Owner]
		if m == nil {
			m = map[alarm.ID]alarm.Record{}
			snap.Alarms[r.Owner] = m
		}
		m[r.ID] = r
	}
	for k, v := range doc.Timezones {
		snap.Timezones[k] = v
	}
	for k, v := range doc.LogConfigs {
		snap.LogConfigs[k] = v
	}
	snap.Allocator = doc.Allocator
	snap.Normalize()
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap alarm.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := fileDocument{
		Version:    fileFormatVersion,
		SavedAt:    s.now().UTC(),
		Alarms:     make([]alarm.Record, 0, snap.AlarmCount()),
		Timezones:  snap.Timezones,
		LogConfigs: snap.LogConfigs,
		Allocator:  snap.Allocator,
	}
	for _, m := range snap.Alarms {
		for _, r := range m {
			doc.Alarms = append(doc.Alarms, r)
		}
	}
	sort.Slice(doc.Alarms, func(i, j int) bool { return doc.Alarms[i].ID < doc.Alarms[j].ID })

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(s.path, append(b, '\n'))
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	tmp = ""

	// Make the rename itself durable. Not every platform can fsync a dir.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
