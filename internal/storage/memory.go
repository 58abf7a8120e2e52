package storage

import (
	"context"
	"sync"

	"alarmbot/internal/alarm"
)

// Memory keeps the last saved snapshot in process memory.
type Memory struct {
	mu    sync.Mutex
	snap  alarm.Snapshot
	saves int
}

func NewMemory() *Memory { return &Memory{snap: alarm.NewSnapshot()} }

func (m *Memory) Driver() string { return "memory" }
func (m *Memory) Close() error   { return nil }

func (m *Memory) Load(ctx context.Context) (alarm.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *Memory) Save(ctx context.Context, snap alarm.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.snap = snap
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves returns how many snapshots were written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
