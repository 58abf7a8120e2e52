package alarm

import (
	"fmt"
	"strings"
	"time"
)

// ID identifies an alarm. Valid ids are >= 1.
type ID int

// OwnerID identifies the user who created an alarm.
type OwnerID int64

// GroupID identifies a group chat with audit logging.
type GroupID int64

// DefaultTimezone is used for owners that never set a preference.
const DefaultTimezone = "UTC"

// DefaultMaxMessageLen bounds alarm message length (in runes).
const DefaultMaxMessageLen = 1000

// Target is where a notification is delivered. It is captured when the alarm
// is created and never recomputed.
type Target struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

func (t Target) IsZero() bool { return t.ChatID == 0 && t.ThreadID == 0 }

// Repeat controls what happens after a due alarm is delivered.
type Repeat string

const (
	RepeatNone   Repeat = ""
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// ParseRepeat accepts "", "none", "daily" and "weekly" (case-insensitive).
func ParseRepeat(s string) (Repeat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "once":
		return RepeatNone, nil
	case "daily":
		return RepeatDaily, nil
	case "weekly":
		return RepeatWeekly, nil
	default:
		return RepeatNone, Errorf(CodeInvalidArgument, "unsupported repeat %q (use daily or weekly)", s)
	}
}

// Record is one scheduled notification.
//
// DueAt is always stored in UTC. Timezone is only used for display and for
// computing the next occurrence of a repeating alarm.
type Record struct {
	ID       ID        `json:"id"`
	Owner    OwnerID   `json:"owner"`
	DueAt    time.Time `json:"due_at"`
	Message  string    `json:"message"`
	Target   Target    `json:"target"`
	Timezone string    `json:"timezone"`
	Repeat   Repeat    `json:"repeat,omitempty"`

	// rev changes on every mutation. The sweeper uses it to detect records
	// edited or replaced while a delivery was in flight.
	rev uint64
}

func (r Record) String() string {
	return fmt.Sprintf("alarm#%d(owner=%d due=%s)", r.ID, r.Owner, r.DueAt.Format(time.RFC3339))
}

// GroupLogConfig controls the audit log of one group.
type GroupLogConfig struct {
	Target     Target `json:"target"`
	LogDeletes bool   `json:"log_deletes"`
}

// AllocatorState is the serializable state of an Allocator.
type AllocatorState struct {
	Free []ID `json:"free"`
	Next ID   `json:"next"`
}

// Snapshot is the complete persisted scheduling state.
type Snapshot struct {
	Alarms     map[OwnerID]map[ID]Record  `json:"alarms"`
	Timezones  map[OwnerID]string         `json:"timezones"`
	LogConfigs map[GroupID]GroupLogConfig `json:"log_configs"`
	Allocator  AllocatorState             `json:"allocator"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Alarms:     map[OwnerID]map[ID]Record{},
		Timezones:  map[OwnerID]string{},
		LogConfigs: map[GroupID]GroupLogConfig{},
		Allocator:  AllocatorState{Next: 1},
	}
}

// Empty reports whether the snapshot holds no state at all.
func (s Snapshot) Empty() bool {
	return len(s.Alarms) == 0 && len(s.Timezones) == 0 && len(s.LogConfigs) == 0 &&
		len(s.Allocator.Free) == 0 && s.Allocator.Next <= 1
}

// Normalize allocates nil maps and fixes a zero high-water mark.
func (s *Snapshot) Normalize() {
	if s.Alarms == nil {
		s.Alarms = map[OwnerID]map[ID]Record{}
	}
	if s.Timezones == nil {
		s.Timezones = map[OwnerID]string{}
	}
	if s.LogConfigs == nil {
		s.LogConfigs = map[GroupID]GroupLogConfig{}
	}
	if s.Allocator.Next < 1 {
		s.Allocator.Next = 1
	}
}

// AlarmCount returns the number of alarms across all owners.
func (s Snapshot) AlarmCount() int {
	n := 0
	for _, m := range s.Alarms {
		n += len(m)
	}
	return n
}
