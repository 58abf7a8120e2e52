package alarm

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	logx "alarmbot/pkg/logx"
)

// Gateway loads and saves the full scheduling state atomically.
type Gateway interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Config controls Service validation.
type Config struct {
	DefaultTimezone string
	MaxMessageLen   int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// CreateRequest carries an already-parsed alarm request.
type CreateRequest struct {
	Owner    OwnerID
	DueAt    time.Time
	Message  string
	Target   Target
	Timezone string // empty means the owner's preference
	Repeat   Repeat
}

// EditRequest is a partial update; nil fields are left unchanged.
type EditRequest struct {
	DueAt   *time.Time
	Message *string
	Repeat  *Repeat
}

// Service is the scheduling facade.
//
// Every mutating method persists before returning. If the save fails the
// in-memory change stays applied and the method returns an error with
// CodePersistence; the next successful save includes it.
type Service struct {
	mu        sync.Mutex
	store     *Store
	alloc     *Allocator
	timezones map[OwnerID]string
	logCfgs   map[GroupID]GroupLogConfig
	rev       uint64 // record revision counter
	version   uint64 // bumped on every state change

	// saveMu serializes writes; savedVersion is the newest version on disk.
	saveMu       sync.Mutex
	savedVersion uint64

	gw  Gateway
	cfg Config
	now func() time.Time
	log logx.Logger
}

func NewService(cfg Config, gw Gateway, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.DefaultTimezone) == "" {
		cfg.DefaultTimezone = DefaultTimezone
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     NewStore(),
		alloc:     NewAllocator(),
		timezones: map[OwnerID]string{},
		logCfgs:   map[GroupID]GroupLogConfig{},
		gw:        gw,
		cfg:       cfg,
		now:       now,
		log:       log,
	}
}

// Load replaces in-memory state with the gateway's snapshot. A gateway error
// is logged and leaves the service empty; it is never fatal.
func (s *Service) Load(ctx context.Context) int {
	if s.gw == nil {
		return 0
	}
	snap, err := s.gw.Load(ctx)
	if err != nil {
		s.log.Warn("state load failed; starting empty", logx.Err(err))
		snap = NewSnapshot()
	}
	snap.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.store = NewStore()
	s.timezones = map[OwnerID]string{}
	s.logCfgs = map[GroupID]GroupLogConfig{}

	dropped := 0
	seen := map[ID]struct{}{}
	for owner, m := range snap.Alarms {
		for id, r := range m {
			if _, dup := seen[id]; dup || id < 1 || r.DueAt.IsZero() {
				dropped++
				continue
			}
			seen[id] = struct{}{}
			r.ID, r.Owner = id, owner
			r.DueAt = r.DueAt.UTC()
			if _, err := time.LoadLocation(r.Timezone); err != nil || r.Timezone == "" {
				r.Timezone = s.cfg.DefaultTimezone
			}
			s.rev++
			r.rev = s.rev
			s.store.Put(r)
		}
	}
	for owner, tz := range snap.Timezones {
		if _, err := time.LoadLocation(tz); err != nil {
			dropped++
			continue
		}
		s.timezones[owner] = tz
	}
	for g, c := range snap.LogConfigs {
		s.logCfgs[g] = c
	}

	alloc, repaired := RestoreAllocator(snap.Allocator, s.store.IDs())
	s.alloc = alloc
	if repaired {
		s.log.Warn("allocator state repaired from alarm set", logx.Int("next", int(alloc.Next())), logx.Int("free", alloc.FreeCount()))
	}
	if dropped > 0 {
		s.log.Warn("invalid persisted entries dropped", logx.Int("count", dropped))
	}
	s.log.Info("state loaded",
		logx.Int("alarms", s.store.Len()),
		logx.Int("owners", s.store.Owners()),
		logx.Int("timezones", len(s.timezones)),
		logx.Int("log_configs", len(s.logCfgs)),
	)
	return s.store.Len()
}

// CreateAlarm validates req and schedules a new alarm.
func (s *Service) CreateAlarm(ctx context.Context, req CreateRequest) (Record, error) {
	msg, err := s.validMessage(req.Message)
	if err != nil {
		return Record{}, err
	}
	if req.Target.IsZero() {
		return Record{}, Errorf(CodeInvalidArgument, "delivery target required")
	}
	if req.Repeat != RepeatNone && req.Repeat != RepeatDaily && req.Repeat != RepeatWeekly {
		return Record{}, Errorf(CodeInvalidArgument, "unsupported repeat %q", req.Repeat)
	}

	s.mu.Lock()
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = s.timezoneLocked(req.Owner)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		s.mu.Unlock()
		return Record{}, wrap(CodeInvalidTimezone, err, "unknown timezone %q", tz)
	}
	now := s.now()
	if !req.DueAt.After(now) {
		s.mu.Unlock()
		return Record{}, Errorf(CodeInvalidTime, "due time %s is not after now", req.DueAt.UTC().Format(time.RFC3339))
	}

	s.rev++
	r := Record{
		ID:       s.alloc.Allocate(),
		Owner:    req.Owner,
		DueAt:    req.DueAt.UTC(),
		Message:  msg,
		Target:   req.Target,
		Timezone: tz,
		Repeat:   req.Repeat,
		rev:      s.rev,
	}
	s.store.Put(r)
	ver := s.bumpLocked()
	s.mu.Unlock()

	s.log.Debug("alarm created", logx.Int("id", int(r.ID)), logx.Int64("owner", int64(r.Owner)), logx.Time("due", r.DueAt))
	return r, s.persist(ctx, ver)
}

// ListAlarms returns the owner's alarms ordered by due time, then id.
func (s *Service) ListAlarms(owner OwnerID) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListByOwner(owner)
}

func (s *Service) GetAlarm(owner OwnerID, id ID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.store.Get(owner, id)
	if !ok {
		return Record{}, notFound(id)
	}
	return r, nil
}

// EditAlarm changes the due time, message and/or repeat rule of an alarm.
// The record's display timezone is refreshed to the owner's current one.
func (s *Service) EditAlarm(ctx context.Context, owner OwnerID, id ID, req EditRequest) (Record, error) {
	if req.DueAt == nil && req.Message == nil && req.Repeat == nil {
		return Record{}, Errorf(CodeInvalidArgument, "nothing to change")
	}
	var msg string
	if req.Message != nil {
		m, err := s.validMessage(*req.Message)
		if err != nil {
			return Record{}, err
		}
		msg = m
	}
	if req.Repeat != nil {
		switch *req.Repeat {
		case RepeatNone, RepeatDaily, RepeatWeekly:
		default:
			return Record{}, Errorf(CodeInvalidArgument, "unsupported repeat %q", *req.Repeat)
		}
	}

	s.mu.Lock()
	if _, ok := s.store.Get(owner, id); !ok {
		s.mu.Unlock()
		return Record{}, notFound(id)
	}
	if req.DueAt != nil && !req.DueAt.After(s.now()) {
		s.mu.Unlock()
		return Record{}, Errorf(CodeInvalidTime, "due time %s is not after now", req.DueAt.UTC().Format(time.RFC3339))
	}
	tz := s.timezoneLocked(owner)
	s.rev++
	rev := s.rev
	r, _ := s.store.Update(owner, id, func(r *Record) {
		if req.DueAt != nil {
			r.DueAt = req.DueAt.UTC()
		}
		if req.Message != nil {
			r.Message = msg
		}
		if req.Repeat != nil {
			r.Repeat = *req.Repeat
		}
		r.Timezone = tz
		r.rev = rev
	})
	ver := s.bumpLocked()
	s.mu.Unlock()

	s.log.Debug("alarm edited", logx.Int("id", int(id)), logx.Int64("owner", int64(owner)))
	return r, s.persist(ctx, ver)
}

// DeleteAlarm removes an alarm and releases its id.
func (s *Service) DeleteAlarm(ctx context.Context, owner OwnerID, id ID) (Record, error) {
	s.mu.Lock()
	r, ok := s.store.Remove(owner, id)
	if !ok {
		s.mu.Unlock()
		return Record{}, notFound(id)
	}
	if err := s.alloc.Release(id); err != nil {
		s.mu.Unlock()
		s.log.Error("id release failed", logx.Int("id", int(id)), logx.Err(err))
		return r, err
	}
	ver := s.bumpLocked()
	s.mu.Unlock()

	s.log.Debug("alarm deleted", logx.Int("id", int(id)), logx.Int64("owner", int64(owner)))
	return r, s.persist(ctx, ver)
}

// SetTimezone stores the owner's display timezone. Unknown names fail with
// CodeInvalidTimezone and change nothing.
func (s *Service) SetTimezone(ctx context.Context, owner OwnerID, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return Errorf(CodeInvalidTimezone, "timezone required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return wrap(CodeInvalidTimezone, err, "unknown timezone %q", tz)
	}
	s.mu.Lock()
	s.timezones[owner] = tz
	ver := s.bumpLocked()
	s.mu.Unlock()
	return s.persist(ctx, ver)
}

// Timezone returns the owner's timezone, or the default when never set.
func (s *Service) Timezone(owner OwnerID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timezoneLocked(owner)
}

// SetLogChannel points a group's audit log at target. A new config starts
// with delete logging enabled.
func (s *Service) SetLogChannel(ctx context.Context, group GroupID, target Target) (GroupLogConfig, error) {
	if target.IsZero() {
		return GroupLogConfig{}, Errorf(CodeInvalidArgument, "log target required")
	}
	s.mu.Lock()
	c, ok := s.logCfgs[group]
	if !ok {
		c.LogDeletes = true
	}
	c.Target = target
	s.logCfgs[group] = c
	ver := s.bumpLocked()
	s.mu.Unlock()
	return c, s.persist(ctx, ver)
}

// ToggleDeleteLogging flips delete logging for group and returns the new value.
func (s *Service) ToggleDeleteLogging(ctx context.Context, group GroupID) (bool, error) {
	s.mu.Lock()
	c, ok := s.logCfgs[group]
	if !ok {
		s.mu.Unlock()
		return false, Errorf(CodeNotFound, "no log channel configured")
	}
	c.LogDeletes = !c.LogDeletes
	s.logCfgs[group] = c
	ver := s.bumpLocked()
	s.mu.Unlock()
	return c.LogDeletes, s.persist(ctx, ver)
}

func (s *Service) LogConfig(group GroupID) (GroupLogConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.logCfgs[group]
	return c, ok
}

// Flush saves the current state if anything changed since the last save.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	ver := s.version
	s.mu.Unlock()
	return s.persist(ctx, ver)
}

// Stats is a point-in-time summary for logs and status output.
type Stats struct {
	Alarms   int
	Owners   int
	NextID   ID
	FreeIDs  int
	Version  uint64
	SavedVer uint64
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Alarms:  s.store.Len(),
		Owners:  s.store.Owners(),
		NextID:  s.alloc.Next(),
		FreeIDs: s.alloc.FreeCount(),
		Version: s.version,
	}
	s.mu.Unlock()
	s.saveMu.Lock()
	st.SavedVer = s.savedVersion
	s.saveMu.Unlock()
	return st
}

func (s *Service) timezoneLocked(owner OwnerID) string {
	if tz, ok := s.timezones[owner]; ok && tz != "" {
		return tz
	}
	return s.cfg.DefaultTimezone
}

func (s *Service) bumpLocked() uint64 {
	s.version++
	return s.version
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		Alarms:     s.store.Export(),
		Timezones:  make(map[OwnerID]string, len(s.timezones)),
		LogConfigs: make(map[GroupID]GroupLogConfig, len(s.logCfgs)),
		Allocator:  s.alloc.State(),
	}
	for k, v := range s.timezones {
		snap.Timezones[k] = v
	}
	for k, v := range s.logCfgs {
		snap.LogConfigs[k] = v
	}
	return snap
}

// persist writes the latest state unless a save covering ver already
// completed. Concurrent callers coalesce into fewer writes.
func (s *Service) persist(ctx context.Context, ver uint64) error {
	if s.gw == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if ver <= s.savedVersion {
		return nil
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	cur := s.version
	s.mu.Unlock()

	start := time.Now()
	if err := s.gw.Save(ctx, snap); err != nil {
		s.log.Error("state save failed", logx.Err(err), logx.Uint64("version", cur))
		return wrap(CodePersistence, err, "state could not be saved")
	}
	s.savedVersion = cur
	s.log.Trace("state saved", logx.Uint64("version", cur), logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) validMessage(m string) (string, error) {
	m = strings.TrimSpace(m)
	if m == "" {
		return "", Errorf(CodeInvalidArgument, "message required")
	}
	if n := utf8.RuneCountInString(m); n > s.cfg.MaxMessageLen {
		return "", Errorf(CodeInvalidArgument, "message too long (%d > %d characters)", n, s.cfg.MaxMessageLen)
	}
	return m, nil
}

func notFound(id ID) error {
	return Errorf(CodeNotFound, "alarm %d not found", id)
}
