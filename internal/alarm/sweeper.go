package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "alarmbot/pkg/logx"
)

// DefaultSweepInterval bounds worst-case trigger latency. Shorter intervals
// fire alarms closer to their due time at the cost of more wakeups.
const DefaultSweepInterval = 15 * time.Second

// Notifier delivers a due alarm. Failures are terminal for that occurrence.
type Notifier interface {
	Deliver(ctx context.Context, to Target, owner OwnerID, message string) error
}

// SweeperConfig controls the due-alarm sweep.
type SweeperConfig struct {
	Interval time.Duration

	// DropAfter consumes alarms overdue by more than this without delivering
	// them. Zero disables dropping.
	DropAfter time.Duration
}

// CycleReport summarizes one sweep cycle.
type CycleReport struct {
	ID          string
	At          time.Time
	Due         int
	Delivered   int
	Failed      int
	Dropped     int
	Removed     int
	Rescheduled int
	Skipped     int // changed or deleted while the delivery was in flight
	Persisted   bool
	Err         error
}

// Sweeper delivers due alarms on a fixed interval.
type Sweeper struct {
	svc   *Service
	notif Notifier
	log   logx.Logger

	mu       sync.Mutex
	cfg      SweeperConfig
	reset    chan struct{}
	onReport func(CycleReport)
}

func NewSweeper(cfg SweeperConfig, svc *Service, notif Notifier, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.DropAfter < 0 {
		cfg.DropAfter = 0
	}
	return &Sweeper{svc: svc, notif: notif, log: log, cfg: cfg, reset: make(chan struct{}, 1)}
}

// Apply swaps the sweep configuration. A running loop picks up a new
// interval before its next tick.
func (w *Sweeper) Apply(cfg SweeperConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.DropAfter < 0 {
		cfg.DropAfter = 0
	}
	w.mu.Lock()
	changed := cfg.Interval != w.cfg.Interval
	w.cfg = cfg
	w.mu.Unlock()
	if changed {
		select {
		case w.reset <- struct{}{}:
		default:
		}
	}
}

// OnCycle registers fn to receive the report of every non-empty cycle.
func (w *Sweeper) OnCycle(fn func(CycleReport)) {
	w.mu.Lock()
	w.onReport = fn
	w.mu.Unlock()
}

func (w *Sweeper) Config() SweeperConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Run sweeps once immediately, then on every interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	interval := w.Config().Interval
	w.log.Info("sweeper started", logx.Duration("interval", interval))
	w.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopped")
			return nil
		case <-w.reset:
			interval = w.Config().Interval
			ticker.Reset(interval)
			w.log.Info("sweep interval changed", logx.Duration("interval", interval))
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle: collect due alarms, deliver each outside the state
// lock, then remove or reschedule them and persist once if anything changed.
func (w *Sweeper) Sweep(ctx context.Context) CycleReport {
	cfg := w.Config()
	now := w.svc.now().UTC()
	rep := CycleReport{ID: uuid.NewString(), At: now}
	log := w.log.With(logx.String("cycle", rep.ID))

	due := w.svc.dueAsOf(now)
	rep.Due = len(due)
	if len(due) == 0 {
		return rep
	}

	done := make([]Record, 0, len(due))
deliver:
	for _, r := range due {
		if ctx.Err() != nil {
			// Undelivered alarms stay pending for the next run.
			break
		}
		late := now.Sub(r.DueAt)
		switch {
		case cfg.DropAfter > 0 && late > cfg.DropAfter:
			rep.Dropped++
			log.Warn("stale alarm occurrence dropped", logx.Int("id", int(r.ID)), logx.Int64("owner", int64(r.Owner)),
				logx.Duration("late", late), logx.String("repeat", string(r.Repeat)))
		case w.notif == nil:
			rep.Failed++
			log.Error("alarm delivery failed", logx.Int("id", int(r.ID)), logx.String("err", "no notifier"))
		default:
			if err := w.notif.Deliver(ctx, r.Target, r.Owner, r.Message); err != nil {
				if ctx.Err() != nil {
					// Interrupted by shutdown; the alarm stays pending.
					log.Info("alarm delivery interrupted", logx.Int("id", int(r.ID)), logx.Err(err))
					break deliver
				}
				rep.Failed++
				log.Warn("alarm delivery failed", logx.Int("id", int(r.ID)), logx.Int64("owner", int64(r.Owner)), logx.Err(err))
			} else {
				rep.Delivered++
			}
		}
		done = append(done, r)
	}

	ver, removed, rescheduled, skipped := w.svc.settle(done, now, log)
	rep.Removed, rep.Rescheduled, rep.Skipped = removed, rescheduled, skipped
	if ver > 0 {
		if err := w.svc.persist(context.WithoutCancel(ctx), ver); err != nil {
			rep.Err = err
		} else {
			rep.Persisted = true
		}
	}

	log.Info("sweep cycle done",
		logx.Int("due", rep.Due),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("dropped", rep.Dropped),
		logx.Int("rescheduled", rep.Rescheduled),
		logx.Int("skipped", rep.Skipped),
		logx.Bool("persisted", rep.Persisted),
	)
	w.mu.Lock()
	fn := w.onReport
	w.mu.Unlock()
	if fn != nil {
		fn(rep)
	}
	return rep
}

func (s *Service) dueAsOf(now time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DueAsOf(now)
}

// settle consumes attempted alarms. A repeating alarm moves to its next
// occurrence, delivered or not; anything else is removed and its id freed.
//
// A record that changed while its delivery was in flight is consumed only
// if its schedule (due time, repeat, target, timezone) is unchanged, so a
// message-only edit does not cause a second delivery. A rescheduled,
// retargeted or replaced record is left for a later cycle; an id reused by a
// new alarm cannot match, since new alarms are due after the sweep time.
// It returns the state version to persist, or 0 when nothing changed.
func (s *Service) settle(done []Record, now time.Time, log logx.Logger) (ver uint64, removed, rescheduled, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, seen := range done {
		cur, ok := s.store.Get(seen.Owner, seen.ID)
		if !ok || (cur.rev != seen.rev && !sameSchedule(cur, seen)) {
			skipped++
			continue
		}
		if cur.Repeat != RepeatNone {
			next, err := NextOccurrence(cur, now)
			if err == nil {
				s.rev++
				rev := s.rev
				s.store.Update(cur.Owner, cur.ID, func(r *Record) {
					r.DueAt = next
					r.rev = rev
				})
				rescheduled++
				changed = true
				continue
			}
			log.Warn("repeat reschedule failed; removing alarm", logx.Int("id", int(cur.ID)), logx.Err(err))
		}
		s.store.Remove(cur.Owner, cur.ID)
		if err := s.alloc.Release(cur.ID); err != nil {
			log.Error("id release failed", logx.Int("id", int(cur.ID)), logx.Err(err))
		}
		removed++
		changed = true
	}
	if changed {
		ver = s.bumpLocked()
	}
	return ver, removed, rescheduled, skipped
}

func sameSchedule(a, b Record) bool {
	return a.DueAt.Equal(b.DueAt) && a.Repeat == b.Repeat && a.Target == b.Target && a.Timezone == b.Timezone
}
