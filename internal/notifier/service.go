package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"alarmbot/internal/alarm"
	"alarmbot/internal/eventbus"
	kit "alarmbot/internal/transport"
	logx "alarmbot/pkg/logx"
)

var ErrNoSender = errors.New("notifier has no sender")

// Service implements alarm.Notifier on top of a transport sender.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sender  kit.Sender
	bus     eventbus.Bus
	log     logx.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64

	// sleep waits between retries; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error

	hmu     sync.Mutex
	history []HistoryItem
}

var _ alarm.Notifier = (*Service)(nil)

func New(cfg Config, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, bus: bus, log: log, sleep: sleepCtx}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	// Burst = rate so a sweep with a handful of due alarms sends at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender swaps the transport. The adapter is built after the notifier.
func (s *Service) SetSender(sender kit.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// FormatAlarm renders the chat text of a due alarm, mentioning its owner.
func FormatAlarm(owner alarm.OwnerID, message string) string {
	return fmt.Sprintf("🔔 <a href=\"tg://user?id=%d\">Reminder</a> <b>ALARM</b>: %s", owner, html.EscapeString(message))
}

// Deliver sends one alarm notification, retrying transient failures.
// A permanent transport error ends the attempt early.
func (s *Service) Deliver(ctx context.Context, to alarm.Target, owner alarm.OwnerID, message string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		s.record(to, owner, 0, ErrNoSender)
		return ErrNoSender
	}

	target := kit.ChatTarget{ChatID: to.ChatID, ThreadID: to.ThreadID}
	text := FormatAlarm(owner, message)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, target, text, opt)
		cancel()
		if err == nil {
			s.record(to, owner, attempt, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("alarm send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Int64("chat_id", to.ChatID))

		if errors.Is(err, kit.ErrPermanent) || attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		s.retries.Add(1)
		if err := s.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			break
		}
	}

	s.record(to, owner, attempt, lastErr)
	return fmt.Errorf("deliver to chat %d after %d attempt(s): %w", to.ChatID, attempt, lastErr)
}

func (s *Service) record(to alarm.Target, owner alarm.OwnerID, attempts int, err error) {
	now := time.Now()
	it := HistoryItem{At: now, ChatID: to.ChatID, Owner: int64(owner), Attempts: attempts, OK: err == nil}
	ev := DeliveryEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, Owner: int64(owner), Attempts: attempts, At: now}
	typ := eventbus.TypeAlarmDelivered
	if err != nil {
		it.Error = err.Error()
		ev.Error = err.Error()
		typ = eventbus.TypeAlarmFailed
		s.failed.Add(1)
	} else {
		s.delivered.Add(1)
	}

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) Stats() Stats {
	return Stats{Delivered: s.delivered.Load(), Failed: s.failed.Load(), Retries: s.retries.Load()}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
