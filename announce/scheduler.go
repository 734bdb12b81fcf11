// Package announce owns the scheduled-announcement engine: per-account send
// cadence that survives restarts, and the failure circuit breaker that pauses a
// misbehaving connection.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/telemetry"
)

// Announcement is one persisted template message. A zero LastSentAt means the
// message has never been sent.
type Announcement struct {
	ID         string
	Name       string
	Message    string
	Interval   time.Duration
	Enabled    bool
	LastSentAt time.Time
}

// Store is the persistence collaborator contract for announcements.
type Store interface {
	ListAnnouncements(ctx context.Context, accountID string) ([]Announcement, error)
	UpdateAnnouncementLastSent(ctx context.Context, accountID, id string, t time.Time) error
}

// VarsFunc supplies the live account variables templates are rendered against.
type VarsFunc func(ctx context.Context) map[string]string

type entry struct {
	name      string
	message   string
	interval  time.Duration
	nextRunAt time.Time
	failCount int
}

// Scheduler drives one account's announcement cadence. It keeps exactly one
// pending timer armed at the soonest nextRunAt across all enabled messages.
// Start, Stop, and Refresh are idempotent; Stop forgets failure counts so a
// fresh Start begins counting at zero.
type Scheduler struct {
	AccountID string
	Transport command.Transport
	Store     Store
	Vars      VarsFunc

	// OnConnectionDown fires exactly once when consecutive send failures for one
	// message reach FailLimit. The callback owns the account-wide pause.
	OnConnectionDown func(reason string)

	FailLimit int
	MinDelay  time.Duration

	now func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
	timer   *time.Timer
	stopped bool
}

// NewScheduler builds a scheduler with the configured failure limit and minimum
// re-arm delay.
func NewScheduler(accountID string, store Store, transport command.Transport, failLimit int, minDelay time.Duration) *Scheduler {
	if failLimit < 1 {
		failLimit = 2
	}
	if minDelay <= 0 {
		minDelay = 5 * time.Second
	}
	return &Scheduler{
		AccountID: accountID,
		Store:     store,
		Transport: transport,
		FailLimit: failLimit,
		MinDelay:  minDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start loads the account's enabled announcements, computes each first run, and
// arms the timer. A message with a persisted lastSentAt resumes its cadence at
// lastSentAt+interval; when that moment is already past, the next run collapses
// to now+interval so a restart never fires a burst.
func (s *Scheduler) Start(ctx context.Context) error {
	anns, err := s.Store.ListAnnouncements(ctx, s.AccountID)
	if err != nil {
		return fmt.Errorf("load announcements: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.stopped = false
	s.entries = make(map[string]*entry)
	now := s.now()
	for _, a := range anns {
		if !a.Enabled || a.Interval <= 0 {
			continue
		}
		s.entries[a.ID] = &entry{
			name:      a.Name,
			message:   a.Message,
			interval:  a.Interval,
			nextRunAt: bootstrapNextRun(a, now),
		}
	}
	slog.Info("announcement scheduler started",
		slog.String("account", s.AccountID),
		slog.Int("messages", len(s.entries)))
	s.armLocked()
	return nil
}

// Refresh reloads the account's announcements, keeping the cadence of entries
// whose interval is unchanged and bootstrapping the rest. Idempotent.
func (s *Scheduler) Refresh(ctx context.Context) error {
	anns, err := s.Store.ListAnnouncements(ctx, s.AccountID)
	if err != nil {
		return fmt.Errorf("load announcements: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	now := s.now()
	next := make(map[string]*entry)
	for _, a := range anns {
		if !a.Enabled || a.Interval <= 0 {
			continue
		}
		if prev, ok := s.entries[a.ID]; ok && prev.interval == a.Interval {
			prev.name = a.Name
			prev.message = a.Message
			next[a.ID] = prev
			continue
		}
		next[a.ID] = &entry{
			name:      a.Name,
			message:   a.Message,
			interval:  a.Interval,
			nextRunAt: bootstrapNextRun(a, now),
		}
	}
	s.entries = next
	s.armLocked()
	return nil
}

// Stop cancels the pending timer and forgets all per-message state, including
// failure counts. No tick runs after Stop returns. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.entries = nil
	s.stopTimerLocked()
}

// Pending reports the number of scheduled messages; used by the status endpoint.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// bootstrapNextRun implements the restart rule: resume at lastSentAt+interval,
// or now+interval when that is already past (or the message was never sent).
func bootstrapNextRun(a Announcement, now time.Time) time.Time {
	if !a.LastSentAt.IsZero() {
		if next := a.LastSentAt.Add(a.Interval); next.After(now) {
			return next
		}
	}
	return now.Add(a.Interval)
}

// tick sends every due message and re-arms the timer. Runs on the timer
// goroutine; a tick racing Stop observes stopped under the mutex and does
// nothing.
func (s *Scheduler) tick() {
	var down string

	s.mu.Lock()
	if s.stopped || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	now := s.now()
	var vars map[string]string
	if s.Vars != nil {
		vars = s.Vars(ctx)
	}
	for id, e := range s.entries {
		if e.nextRunAt.After(now) {
			continue
		}
		text := command.Render(e.message, vars)
		err := s.Transport.Send(ctx, text)
		// Retry on schedule, not faster: the slot advances on failure too.
		e.nextRunAt = e.nextRunAt.Add(e.interval)
		if !e.nextRunAt.After(now) {
			e.nextRunAt = now.Add(e.interval)
		}
		if err == nil {
			e.failCount = 0
			telemetry.AnnouncementsSent.Inc()
			if uerr := s.Store.UpdateAnnouncementLastSent(ctx, s.AccountID, id, now); uerr != nil {
				slog.Warn("persist lastSentAt failed", slog.String("account", s.AccountID), slog.Any("err", uerr))
			}
			slog.Info("announcement sent",
				slog.String("account", s.AccountID),
				slog.String("name", e.name))
			continue
		}
		e.failCount++
		telemetry.AnnouncementsFailed.Inc()
		slog.Warn("announcement send failed",
			slog.String("account", s.AccountID),
			slog.String("name", e.name),
			slog.Int("fail_count", e.failCount),
			slog.Any("err", err))
		if e.failCount >= s.FailLimit {
			down = fmt.Sprintf("announcement %q failed %d times: %v", e.name, e.failCount, err)
			s.entries = make(map[string]*entry)
			s.stopTimerLocked()
			break
		}
	}
	if down == "" {
		s.armLocked()
	}
	s.mu.Unlock()

	if down != "" {
		telemetry.AccountPauses.Inc()
		slog.Error("announcement circuit breaker tripped",
			slog.String("account", s.AccountID),
			slog.String("reason", down))
		if s.OnConnectionDown != nil {
			s.OnConnectionDown(down)
		}
	}
}

// armLocked re-arms the single timer for the minimum remaining nextRunAt,
// clamped to MinDelay. With no enabled messages left, scheduling stops entirely.
func (s *Scheduler) armLocked() {
	s.stopTimerLocked()
	if s.stopped || len(s.entries) == 0 {
		return
	}
	var soonest time.Time
	for _, e := range s.entries {
		if soonest.IsZero() || e.nextRunAt.Before(soonest) {
			soonest = e.nextRunAt
		}
	}
	d := soonest.Sub(s.now())
	if d < s.MinDelay {
		d = s.MinDelay
	}
	s.timer = time.AfterFunc(d, s.tick)
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
